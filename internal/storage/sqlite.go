package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Veraticus/tollkeeper/internal/model"
	"github.com/Veraticus/tollkeeper/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Validate input
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	// Ensure directory exists
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Open database
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite doesn't benefit from multiple connections
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTransaction{
		tx:      tx,
		storage: s,
	}, nil
}

// inTx runs fn inside a new transaction, committing on success.
func (s *SQLiteStorage) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// sqliteTransaction wraps sql.Tx to implement service.Transaction.
type sqliteTransaction struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

// Transaction methods delegate to the main storage with the transaction.
func (t *sqliteTransaction) BulkInsert(ctx context.Context, trips []model.Trip) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateTrips(trips); err != nil {
		return 0, err
	}
	return t.storage.bulkInsertTx(ctx, t.tx, trips)
}

func (t *sqliteTransaction) DeleteTripsInRange(ctx context.Context, start, end time.Time) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if end.Before(start) {
		return 0, fmt.Errorf("%w: end %v is before start %v", ErrInvalidDateRange, end, start)
	}
	return t.storage.deleteTripsInRangeTx(ctx, t.tx, start, end)
}

func (t *sqliteTransaction) GetTrips(ctx context.Context, filter service.TripFilter) ([]model.Trip, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getTripsTx(ctx, t.tx, filter)
}

func (t *sqliteTransaction) CountTrips(ctx context.Context, filter service.TripFilter) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return t.storage.countTripsTx(ctx, t.tx, filter)
}

func (t *sqliteTransaction) GetTransponders(ctx context.Context) ([]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getTranspondersTx(ctx, t.tx)
}

func (t *sqliteTransaction) GetTripStats(ctx context.Context, now time.Time) (*model.TripStats, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getTripStatsTx(ctx, t.tx, now)
}

func (t *sqliteTransaction) SaveViolations(ctx context.Context, violations []model.Violation) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateViolations(violations); err != nil {
		return 0, err
	}
	return t.storage.saveViolationsTx(ctx, t.tx, violations)
}

func (t *sqliteTransaction) ViolationTripIDs(ctx context.Context, tripIDs []int64) (map[int64]bool, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.violationTripIDsTx(ctx, t.tx, tripIDs)
}

func (t *sqliteTransaction) GetViolations(ctx context.Context, filter service.ViolationFilter) ([]model.ViolationView, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getViolationsTx(ctx, t.tx, filter)
}

func (t *sqliteTransaction) CountViolations(ctx context.Context, filter service.ViolationFilter) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return t.storage.countViolationsTx(ctx, t.tx, filter)
}

func (t *sqliteTransaction) GetViolationStats(ctx context.Context, now time.Time) (*model.ViolationStats, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getViolationStatsTx(ctx, t.tx, now)
}

func (t *sqliteTransaction) SaveSyncRun(ctx context.Context, run *model.SyncRun) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSyncRun(run); err != nil {
		return err
	}
	return t.storage.saveSyncRunTx(ctx, t.tx, run)
}

func (t *sqliteTransaction) GetLatestSyncRun(ctx context.Context) (*model.SyncRun, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getLatestSyncRunTx(ctx, t.tx)
}

func (t *sqliteTransaction) Migrate(_ context.Context) error {
	// Migrations should not be run within a transaction
	return fmt.Errorf("migrations cannot be run within a transaction")
}

func (t *sqliteTransaction) BeginTx(_ context.Context) (service.Transaction, error) {
	// Nested transactions not supported
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *sqliteTransaction) Close() error {
	// Transactions should be committed or rolled back, not closed
	return fmt.Errorf("transactions must be committed or rolled back, not closed")
}

// queryable is an interface satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

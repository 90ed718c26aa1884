package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 2

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

// Timestamps are TEXT in model.KeyTimeLayout (UTC) so natural-key equality and
// range comparisons are plain string comparisons.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS trips (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					transponder TEXT NOT NULL,
					occurred_at TEXT NOT NULL,
					location_code TEXT NOT NULL,
					road TEXT,
					vehicle_class INTEGER,
					base_tariff REAL,
					discount INTEGER,
					paid REAL,
					raw_payload TEXT,
					source TEXT NOT NULL DEFAULT 'scrape',
					created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (transponder, occurred_at, location_code)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_trips_occurred_at ON trips(occurred_at)`,
				`CREATE INDEX IF NOT EXISTS idx_trips_location_code ON trips(location_code)`,

				`CREATE TABLE IF NOT EXISTS violations (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					trip_id INTEGER NOT NULL UNIQUE,
					transponder TEXT NOT NULL,
					occurred_at TEXT NOT NULL,
					location_code TEXT NOT NULL,
					base_tariff REAL,
					reason TEXT NOT NULL,
					detected_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX IF NOT EXISTS idx_violations_occurred_at ON violations(occurred_at)`,
				`CREATE INDEX IF NOT EXISTS idx_violations_transponder ON violations(transponder)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Add sync run history",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS sync_runs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					started_at TEXT NOT NULL,
					finished_at TEXT,
					date_from TEXT NOT NULL,
					date_to TEXT NOT NULL,
					scraped INTEGER NOT NULL DEFAULT 0,
					saved INTEGER NOT NULL DEFAULT 0,
					deleted INTEGER NOT NULL DEFAULT 0,
					complete BOOLEAN NOT NULL DEFAULT 0,
					error TEXT
				)`,
				`CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	// Get current version
	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	// Apply migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		// Update version
		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	// Verify we're at the expected schema version
	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion returns the current PRAGMA user_version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

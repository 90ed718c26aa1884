package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/tollkeeper/internal/common"
	"github.com/Veraticus/tollkeeper/internal/model"
)

// SaveSyncRun records a finished sync and sets run.ID.
func (s *SQLiteStorage) SaveSyncRun(ctx context.Context, run *model.SyncRun) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSyncRun(run); err != nil {
		return err
	}
	return s.saveSyncRunTx(ctx, s.db, run)
}

func (s *SQLiteStorage) saveSyncRunTx(ctx context.Context, q queryable, run *model.SyncRun) error {
	var finished any
	if !run.FinishedAt.IsZero() {
		finished = formatTime(run.FinishedAt)
	}
	result, err := q.ExecContext(ctx, `
		INSERT INTO sync_runs (
			started_at, finished_at, date_from, date_to, scraped, saved, deleted, complete, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		formatTime(run.StartedAt),
		finished,
		run.DateFrom.Format("2006-01-02"),
		run.DateTo.Format("2006-01-02"),
		run.Scraped,
		run.Saved,
		run.Deleted,
		run.Complete,
		nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to save sync run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read sync run id: %w", err)
	}
	run.ID = id
	return nil
}

// GetLatestSyncRun returns the most recently started sync, or common.ErrNotFound.
func (s *SQLiteStorage) GetLatestSyncRun(ctx context.Context) (*model.SyncRun, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getLatestSyncRunTx(ctx, s.db)
}

func (s *SQLiteStorage) getLatestSyncRunTx(ctx context.Context, q queryable) (*model.SyncRun, error) {
	var (
		run               model.SyncRun
		started, from, to string
		finished, runErr  sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, date_from, date_to, scraped, saved, deleted, complete, error
		FROM sync_runs
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`).Scan(&run.ID, &started, &finished, &from, &to, &run.Scraped, &run.Saved, &run.Deleted, &run.Complete, &runErr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest sync run: %w", err)
	}

	if run.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if finished.Valid {
		if run.FinishedAt, err = parseTime(finished.String); err != nil {
			return nil, err
		}
	}
	if run.DateFrom, err = parseDay(from); err != nil {
		return nil, err
	}
	if run.DateTo, err = parseDay(to); err != nil {
		return nil, err
	}
	run.Error = runErr.String
	return &run, nil
}

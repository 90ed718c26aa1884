package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/tollkeeper/internal/model"
	"github.com/Veraticus/tollkeeper/internal/service"
)

// SaveViolations stores violations, ignoring any whose trip already has one.
// It returns the number of new rows.
func (s *SQLiteStorage) SaveViolations(ctx context.Context, violations []model.Violation) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateViolations(violations); err != nil {
		return 0, err
	}
	if len(violations) == 0 {
		return 0, nil
	}

	var saved int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		saved, txErr = s.saveViolationsTx(ctx, tx, violations)
		return txErr
	})
	if err != nil {
		return 0, err
	}
	return saved, nil
}

func (s *SQLiteStorage) saveViolationsTx(ctx context.Context, q queryable, violations []model.Violation) (int, error) {
	saved := 0
	for _, v := range violations {
		detected := v.DetectedAt
		if detected.IsZero() {
			detected = time.Now()
		}
		result, err := q.ExecContext(ctx, `
			INSERT OR IGNORE INTO violations (
				trip_id, transponder, occurred_at, location_code, base_tariff, reason, detected_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			v.TripID,
			v.Transponder,
			formatTime(v.OccurredAt),
			v.LocationCode,
			nullFloat(v.BaseTariff),
			v.Reason,
			formatTime(detected),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert violation for trip %d: %w", v.TripID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read insert result: %w", err)
		}
		saved += int(n)
	}
	return saved, nil
}

// ViolationTripIDs reports which of tripIDs already have a violation.
func (s *SQLiteStorage) ViolationTripIDs(ctx context.Context, tripIDs []int64) (map[int64]bool, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.violationTripIDsTx(ctx, s.db, tripIDs)
}

func (s *SQLiteStorage) violationTripIDsTx(ctx context.Context, q queryable, tripIDs []int64) (map[int64]bool, error) {
	found := make(map[int64]bool)
	const chunkSize = 500
	for start := 0; start < len(tripIDs); start += chunkSize {
		chunk := tripIDs[start:min(start+chunkSize, len(tripIDs))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")

		rows, err := q.QueryContext(ctx, `SELECT trip_id FROM violations WHERE trip_id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query violation trip ids: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("failed to scan trip id: %w", err)
			}
			found[id] = true
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return found, nil
}

// GetViolations returns violations joined with their trip's payment data, newest first.
func (s *SQLiteStorage) GetViolations(ctx context.Context, filter service.ViolationFilter) ([]model.ViolationView, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getViolationsTx(ctx, s.db, filter)
}

func (s *SQLiteStorage) getViolationsTx(ctx context.Context, q queryable, filter service.ViolationFilter) ([]model.ViolationView, error) {
	where, args := violationWhere(filter)
	query := `SELECT v.id, v.trip_id, v.transponder, v.occurred_at, v.location_code,
			v.base_tariff, v.reason, v.detected_at, t.discount, t.paid
		FROM violations v
		LEFT JOIN trips t ON t.id = v.trip_id` + where +
		` ORDER BY v.occurred_at DESC, v.id DESC` + pageClause(filter.Limit, filter.Offset)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var views []model.ViolationView
	for rows.Next() {
		var (
			view                 model.ViolationView
			occurredAt, detected string
			baseTariff, paid     sql.NullFloat64
			discount             sql.NullInt64
		)
		if err := rows.Scan(&view.ID, &view.TripID, &view.Transponder, &occurredAt, &view.LocationCode,
			&baseTariff, &view.Reason, &detected, &discount, &paid); err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		if view.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		if view.DetectedAt, err = parseTime(detected); err != nil {
			return nil, err
		}
		view.BaseTariff = floatPtr(baseTariff)
		view.Discount = intPtr(discount)
		view.Paid = floatPtr(paid)
		views = append(views, view)
	}
	return views, rows.Err()
}

// CountViolations returns the number of violations matching filter, ignoring paging.
func (s *SQLiteStorage) CountViolations(ctx context.Context, filter service.ViolationFilter) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return s.countViolationsTx(ctx, s.db, filter)
}

func (s *SQLiteStorage) countViolationsTx(ctx context.Context, q queryable, filter service.ViolationFilter) (int, error) {
	where, args := violationWhere(filter)
	var count int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM violations v`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count violations: %w", err)
	}
	return count, nil
}

// GetViolationStats counts violations today, over the last 30 days and in total,
// and sums what was paid for the 30-day window. Days are calendar days in now's location.
func (s *SQLiteStorage) GetViolationStats(ctx context.Context, now time.Time) (*model.ViolationStats, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getViolationStatsTx(ctx, s.db, now)
}

func (s *SQLiteStorage) getViolationStatsTx(ctx context.Context, q queryable, now time.Time) (*model.ViolationStats, error) {
	todayStart, todayEnd := service.DateRange{Start: now, End: now}.Bounds(now.Location())
	monthStart, _ := service.DateRange{Start: now.AddDate(0, 0, -30), End: now}.Bounds(now.Location())

	var stats model.ViolationStats
	var paidSum sql.NullFloat64
	err := q.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN v.occurred_at BETWEEN ? AND ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN v.occurred_at BETWEEN ? AND ? THEN 1 ELSE 0 END), 0),
			SUM(CASE WHEN v.occurred_at BETWEEN ? AND ? THEN t.paid END)
		FROM violations v
		LEFT JOIN trips t ON t.id = v.trip_id
	`,
		formatTime(todayStart), formatTime(todayEnd),
		formatTime(monthStart), formatTime(todayEnd),
		formatTime(monthStart), formatTime(todayEnd),
	).Scan(&stats.Total, &stats.Today, &stats.LastMonth, &paidSum)
	if err != nil {
		return nil, fmt.Errorf("failed to compute violation stats: %w", err)
	}
	stats.PaidSum = paidSum.Float64
	return &stats, nil
}

func violationWhere(filter service.ViolationFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.StartDate != nil {
		conds = append(conds, "v.occurred_at >= ?")
		args = append(args, formatTime(*filter.StartDate))
	}
	if filter.EndDate != nil {
		conds = append(conds, "v.occurred_at <= ?")
		args = append(args, formatTime(*filter.EndDate))
	}
	if filter.Transponder != "" {
		conds = append(conds, "v.transponder = ?")
		args = append(args, filter.Transponder)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

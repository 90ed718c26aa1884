package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/tollkeeper/internal/model"
	"github.com/Veraticus/tollkeeper/internal/service"
)

// keyLookupChunk bounds the natural keys per lookup query (three parameters each).
const keyLookupChunk = 250

// BulkInsert stores trips whose natural key is not yet present and returns how
// many rows were inserted. Keys already stored and repeats within the batch are
// skipped. The batch commits or fails as a whole.
func (s *SQLiteStorage) BulkInsert(ctx context.Context, trips []model.Trip) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateTrips(trips); err != nil {
		return 0, err
	}
	if len(trips) == 0 {
		return 0, nil
	}

	var inserted int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		inserted, txErr = s.bulkInsertTx(ctx, tx, trips)
		return txErr
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *SQLiteStorage) bulkInsertTx(ctx context.Context, q queryable, trips []model.Trip) (int, error) {
	if len(trips) == 0 {
		return 0, nil
	}

	keys := make([]model.NaturalKey, len(trips))
	for i := range trips {
		keys[i] = trips[i].Key()
	}

	existing, err := existingKeys(ctx, q, keys)
	if err != nil {
		return 0, err
	}

	inserted := 0
	seen := make(map[model.NaturalKey]bool, len(trips))
	for i := range trips {
		key := keys[i]
		if existing[key] || seen[key] {
			continue
		}
		seen[key] = true

		trip := &trips[i]
		payload, err := encodePayload(trip.RawPayload)
		if err != nil {
			return 0, fmt.Errorf("failed to encode raw payload for %s: %w", key, err)
		}
		source := trip.Source
		if source == "" {
			source = model.SourceScrape
		}

		result, err := q.ExecContext(ctx, `
			INSERT OR IGNORE INTO trips (
				transponder, occurred_at, location_code, road, vehicle_class,
				base_tariff, discount, paid, raw_payload, source
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			key.Transponder,
			key.OccurredAt,
			key.LocationCode,
			nullString(trip.Road),
			nullInt(trip.VehicleClass),
			nullFloat(trip.BaseTariff),
			nullInt(trip.Discount),
			nullFloat(trip.Paid),
			payload,
			string(source),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert trip %s: %w", key, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read insert result: %w", err)
		}
		inserted += int(n)
	}

	if skipped := len(trips) - inserted; skipped > 0 {
		slog.Debug("Skipped duplicate trips", "skipped", skipped, "inserted", inserted)
	}
	return inserted, nil
}

// existingKeys returns which of keys are already stored, using one row-value
// IN query per chunk.
func existingKeys(ctx context.Context, q queryable, keys []model.NaturalKey) (map[model.NaturalKey]bool, error) {
	found := make(map[model.NaturalKey]bool)
	for start := 0; start < len(keys); start += keyLookupChunk {
		chunk := keys[start:min(start+keyLookupChunk, len(keys))]

		placeholders := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*3)
		for i, k := range chunk {
			placeholders[i] = "(?, ?, ?)"
			args = append(args, k.Transponder, k.OccurredAt, k.LocationCode)
		}

		query := `SELECT transponder, occurred_at, location_code FROM trips
			WHERE (transponder, occurred_at, location_code) IN (VALUES ` + strings.Join(placeholders, ", ") + `)`
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to look up existing trips: %w", err)
		}
		for rows.Next() {
			var k model.NaturalKey
			if err := rows.Scan(&k.Transponder, &k.OccurredAt, &k.LocationCode); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("failed to scan trip key: %w", err)
			}
			found[k] = true
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

// DeleteTripsInRange removes every trip with occurred_at in [start, end] along
// with the violations recorded for those trips.
func (s *SQLiteStorage) DeleteTripsInRange(ctx context.Context, start, end time.Time) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if end.Before(start) {
		return 0, fmt.Errorf("%w: end %v is before start %v", ErrInvalidDateRange, end, start)
	}

	var deleted int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		deleted, txErr = s.deleteTripsInRangeTx(ctx, tx, start, end)
		return txErr
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *SQLiteStorage) deleteTripsInRangeTx(ctx context.Context, q queryable, start, end time.Time) (int64, error) {
	from, to := formatTime(start), formatTime(end)

	if _, err := q.ExecContext(ctx, `
		DELETE FROM violations WHERE trip_id IN (
			SELECT id FROM trips WHERE occurred_at BETWEEN ? AND ?
		)`, from, to); err != nil {
		return 0, fmt.Errorf("failed to delete violations in range: %w", err)
	}

	result, err := q.ExecContext(ctx, `DELETE FROM trips WHERE occurred_at BETWEEN ? AND ?`, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to delete trips in range: %w", err)
	}
	return result.RowsAffected()
}

// GetTrips returns trips matching filter, newest first.
func (s *SQLiteStorage) GetTrips(ctx context.Context, filter service.TripFilter) ([]model.Trip, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getTripsTx(ctx, s.db, filter)
}

func (s *SQLiteStorage) getTripsTx(ctx context.Context, q queryable, filter service.TripFilter) ([]model.Trip, error) {
	where, args := tripWhere(filter)
	query := `SELECT id, transponder, occurred_at, location_code, road, vehicle_class,
			base_tariff, discount, paid, raw_payload, source, created_at
		FROM trips` + where + ` ORDER BY occurred_at DESC, id DESC` + pageClause(filter.Limit, filter.Offset)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var trips []model.Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, trip)
	}
	return trips, rows.Err()
}

// CountTrips returns the number of trips matching filter, ignoring paging.
func (s *SQLiteStorage) CountTrips(ctx context.Context, filter service.TripFilter) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return s.countTripsTx(ctx, s.db, filter)
}

func (s *SQLiteStorage) countTripsTx(ctx context.Context, q queryable, filter service.TripFilter) (int, error) {
	where, args := tripWhere(filter)
	var count int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM trips`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count trips: %w", err)
	}
	return count, nil
}

// GetTransponders returns the distinct transponders seen in trips.
func (s *SQLiteStorage) GetTransponders(ctx context.Context) ([]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getTranspondersTx(ctx, s.db)
}

func (s *SQLiteStorage) getTranspondersTx(ctx context.Context, q queryable) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT DISTINCT transponder FROM trips ORDER BY transponder`)
	if err != nil {
		return nil, fmt.Errorf("failed to query transponders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var transponders []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan transponder: %w", err)
		}
		transponders = append(transponders, t)
	}
	return transponders, rows.Err()
}

// GetTripStats counts all trips and today's trips, and sums what was paid
// today. Today is the calendar day of now in now's location.
func (s *SQLiteStorage) GetTripStats(ctx context.Context, now time.Time) (*model.TripStats, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getTripStatsTx(ctx, s.db, now)
}

func (s *SQLiteStorage) getTripStatsTx(ctx context.Context, q queryable, now time.Time) (*model.TripStats, error) {
	todayStart, todayEnd := service.DateRange{Start: now, End: now}.Bounds(now.Location())

	var stats model.TripStats
	var paid sql.NullFloat64
	err := q.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN occurred_at BETWEEN ? AND ? THEN 1 ELSE 0 END), 0),
			SUM(CASE WHEN occurred_at BETWEEN ? AND ? THEN paid END)
		FROM trips
	`,
		formatTime(todayStart), formatTime(todayEnd),
		formatTime(todayStart), formatTime(todayEnd),
	).Scan(&stats.Total, &stats.Today, &paid)
	if err != nil {
		return nil, fmt.Errorf("failed to compute trip stats: %w", err)
	}
	stats.TodayPaid = paid.Float64
	return &stats, nil
}

func tripWhere(filter service.TripFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.StartDate != nil {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, formatTime(*filter.StartDate))
	}
	if filter.EndDate != nil {
		conds = append(conds, "occurred_at <= ?")
		args = append(args, formatTime(*filter.EndDate))
	}
	if filter.Transponder != "" {
		conds = append(conds, "transponder = ?")
		args = append(args, filter.Transponder)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func pageClause(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, max(offset, 0))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (model.Trip, error) {
	var (
		trip                model.Trip
		occurredAt, created string
		road, payload       sql.NullString
		vehicleClass        sql.NullInt64
		discount            sql.NullInt64
		baseTariff, paid    sql.NullFloat64
		source              string
	)
	if err := row.Scan(&trip.ID, &trip.Transponder, &occurredAt, &trip.LocationCode, &road, &vehicleClass,
		&baseTariff, &discount, &paid, &payload, &source, &created); err != nil {
		return model.Trip{}, fmt.Errorf("failed to scan trip: %w", err)
	}

	var err error
	if trip.OccurredAt, err = parseTime(occurredAt); err != nil {
		return model.Trip{}, err
	}
	if trip.CreatedAt, err = parseTime(created); err != nil {
		return model.Trip{}, err
	}
	trip.Road = road.String
	trip.VehicleClass = intPtr(vehicleClass)
	trip.Discount = intPtr(discount)
	trip.BaseTariff = floatPtr(baseTariff)
	trip.Paid = floatPtr(paid)
	trip.Source = model.TripSource(source)
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &trip.RawPayload); err != nil {
			slog.Warn("Ignoring unreadable raw payload", "trip_id", trip.ID, "error", err)
		}
	}
	return trip, nil
}

func encodePayload(raw model.RawTrip) (any, error) {
	if raw == nil {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(model.KeyTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(model.KeyTimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored time %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func parseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored date %q: %w", s, err)
	}
	return t, nil
}

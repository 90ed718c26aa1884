package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tollkeeper/internal/common"
	"github.com/Veraticus/tollkeeper/internal/model"
	"github.com/Veraticus/tollkeeper/internal/service"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
}

var baseTime = time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)

// Helper function to create test trips, one hour apart.
func createTestTrips(count int) []model.Trip {
	trips := make([]model.Trip, count)
	for i := 0; i < count; i++ {
		paid := float64(i+1) * 100
		trips[i] = model.Trip{
			Transponder:  "3086595 0000 0065 0272",
			OccurredAt:   baseTime.Add(time.Duration(i) * time.Hour),
			LocationCode: fmt.Sprintf("ПВП-%d", i+1),
			Paid:         &paid,
			RawPayload:   model.RawTrip{"road": fmt.Sprintf("ПВП-%d", i+1)},
			Source:       model.SourceScrape,
		}
	}
	return trips
}

func TestBulkInsert(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	inserted, err := store.BulkInsert(ctx, createTestTrips(5))
	require.NoError(t, err)
	assert.Equal(t, 5, inserted)

	count, err := store.CountTrips(ctx, service.TripFilter{})
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestBulkInsert_SkipsExistingKeys(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	trips := createTestTrips(3)
	_, err := store.BulkInsert(ctx, trips[:2])
	require.NoError(t, err)

	inserted, err := store.BulkInsert(ctx, trips)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	inserted, err = store.BulkInsert(ctx, trips)
	require.NoError(t, err)
	assert.Zero(t, inserted, "re-inserting the same batch is a no-op")
}

func TestBulkInsert_SkipsInBatchDuplicates(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	trips := createTestTrips(2)
	duplicate := trips[0]
	// Same instant in another zone is the same natural key.
	duplicate.OccurredAt = duplicate.OccurredAt.In(time.FixedZone("MSK", 3*60*60))

	inserted, err := store.BulkInsert(ctx, append(trips, duplicate))
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
}

func TestBulkInsert_LargeBatchSpansLookupChunks(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	trips := createTestTrips(keyLookupChunk + 10)
	inserted, err := store.BulkInsert(ctx, trips)
	require.NoError(t, err)
	assert.Equal(t, len(trips), inserted)

	inserted, err = store.BulkInsert(ctx, trips)
	require.NoError(t, err)
	assert.Zero(t, inserted)
}

func TestBulkInsert_RejectsInvalidTrip(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	trips := createTestTrips(2)
	trips[1].Transponder = ""

	_, err := store.BulkInsert(ctx, trips)
	require.ErrorIs(t, err, ErrInvalidTrip)

	count, err := store.CountTrips(ctx, service.TripFilter{})
	require.NoError(t, err)
	assert.Zero(t, count, "a rejected batch stores nothing")
}

func TestBulkInsert_Empty(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	inserted, err := store.BulkInsert(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, inserted)
}

func TestGetTrips_RoundTrip(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	class, discount := 2, 15
	tariff, paid := 1200.0, 1020.0
	trip := model.Trip{
		Transponder:  "3086595 0000 0065 0272",
		OccurredAt:   time.Date(2024, 3, 15, 14, 30, 0, 0, time.FixedZone("MSK", 3*60*60)),
		LocationCode: "М4-1046км-Москва",
		Road:         "М4-1046км-Москва\n2",
		VehicleClass: &class,
		BaseTariff:   &tariff,
		Discount:     &discount,
		Paid:         &paid,
		RawPayload:   model.RawTrip{"road": "М4-1046км-Москва\n2", "paid": "1 020,00 ₽"},
		Source:       model.SourceImport,
	}
	_, err := store.BulkInsert(ctx, []model.Trip{trip})
	require.NoError(t, err)

	trips, err := store.GetTrips(ctx, service.TripFilter{})
	require.NoError(t, err)
	require.Len(t, trips, 1)

	got := trips[0]
	assert.Positive(t, got.ID)
	assert.True(t, trip.OccurredAt.Equal(got.OccurredAt))
	assert.Equal(t, trip.Key(), got.Key())
	assert.Equal(t, trip.Road, got.Road)
	assert.Equal(t, &class, got.VehicleClass)
	assert.Equal(t, &tariff, got.BaseTariff)
	assert.Equal(t, &discount, got.Discount)
	assert.Equal(t, &paid, got.Paid)
	assert.Equal(t, trip.RawPayload, got.RawPayload)
	assert.Equal(t, model.SourceImport, got.Source)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetTrips_NullableFieldsStayNil(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	trip := model.Trip{Transponder: "1234 5678 9012", OccurredAt: baseTime, LocationCode: model.UnknownLocation}
	_, err := store.BulkInsert(ctx, []model.Trip{trip})
	require.NoError(t, err)

	trips, err := store.GetTrips(ctx, service.TripFilter{})
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Nil(t, trips[0].VehicleClass)
	assert.Nil(t, trips[0].BaseTariff)
	assert.Nil(t, trips[0].Discount)
	assert.Nil(t, trips[0].Paid)
	assert.Nil(t, trips[0].RawPayload)
	assert.Equal(t, model.SourceScrape, trips[0].Source)
}

func TestGetTrips_Filters(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	trips := createTestTrips(6)
	trips[5].Transponder = "1111 2222 3333"
	_, err := store.BulkInsert(ctx, trips)
	require.NoError(t, err)

	start := baseTime.Add(time.Hour)
	end := baseTime.Add(3 * time.Hour)
	windowed, err := store.GetTrips(ctx, service.TripFilter{StartDate: &start, EndDate: &end})
	require.NoError(t, err)
	require.Len(t, windowed, 3)
	assert.Equal(t, "ПВП-4", windowed[0].LocationCode, "newest first")

	byTransponder, err := store.GetTrips(ctx, service.TripFilter{Transponder: "1111 2222 3333"})
	require.NoError(t, err)
	require.Len(t, byTransponder, 1)

	page, err := store.GetTrips(ctx, service.TripFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "ПВП-4", page[0].LocationCode)

	total, err := store.CountTrips(ctx, service.TripFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 6, total, "count ignores paging")

	transponders, err := store.GetTransponders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1111 2222 3333", "3086595 0000 0065 0272"}, transponders)
}

func TestGetTripStats(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	trips := createTestTrips(7)
	trips[5].OccurredAt = time.Date(2024, 3, 14, 23, 30, 0, 0, time.UTC)
	trips[6].OccurredAt = time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)
	_, err := store.BulkInsert(ctx, trips)
	require.NoError(t, err)

	stats, err := store.GetTripStats(ctx, time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Total)
	assert.Equal(t, 5, stats.Today)
	assert.InDelta(t, 1500.0, stats.TodayPaid, 0.001)

	// 23:30 UTC on the 14th is already the 15th in Moscow.
	msk := time.FixedZone("MSK", 3*60*60)
	stats, err = store.GetTripStats(ctx, time.Date(2024, 3, 15, 1, 0, 0, 0, msk))
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Today)
	assert.InDelta(t, 2100.0, stats.TodayPaid, 0.001)
}

func TestGetTripStats_Empty(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	stats, err := store.GetTripStats(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.TripStats{}, *stats)
}

func TestDeleteTripsInRange(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	day := func(d int, h int) time.Time { return time.Date(2024, 3, d, h, 0, 0, 0, time.UTC) }
	trips := []model.Trip{
		{Transponder: "1234 5678 9012", OccurredAt: day(9, 23), LocationCode: "A"},
		{Transponder: "1234 5678 9012", OccurredAt: day(10, 0), LocationCode: "B"},
		{Transponder: "1234 5678 9012", OccurredAt: time.Date(2024, 3, 11, 23, 59, 59, 0, time.UTC), LocationCode: "C"},
		{Transponder: "1234 5678 9012", OccurredAt: day(12, 0), LocationCode: "D"},
	}
	_, err := store.BulkInsert(ctx, trips)
	require.NoError(t, err)

	start, end := service.DateRange{Start: day(10, 0), End: day(11, 0)}.Bounds(time.UTC)
	deleted, err := store.DeleteTripsInRange(ctx, start, end)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	remaining, err := store.GetTrips(ctx, service.TripFilter{})
	require.NoError(t, err)
	codes := []string{}
	for _, trip := range remaining {
		codes = append(codes, trip.LocationCode)
	}
	assert.ElementsMatch(t, []string{"A", "D"}, codes)

	_, err = store.DeleteTripsInRange(ctx, end, start)
	assert.ErrorIs(t, err, ErrInvalidDateRange)
}

func TestDeleteTripsInRange_RemovesTheirViolations(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.BulkInsert(ctx, createTestTrips(2))
	require.NoError(t, err)
	stored, err := store.GetTrips(ctx, service.TripFilter{})
	require.NoError(t, err)

	violations := make([]model.Violation, 0, len(stored))
	for _, trip := range stored {
		violations = append(violations, violationFor(trip))
	}
	_, err = store.SaveViolations(ctx, violations)
	require.NoError(t, err)

	_, err = store.DeleteTripsInRange(ctx, baseTime, baseTime.Add(30*time.Minute))
	require.NoError(t, err)

	count, err := store.CountViolations(ctx, service.ViolationFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTransaction_CommitAndRollback(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.BulkInsert(ctx, createTestTrips(2))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	count, err := store.CountTrips(ctx, service.TripFilter{})
	require.NoError(t, err)
	assert.Zero(t, count)

	tx, err = store.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.BulkInsert(ctx, createTestTrips(2))
	require.NoError(t, err)
	inTx, err := tx.CountTrips(ctx, service.TripFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, inTx)
	require.NoError(t, tx.Commit())

	count, err = store.CountTrips(ctx, service.TripFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestTransaction_UnsupportedOperations(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	assert.Error(t, tx.Migrate(ctx))
	_, err = tx.BeginTx(ctx)
	assert.Error(t, err)
	assert.Error(t, tx.Close())
}

func TestSyncRuns(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.GetLatestSyncRun(ctx)
	require.ErrorIs(t, err, common.ErrNotFound)

	first := &model.SyncRun{
		StartedAt:  baseTime,
		FinishedAt: baseTime.Add(time.Minute),
		DateFrom:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		DateTo:     time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Scraped:    12,
		Saved:      10,
		Deleted:    4,
		Complete:   true,
	}
	require.NoError(t, store.SaveSyncRun(ctx, first))
	assert.Positive(t, first.ID)

	second := &model.SyncRun{
		StartedAt: baseTime.Add(time.Hour),
		DateFrom:  first.DateFrom,
		DateTo:    first.DateTo,
		Error:     "portal login failed",
	}
	require.NoError(t, store.SaveSyncRun(ctx, second))

	latest, err := store.GetLatestSyncRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.False(t, latest.Succeeded())
	assert.True(t, latest.FinishedAt.IsZero())
	assert.Equal(t, "2024-03-15", latest.DateTo.Format("2006-01-02"))
}

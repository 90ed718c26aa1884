// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/tollkeeper/internal/model"
)

// TripFilter defines filtering options for trip queries.
type TripFilter struct {
	StartDate   *time.Time
	EndDate     *time.Time
	Transponder string
	Limit       int
	Offset      int
}

// ViolationFilter defines filtering options for violation queries.
type ViolationFilter struct {
	StartDate   *time.Time
	EndDate     *time.Time
	Transponder string
	Limit       int
	Offset      int
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Trip operations
	BulkInsert(ctx context.Context, trips []model.Trip) (int, error)
	DeleteTripsInRange(ctx context.Context, start, end time.Time) (int64, error)
	GetTrips(ctx context.Context, filter TripFilter) ([]model.Trip, error)
	CountTrips(ctx context.Context, filter TripFilter) (int, error)
	GetTransponders(ctx context.Context) ([]string, error)
	GetTripStats(ctx context.Context, now time.Time) (*model.TripStats, error)

	// Violation operations
	SaveViolations(ctx context.Context, violations []model.Violation) (int, error)
	ViolationTripIDs(ctx context.Context, tripIDs []int64) (map[int64]bool, error)
	GetViolations(ctx context.Context, filter ViolationFilter) ([]model.ViolationView, error)
	CountViolations(ctx context.Context, filter ViolationFilter) (int, error)
	GetViolationStats(ctx context.Context, now time.Time) (*model.ViolationStats, error)

	// Sync history
	SaveSyncRun(ctx context.Context, run *model.SyncRun) error
	GetLatestSyncRun(ctx context.Context) (*model.SyncRun, error)

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include all Storage methods for use within transaction
	Storage
}

// DateRange represents a closed calendar interval.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Bounds returns the first and last instants of the range's calendar days in loc.
// Only the calendar dates of Start and End are used.
func (r DateRange) Bounds(loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	sy, sm, sd := r.Start.Date()
	ey, em, ed := r.End.Date()
	start := time.Date(sy, sm, sd, 0, 0, 0, 0, loc)
	end := time.Date(ey, em, ed, 23, 59, 59, int(time.Second-time.Nanosecond), loc)
	return start, end
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// Package storage provides the data persistence layer for tollkeeper.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/tollkeeper/internal/model"
)

// Validation errors.
var (
	ErrNilContext       = errors.New("context cannot be nil")
	ErrEmptyString      = errors.New("string parameter cannot be empty")
	ErrNilParameter     = errors.New("parameter cannot be nil")
	ErrInvalidDateRange = errors.New("start date must be before end date")
	ErrInvalidTrip      = errors.New("invalid trip")
	ErrInvalidViolation = errors.New("invalid violation")
	ErrInvalidSyncRun   = errors.New("invalid sync run")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateTrips validates every trip of a batch. An empty batch is valid.
func validateTrips(trips []model.Trip) error {
	for i := range trips {
		if err := validateTrip(&trips[i]); err != nil {
			return fmt.Errorf("trip at index %d: %w", i, err)
		}
	}
	return nil
}

// validateTrip requires the natural key to be complete.
func validateTrip(trip *model.Trip) error {
	if trip == nil {
		return fmt.Errorf("%w: trip", ErrNilParameter)
	}
	if strings.TrimSpace(trip.Transponder) == "" {
		return fmt.Errorf("%w: missing transponder", ErrInvalidTrip)
	}
	if trip.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidTrip)
	}
	if strings.TrimSpace(trip.LocationCode) == "" {
		return fmt.Errorf("%w: missing location code", ErrInvalidTrip)
	}
	return nil
}

func validateViolations(violations []model.Violation) error {
	for i, v := range violations {
		if v.TripID <= 0 {
			return fmt.Errorf("violation at index %d: %w: missing trip id", i, ErrInvalidViolation)
		}
		if v.Reason == "" {
			return fmt.Errorf("violation at index %d: %w: missing reason", i, ErrInvalidViolation)
		}
		if v.OccurredAt.IsZero() {
			return fmt.Errorf("violation at index %d: %w: missing occurred_at", i, ErrInvalidViolation)
		}
	}
	return nil
}

func validateSyncRun(run *model.SyncRun) error {
	if run == nil {
		return fmt.Errorf("%w: sync run", ErrNilParameter)
	}
	if run.StartedAt.IsZero() {
		return fmt.Errorf("%w: missing start time", ErrInvalidSyncRun)
	}
	if run.DateTo.Before(run.DateFrom) {
		return fmt.Errorf("%w: %w", ErrInvalidSyncRun, ErrInvalidDateRange)
	}
	return nil
}

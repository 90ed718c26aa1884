// Package trips provides a fluent builder for seeding trip records in tests.
//
// Example usage:
//
//	seed := trips.NewBuilder(t).
//		WithTrip(trips.LocationMoscow1046).
//		WithTrips(3, trips.LocationAllowed).
//		Build()
//
//	db := testutil.SetupTestDB(t, seed)
package trips

import (
	"testing"
	"time"

	"github.com/Veraticus/tollkeeper/internal/model"
)

// LocationCode is a strongly typed toll point code used by fixtures.
type LocationCode string

// Toll points used across tests.
const (
	LocationMoscow1046 LocationCode = "М4-1046км-Москва"
	LocationRostov1184 LocationCode = "М4-1184-Рос"
	LocationMarker636  LocationCode = "М4-636-Крс"
	LocationAllowed    LocationCode = "М4-620-Рос"
	LocationMotorway   LocationCode = "ПВП-416M"
)

// DefaultTransponder is the transponder fixtures use unless overridden.
const DefaultTransponder = "3086595 0000 0065 0272"

// DefaultStart is when the first fixture trip occurs.
var DefaultStart = time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)

// Trips is a seeded batch.
type Trips []model.Trip

// Builder assembles trips one hour apart starting at DefaultStart.
type Builder struct {
	t           *testing.T
	next        time.Time
	transponder string
	trips       Trips
}

// NewBuilder returns an empty builder.
func NewBuilder(t *testing.T) *Builder {
	t.Helper()
	return &Builder{t: t, next: DefaultStart, transponder: DefaultTransponder}
}

// StartingAt moves the clock for subsequent trips.
func (b *Builder) StartingAt(at time.Time) *Builder {
	b.next = at
	return b
}

// ForTransponder sets the transponder for subsequent trips.
func (b *Builder) ForTransponder(transponder string) *Builder {
	b.transponder = transponder
	return b
}

// WithTrip adds a trip at the given toll point.
func (b *Builder) WithTrip(code LocationCode) *Builder {
	paid := 250.0
	tariff := 300.0
	discount := 15
	b.trips = append(b.trips, model.Trip{
		Transponder:  b.transponder,
		OccurredAt:   b.next,
		LocationCode: string(code),
		Road:         string(code),
		BaseTariff:   &tariff,
		Discount:     &discount,
		Paid:         &paid,
		Source:       model.SourceScrape,
	})
	b.next = b.next.Add(time.Hour)
	return b
}

// WithTrips adds n trips at the same toll point.
func (b *Builder) WithTrips(n int, code LocationCode) *Builder {
	for i := 0; i < n; i++ {
		b.WithTrip(code)
	}
	return b
}

// Build returns the assembled trips.
func (b *Builder) Build() Trips {
	b.t.Helper()
	out := make(Trips, len(b.trips))
	copy(out, b.trips)
	return out
}

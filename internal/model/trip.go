// Package model defines the core data structures for the tollkeeper application.
package model

import (
	"fmt"
	"time"
)

// UnknownLocation is stored when a row carries no parseable location text.
const UnknownLocation = "unknown"

// TripSource records which pipeline produced a trip.
type TripSource string

// Trip sources.
const (
	SourceScrape TripSource = "scrape"
	SourceImport TripSource = "import"
)

// RawTrip is the untyped field map produced by the portal extractor or a file import.
type RawTrip map[string]string

// Trip is a single toll-road passage.
// Identity is the natural key (Transponder, OccurredAt, LocationCode); ID is a
// storage-assigned surrogate.
type Trip struct {
	OccurredAt   time.Time  `json:"occurred_at"`
	CreatedAt    time.Time  `json:"created_at"`
	VehicleClass *int       `json:"vehicle_class"`
	BaseTariff   *float64   `json:"base_tariff"`
	Discount     *int       `json:"discount"`
	Paid         *float64   `json:"paid"`
	RawPayload   RawTrip    `json:"raw_payload,omitempty"`
	Transponder  string     `json:"transponder"`
	LocationCode string     `json:"location_code"`
	Road         string     `json:"road"`
	Source       TripSource `json:"source"`
	ID           int64      `json:"id"`
}

// NaturalKey is the uniqueness constraint of a trip.
type NaturalKey struct {
	Transponder  string
	OccurredAt   string
	LocationCode string
}

// KeyTimeLayout is the canonical UTC layout used for occurred_at in keys and storage.
const KeyTimeLayout = "2006-01-02 15:04:05"

// Key returns the natural key of the trip.
func (t *Trip) Key() NaturalKey {
	return NaturalKey{
		Transponder:  t.Transponder,
		OccurredAt:   t.OccurredAt.UTC().Format(KeyTimeLayout),
		LocationCode: t.LocationCode,
	}
}

func (k NaturalKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Transponder, k.OccurredAt, k.LocationCode)
}

// TripStats summarizes stored trips for dashboards.
type TripStats struct {
	Total     int     `json:"total"`
	Today     int     `json:"today"`
	TodayPaid float64 `json:"today_paid"`
}

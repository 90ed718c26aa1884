// Package violation flags stored trips that passed a forbidden toll point.
package violation

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/Veraticus/tollkeeper/internal/model"
	"github.com/Veraticus/tollkeeper/internal/service"
)

// DefaultMarkerPattern matches the 636 km marker on the М4 road.
const DefaultMarkerPattern = `(?i)м4[-\s]*636`

// DefaultForbidden lists the М4 toll points drivers must not pass.
var DefaultForbidden = []string{
	"М4-1046км-Москва", "М4-1046км-Мск",
	"М4-1184-Мск", "М4-1184-Москва",
	"М4-1223-Мск", "М4-1223-Москва",
	"М4-1223-Крс", "М4-1223-Краснодар",
	"М4-1184-Крс", "М4-1184-Краснодар",
	"М4-1046км-Краснодар", "М4-1046км-Крс",
	"М4-1046км-Ростов", "М4-1046км-Рос",
	"М4-1184-Ростов", "М4-1184-Рос",
	"М4-1223-Ростов", "М4-1223-Рос",
	"М4-1223-Воронеж", "М4-1223-Вор",
	"М4-1184-Воронеж", "М4-1184-Вор",
	"М4-1046км-Воронеж", "М4-1046км-Вор",
}

var (
	spacedDash = regexp.MustCompile(`\s*-\s*`)
	kmSuffix   = regexp.MustCompile(`км|km`)
	repeatDash = regexp.MustCompile(`-+`)
)

// NormalizeCode reduces a location code to the form used for comparison.
func NormalizeCode(code string) string {
	s := strings.TrimSpace(strings.ToLower(code))
	s = spacedDash.ReplaceAllString(s, "-")
	s = kmSuffix.ReplaceAllString(s, "")
	s = repeatDash.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Store is the persistence a scan needs.
type Store interface {
	ViolationTripIDs(ctx context.Context, tripIDs []int64) (map[int64]bool, error)
	SaveViolations(ctx context.Context, violations []model.Violation) (int, error)
}

// Classifier evaluates trips against a marker pattern and a forbidden set.
type Classifier struct {
	marker    *regexp.Regexp
	forbidden map[string]bool
	now       func() time.Time
}

// New builds a classifier. An empty forbidden list or pattern selects the defaults.
func New(forbidden []string, markerPattern string) (*Classifier, error) {
	if len(forbidden) == 0 {
		forbidden = DefaultForbidden
	}
	if markerPattern == "" {
		markerPattern = DefaultMarkerPattern
	}
	marker, err := regexp.Compile(markerPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid marker pattern %q: %w", markerPattern, err)
	}

	set := make(map[string]bool, len(forbidden))
	for _, code := range forbidden {
		if n := NormalizeCode(code); n != "" {
			set[n] = true
		}
	}
	return &Classifier{marker: marker, forbidden: set, now: time.Now}, nil
}

// NewDefault builds a classifier with the built-in rules.
func NewDefault() *Classifier {
	c, err := New(nil, "")
	if err != nil {
		panic(err)
	}
	return c
}

// Detect returns the violation a trip represents, or nil.
func (c *Classifier) Detect(trip *model.Trip) *model.Violation {
	if trip == nil || trip.OccurredAt.IsZero() {
		return nil
	}
	if trip.LocationCode == "" || trip.LocationCode == model.UnknownLocation {
		return nil
	}

	code := NormalizeCode(trip.LocationCode)
	var reason string
	switch {
	case c.marker.MatchString(code):
		reason = model.ReasonKilometerMarker
	case c.forbidden[code]:
		reason = model.ReasonForbiddenLocation
	default:
		return nil
	}

	return &model.Violation{
		TripID:       trip.ID,
		Transponder:  trip.Transponder,
		OccurredAt:   trip.OccurredAt,
		LocationCode: trip.LocationCode,
		BaseTariff:   trip.BaseTariff,
		Reason:       reason,
		DetectedAt:   c.now(),
	}
}

// Scan classifies stored trips and persists new violations, returning how many
// were created. Trips that already have a violation are skipped.
func (c *Classifier) Scan(ctx context.Context, store Store, trips []model.Trip) (int, error) {
	if len(trips) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(trips))
	for i := range trips {
		if trips[i].ID > 0 {
			ids = append(ids, trips[i].ID)
		}
	}
	existing, err := store.ViolationTripIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to load existing violations: %w", err)
	}

	var found []model.Violation
	for i := range trips {
		trip := &trips[i]
		if trip.ID <= 0 || existing[trip.ID] {
			continue
		}
		if v := c.Detect(trip); v != nil {
			found = append(found, *v)
			existing[trip.ID] = true
		}
	}
	if len(found) == 0 {
		return 0, nil
	}

	saved, err := store.SaveViolations(ctx, found)
	if err != nil {
		return 0, fmt.Errorf("failed to save violations: %w", err)
	}
	slog.Info("Recorded violations", "scanned", len(trips), "created", saved)
	return saved, nil
}

// scanPage bounds how many trips ScanStored loads at once.
const scanPage = 500

// ScanStored classifies every stored trip matching filter inside one transaction.
func (c *Classifier) ScanStored(ctx context.Context, storage service.Storage, filter service.TripFilter) (int, error) {
	tx, err := storage.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	filter.Limit = scanPage
	filter.Offset = 0
	created := 0
	for {
		trips, err := tx.GetTrips(ctx, filter)
		if err != nil {
			return 0, fmt.Errorf("failed to load trips: %w", err)
		}
		n, err := c.Scan(ctx, tx, trips)
		if err != nil {
			return 0, err
		}
		created += n
		if len(trips) < scanPage {
			break
		}
		filter.Offset += scanPage
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit violations: %w", err)
	}
	return created, nil
}

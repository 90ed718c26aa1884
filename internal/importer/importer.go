package importer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Veraticus/tollkeeper/internal/model"
	"github.com/Veraticus/tollkeeper/internal/normalize"
	"github.com/Veraticus/tollkeeper/internal/progress"
)

// TripStore is the persistence an import needs.
type TripStore interface {
	BulkInsert(ctx context.Context, trips []model.Trip) (int, error)
}

// Result summarizes one imported file.
type Result struct {
	File       string `json:"file"`
	Rows       int    `json:"rows"`
	Normalized int    `json:"normalized"`
	Saved      int    `json:"saved"`
	Skipped    int    `json:"skipped"`
}

// Importer normalizes report rows and stores them through the same
// deduplicating insert the portal sync uses.
type Importer struct {
	store   TripStore
	tracker *progress.Tracker
	loc     *time.Location
	now     func() time.Time
}

// New creates an importer. Dates without a zone are read in loc.
func New(store TripStore, tracker *progress.Tracker, loc *time.Location) *Importer {
	if loc == nil {
		loc = time.Local
	}
	if tracker == nil {
		tracker = progress.NewTracker()
	}
	return &Importer{store: store, tracker: tracker, loc: loc, now: time.Now}
}

// ImportFile imports the report at path.
func (im *Importer) ImportFile(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	return im.Import(ctx, filepath.Base(path), f)
}

// Import parses r according to filename's extension and stores its trips.
// The file's trips are inserted in one transaction.
func (im *Importer) Import(ctx context.Context, filename string, r io.Reader) (result Result, err error) {
	result.File = filename
	im.tracker.Start("importing " + filename)
	defer func() {
		if err != nil {
			im.tracker.Fail(err.Error())
		}
	}()

	parser, err := ParserFor(filename)
	if err != nil {
		return result, err
	}
	im.tracker.Set(20)

	raws, err := parser.Parse(r)
	if err != nil {
		return result, err
	}
	result.Rows = len(raws)
	im.tracker.SetItems(len(raws))
	im.tracker.Set(50)

	trips, skipped := normalize.Rows(raws, im.now().In(im.loc), normalize.FileRow)
	result.Normalized = len(trips)
	result.Skipped = skipped
	im.tracker.SetItems(len(trips))
	im.tracker.Set(80)

	saved, err := im.store.BulkInsert(ctx, trips)
	if err != nil {
		return result, fmt.Errorf("failed to store imported trips: %w", err)
	}
	result.Saved = saved
	im.tracker.Succeed(saved)

	slog.Info("Imported trip report",
		"file", filename,
		"rows", result.Rows,
		"saved", saved,
		"skipped", skipped)
	return result, nil
}

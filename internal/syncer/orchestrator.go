// Package syncer runs the replace sync of portal trips into storage and exposes
// it to callers through a Manager.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Veraticus/tollkeeper/internal/common"
	"github.com/Veraticus/tollkeeper/internal/model"
	"github.com/Veraticus/tollkeeper/internal/normalize"
	"github.com/Veraticus/tollkeeper/internal/portal"
	"github.com/Veraticus/tollkeeper/internal/progress"
	"github.com/Veraticus/tollkeeper/internal/service"
	"github.com/Veraticus/tollkeeper/internal/violation"
)

var tracer = otel.Tracer("github.com/Veraticus/tollkeeper/internal/syncer")

// ErrInvalidRange is returned when a sync window ends before it starts.
var ErrInvalidRange = errors.New("invalid sync range")

// Progress milestones. Extraction time is unpredictable, so the first half of a
// sync reports fixed checkpoints and only persistence reports real progress.
const (
	milestoneSession   = 10
	milestoneExtract   = 20
	milestoneExtracted = 30
	milestoneDeleted   = 40
	milestoneNormalize = 50
	persistStart       = 60
	persistSpan        = 40
)

// DefaultBatchSize is how many trips each BulkInsert call receives.
const DefaultBatchSize = 20

// Session is the portal session the orchestrator drives.
type Session interface {
	Login(ctx context.Context, creds portal.Credentials) error
	Logout()
	Status() portal.SessionStatus
	Balance(ctx context.Context) (string, error)
}

// TripSource extracts raw trip rows for a DD.MM.YYYY date range.
type TripSource interface {
	Extract(ctx context.Context, dateFrom, dateTo string) (portal.ExtractResult, error)
}

// Options configures an Orchestrator.
type Options struct {
	// Location is the portal's time zone; dates and day bounds are computed in it.
	Location          *time.Location
	Classifier        *violation.Classifier
	Credentials       portal.Credentials
	BatchSize         int
	ClassifyAfterSync bool
}

// Result summarizes a finished sync.
type Result struct {
	From       time.Time     `json:"date_from"`
	To         time.Time     `json:"date_to"`
	Duration   time.Duration `json:"duration"`
	Deleted    int64         `json:"deleted"`
	Scraped    int           `json:"scraped"`
	Normalized int           `json:"normalized"`
	Saved      int           `json:"saved"`
	Skipped    int           `json:"skipped"`
	Violations int           `json:"violations"`
	Complete   bool          `json:"complete"`
}

// Orchestrator runs one sync at a time. A sync replaces every stored trip in its
// window with what the portal currently shows.
type Orchestrator struct {
	session Session
	source  TripSource
	store   service.Storage
	tracker *progress.Tracker
	now     func() time.Time
	opts    Options
	running atomic.Bool
}

// NewOrchestrator wires the sync pipeline.
func NewOrchestrator(session Session, source TripSource, store service.Storage, tracker *progress.Tracker, opts Options) *Orchestrator {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Classifier == nil {
		opts.Classifier = violation.NewDefault()
	}
	return &Orchestrator{
		session: session,
		source:  source,
		store:   store,
		tracker: tracker,
		now:     time.Now,
		opts:    opts,
	}
}

// Running reports whether a sync is in flight.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

func (o *Orchestrator) acquire() bool {
	return o.running.CompareAndSwap(false, true)
}

func (o *Orchestrator) release() {
	o.running.Store(false)
}

// SyncRange synchronizes the inclusive calendar range [from, to]. A concurrent
// call is rejected with common.ErrSyncInProgress.
func (o *Orchestrator) SyncRange(ctx context.Context, from, to time.Time) (Result, error) {
	if err := validateRange(from, to); err != nil {
		return Result{}, err
	}
	if !o.acquire() {
		return Result{}, common.ErrSyncInProgress
	}
	defer o.release()
	return o.syncAcquired(ctx, from, to)
}

func validateRange(from, to time.Time) error {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	if time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC).Before(time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)) {
		return fmt.Errorf("%w: %s is after %s", ErrInvalidRange, normalize.PortalDate(from), normalize.PortalDate(to))
	}
	return nil
}

func (o *Orchestrator) syncAcquired(ctx context.Context, from, to time.Time) (result Result, err error) {
	started := o.now()
	dateFrom, dateTo := normalize.PortalDate(from), normalize.PortalDate(to)

	ctx, span := tracer.Start(ctx, "syncer.SyncRange", trace.WithAttributes(
		attribute.String("date_from", dateFrom),
		attribute.String("date_to", dateTo),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	o.tracker.Start(fmt.Sprintf("syncing %s - %s", dateFrom, dateTo))
	o.tracker.Set(0)
	slog.Info("Starting sync", "date_from", dateFrom, "date_to", dateTo)

	result, err = o.run(ctx, from, to)
	result.Duration = o.now().Sub(started)

	run := &model.SyncRun{
		StartedAt:  started,
		FinishedAt: o.now(),
		DateFrom:   result.From,
		DateTo:     result.To,
		Scraped:    result.Scraped,
		Saved:      result.Saved,
		Deleted:    result.Deleted,
		Complete:   result.Complete,
	}

	if err != nil {
		o.tracker.Fail(common.Describe(err))
		o.session.Logout()
		run.Error = err.Error()
		o.recordRun(ctx, run)
		common.LogError(err, "Sync failed", common.Fields{"date_from": dateFrom, "date_to": dateTo})
		return result, fmt.Errorf("sync %s - %s failed: %w", dateFrom, dateTo, err)
	}

	o.tracker.Succeed(result.Saved)
	o.recordRun(ctx, run)
	slog.Info("Sync finished",
		"scraped", result.Scraped,
		"saved", result.Saved,
		"skipped", result.Skipped,
		"deleted", result.Deleted,
		"complete", result.Complete,
		"duration", result.Duration)
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, from, to time.Time) (Result, error) {
	start, end := service.DateRange{Start: from, End: to}.Bounds(o.opts.Location)
	result := Result{From: start, To: end}

	if err := o.session.Login(ctx, o.opts.Credentials); err != nil {
		return result, err
	}
	o.tracker.Set(milestoneSession)
	o.tracker.Set(milestoneExtract)
	extracted, err := o.source.Extract(ctx, normalize.PortalDate(start), normalize.PortalDate(end))
	if err != nil {
		return result, err
	}
	result.Scraped = len(extracted.Rows)
	result.Complete = extracted.Complete
	if !extracted.Complete {
		slog.Warn("Trip table did not settle before the deadline; window may be incomplete",
			"rows", result.Scraped)
	}
	o.tracker.Set(milestoneExtracted)

	deleted, err := o.store.DeleteTripsInRange(ctx, start, end)
	if err != nil {
		return result, fmt.Errorf("failed to clear sync window: %w", err)
	}
	result.Deleted = deleted
	o.tracker.Set(milestoneDeleted)

	trips, skipped := normalize.Rows(extracted.Rows, o.now().In(o.opts.Location), normalize.Row)
	result.Normalized = len(trips)
	result.Skipped = skipped
	if skipped > 0 {
		slog.Warn("Dropped rows without a usable natural key", "dropped", skipped)
	}
	o.tracker.Set(milestoneNormalize)

	saved, err := o.persist(ctx, trips)
	result.Saved = saved
	if err != nil {
		return result, err
	}

	if o.opts.ClassifyAfterSync {
		created, err := o.opts.Classifier.ScanStored(ctx, o.store, service.TripFilter{StartDate: &start, EndDate: &end})
		if err != nil {
			// Trips are already committed; a failed scan can be repeated later.
			common.LogError(err, "Violation scan after sync failed", nil)
		}
		result.Violations = created
	}
	return result, nil
}

// persist inserts trips in fixed-size batches. Each batch commits on its own,
// so batches stored before a failure stay stored.
func (o *Orchestrator) persist(ctx context.Context, trips []model.Trip) (int, error) {
	total := len(trips)
	o.tracker.Set(persistStart)
	saved := 0
	for start := 0; start < total; start += o.opts.BatchSize {
		batch := trips[start:min(start+o.opts.BatchSize, total)]
		n, err := o.store.BulkInsert(ctx, batch)
		if err != nil {
			return saved, fmt.Errorf("failed to store trips %d-%d: %w", start+1, start+len(batch), err)
		}
		saved += n
		processed := start + len(batch)
		o.tracker.Set(persistStart + processed*persistSpan/total)
		o.tracker.SetItems(saved)
	}
	return saved, nil
}

func (o *Orchestrator) recordRun(ctx context.Context, run *model.SyncRun) {
	if err := o.store.SaveSyncRun(context.WithoutCancel(ctx), run); err != nil {
		common.LogError(err, "Failed to record sync run", nil)
	}
}

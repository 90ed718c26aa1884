package syncer

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Veraticus/tollkeeper/internal/common"
)

// DefaultLookbackDays is how many days back a scheduled sync reaches.
const DefaultLookbackDays = 3

// Scheduler triggers background syncs of a trailing window on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	manager  *Manager
	now      func() time.Time
	loc      *time.Location
	lookback int
}

// NewScheduler registers a sync of the last lookbackDays days (today included)
// on spec, a standard five-field cron expression or descriptor such as "@hourly".
func NewScheduler(manager *Manager, spec string, lookbackDays int, loc *time.Location) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}

	s := &Scheduler{
		manager:  manager,
		now:      time.Now,
		loc:      loc,
		lookback: lookbackDays,
		cron: cron.New(
			cron.WithLogger(cronLogger{}),
			cron.WithLocation(loc),
		),
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	return s, nil
}

// Window returns the range the next tick would sync.
func (s *Scheduler) Window() (time.Time, time.Time) {
	to := s.now().In(s.loc)
	return to.AddDate(0, 0, -(s.lookback - 1)), to
}

func (s *Scheduler) tick() {
	from, to := s.Window()
	err := s.manager.StartSync(from, to)
	switch {
	case errors.Is(err, common.ErrSyncInProgress):
		slog.Info("Skipping scheduled sync, another sync is running")
	case err != nil:
		common.LogError(err, "Scheduled sync was not started", nil)
	default:
		slog.Info("Scheduled sync started", "from", from.Format(time.DateOnly), "to", to.Format(time.DateOnly))
	}
}

// Start begins running the schedule in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running tick to return. It does not
// wait for the sync the tick started; use Manager.Wait for that.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next returns when the schedule fires next, or the zero time when not started.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}

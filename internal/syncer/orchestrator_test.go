package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tollkeeper/internal/common"
	"github.com/Veraticus/tollkeeper/internal/model"
	"github.com/Veraticus/tollkeeper/internal/portal"
	"github.com/Veraticus/tollkeeper/internal/progress"
	"github.com/Veraticus/tollkeeper/internal/service"
	"github.com/Veraticus/tollkeeper/internal/testutil"
	"github.com/Veraticus/tollkeeper/internal/testutil/trips"
)

type fakeSession struct {
	loginErr      error
	logoutBlock   chan struct{}
	logoutEntered chan struct{}
	balance       string
	mu            sync.Mutex
	logins        int
	logouts       int
	loggedIn      bool
}

func (f *fakeSession) Login(_ context.Context, _ portal.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	if f.loginErr != nil {
		return f.loginErr
	}
	f.loggedIn = true
	return nil
}

func (f *fakeSession) Logout() {
	if f.logoutEntered != nil {
		f.logoutEntered <- struct{}{}
		<-f.logoutBlock
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	f.loggedIn = false
}

func (f *fakeSession) Status() portal.SessionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := portal.StateLoggedOut
	if f.loggedIn {
		state = portal.StateLoggedIn
	}
	return portal.SessionStatus{State: state, Authenticated: f.loggedIn, BrowserLive: f.loggedIn}
}

func (f *fakeSession) Balance(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.loggedIn {
		return "", common.ErrNotAuthenticated
	}
	return f.balance, nil
}

type fakeSource struct {
	err      error
	block    chan struct{}
	entered  chan struct{}
	rows     []model.RawTrip
	ranges   [][2]string
	mu       sync.Mutex
	complete bool
}

func newFakeSource(rows ...model.RawTrip) *fakeSource {
	return &fakeSource{rows: rows, complete: true}
}

func (f *fakeSource) Extract(ctx context.Context, dateFrom, dateTo string) (portal.ExtractResult, error) {
	f.mu.Lock()
	f.ranges = append(f.ranges, [2]string{dateFrom, dateTo})
	block, entered := f.block, f.entered
	f.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return portal.ExtractResult{}, ctx.Err()
		}
	}
	if f.err != nil {
		return portal.ExtractResult{}, f.err
	}
	return portal.ExtractResult{Rows: f.rows, Complete: f.complete}, nil
}

func rawTrip(date, road string) model.RawTrip {
	return model.RawTrip{
		"road":        road + "\n2",
		"transponder": "3086595\n0000 0065 0272",
		"date":        date,
		"amount":      "1 200,00 ₽",
		"discount":    "15 %",
		"paid":        "1 020,00 ₽",
	}
}

var (
	syncFrom = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	syncTo   = time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	syncNow  = time.Date(2024, 3, 3, 9, 0, 0, 0, time.UTC)
)

func newTestOrchestrator(t *testing.T, session Session, source TripSource, store service.Storage, opts Options) (*Orchestrator, *progress.Tracker) {
	t.Helper()
	opts.Location = time.UTC
	opts.Credentials = portal.Credentials{Username: "driver@example.com", Password: "secret"}
	tracker := progress.NewTracker()
	o := NewOrchestrator(session, source, store, tracker, opts)
	o.now = func() time.Time { return syncNow }
	return o, tracker
}

func TestSyncRange_DeduplicatesAndReplaces(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	source := newFakeSource(
		rawTrip("01.03.2024 10:15:00", "М4-620-Рос"),
		rawTrip("1 марта 2024 10:15:00", "М4-620-Рос"),
		rawTrip("02.03.2024 18:40:00", "М4-1046км-Москва"),
	)
	session := &fakeSession{}
	o, tracker := newTestOrchestrator(t, session, source, db.Storage, Options{})
	ctx := context.Background()

	result, err := o.SyncRange(ctx, syncFrom, syncTo)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Scraped)
	assert.Equal(t, 3, result.Normalized)
	assert.Equal(t, 2, result.Saved)
	assert.True(t, result.Complete)
	assert.Equal(t, [][2]string{{"01.03.2024", "02.03.2024"}}, source.ranges)

	state := tracker.Snapshot()
	assert.Equal(t, progress.StatusSucceeded, state.Status)
	assert.Equal(t, 100, state.Percent)
	assert.Equal(t, 2, state.Items)

	result, err = o.SyncRange(ctx, syncFrom, syncTo)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Deleted)
	assert.Equal(t, 2, result.Saved)

	count, err := db.Storage.CountTrips(ctx, service.TripFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, count, "resyncing the same window converges")

	stored, err := db.Storage.GetTrips(ctx, service.TripFilter{})
	require.NoError(t, err)
	assert.Equal(t, "3086595 0000 0065 0272", stored[0].Transponder)
	assert.Equal(t, "М4-1046км-Москва", stored[0].LocationCode)
	require.NotNil(t, stored[0].Paid)
	assert.InDelta(t, 1020.0, *stored[0].Paid, 0.001)
}

func TestSyncRange_RemovesStaleTripsOnlyInsideWindow(t *testing.T) {
	seed := trips.NewBuilder(t).
		StartingAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)).
		WithTrip(trips.LocationAllowed).
		StartingAt(time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)).
		WithTrip(trips.LocationAllowed).
		Build()
	db := testutil.SetupTestDB(t, seed)

	o, _ := newTestOrchestrator(t, &fakeSession{}, newFakeSource(), db.Storage, Options{})
	result, err := o.SyncRange(context.Background(), syncFrom, syncTo)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Deleted)
	assert.Zero(t, result.Saved)

	remaining, err := db.Storage.GetTrips(context.Background(), service.TripFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, 5, remaining[0].OccurredAt.Day())
}

func TestSyncRange_DropsRowsWithoutKey(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	broken := rawTrip("not a date", "М4-620-Рос")
	noTransponder := rawTrip("01.03.2024 11:00", "М4-620-Рос")
	noTransponder["transponder"] = "N/A"
	source := newFakeSource(rawTrip("01.03.2024 10:00", "М4-620-Рос"), broken, noTransponder)

	o, _ := newTestOrchestrator(t, &fakeSession{}, source, db.Storage, Options{})
	result, err := o.SyncRange(context.Background(), syncFrom, syncTo)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Saved)
	assert.Equal(t, 2, result.Skipped)
}

func TestSyncRange_BatchesPersistence(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	rows := make([]model.RawTrip, 0, 45)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 45; i++ {
		rows = append(rows, rawTrip(start.Add(time.Duration(i)*time.Minute).Format("02.01.2006 15:04"), "М4-620-Рос"))
	}

	o, tracker := newTestOrchestrator(t, &fakeSession{}, newFakeSource(rows...), db.Storage, Options{BatchSize: 20})
	result, err := o.SyncRange(context.Background(), syncFrom, syncTo)
	require.NoError(t, err)
	assert.Equal(t, 45, result.Saved)
	assert.Equal(t, 45, tracker.Snapshot().Items)
}

func TestSyncRange_LoginFailure(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	session := &fakeSession{loginErr: common.ErrLoginRejected}
	source := newFakeSource()

	o, tracker := newTestOrchestrator(t, session, source, db.Storage, Options{})
	_, err := o.SyncRange(context.Background(), syncFrom, syncTo)
	require.ErrorIs(t, err, common.ErrLoginRejected)

	state := tracker.Snapshot()
	assert.Equal(t, progress.StatusFailed, state.Status)
	assert.Zero(t, state.Percent)
	assert.Contains(t, state.Message, "rejected")
	assert.Equal(t, 1, session.logouts)
	assert.Empty(t, source.ranges)
	assert.False(t, o.Running())

	run, err := db.Storage.GetLatestSyncRun(context.Background())
	require.NoError(t, err)
	assert.False(t, run.Succeeded())
	assert.Contains(t, run.Error, "login rejected")
}

func TestSyncRange_ExtractFailureKeepsStoredTrips(t *testing.T) {
	seed := trips.NewBuilder(t).
		StartingAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)).
		WithTrip(trips.LocationAllowed).
		Build()
	db := testutil.SetupTestDB(t, seed)
	source := newFakeSource()
	source.err = common.ErrSessionLost
	session := &fakeSession{}

	o, _ := newTestOrchestrator(t, session, source, db.Storage, Options{})
	_, err := o.SyncRange(context.Background(), syncFrom, syncTo)
	require.ErrorIs(t, err, common.ErrSessionLost)
	assert.False(t, session.Status().Authenticated)

	count, err := db.Storage.CountTrips(context.Background(), service.TripFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, count, "the window is only cleared after a successful extraction")
}

func TestSyncRange_IncompleteExtraction(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	source := newFakeSource(rawTrip("01.03.2024 10:00", "М4-620-Рос"))
	source.complete = false

	o, _ := newTestOrchestrator(t, &fakeSession{}, source, db.Storage, Options{})
	result, err := o.SyncRange(context.Background(), syncFrom, syncTo)
	require.NoError(t, err)
	assert.False(t, result.Complete)

	run, err := db.Storage.GetLatestSyncRun(context.Background())
	require.NoError(t, err)
	assert.False(t, run.Complete)
	assert.True(t, run.Succeeded())
}

func TestSyncRange_ClassifyAfterSync(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	source := newFakeSource(
		rawTrip("01.03.2024 10:00", "М4-620-Рос"),
		rawTrip("01.03.2024 12:00", "М4-1046км-Москва"),
		rawTrip("02.03.2024 08:00", "М4-636-Крс"),
	)

	o, _ := newTestOrchestrator(t, &fakeSession{}, source, db.Storage, Options{ClassifyAfterSync: true})
	result, err := o.SyncRange(context.Background(), syncFrom, syncTo)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Violations)

	count, err := db.Storage.CountViolations(context.Background(), service.ViolationFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSyncRange_InvalidRange(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	session := &fakeSession{}
	o, _ := newTestOrchestrator(t, session, newFakeSource(), db.Storage, Options{})

	_, err := o.SyncRange(context.Background(), syncTo, syncFrom)
	require.ErrorIs(t, err, ErrInvalidRange)
	assert.Zero(t, session.logins)

	_, err = o.SyncRange(context.Background(), syncFrom, syncFrom.Add(time.Hour))
	require.NoError(t, err, "a single day is a valid window")
}

func TestSyncRange_RejectsConcurrentSync(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	source := newFakeSource()
	source.block = make(chan struct{})
	source.entered = make(chan struct{})

	o, _ := newTestOrchestrator(t, &fakeSession{}, source, db.Storage, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := o.SyncRange(context.Background(), syncFrom, syncTo)
		done <- err
	}()
	<-source.entered

	_, err := o.SyncRange(context.Background(), syncFrom, syncTo)
	require.ErrorIs(t, err, common.ErrSyncInProgress)
	assert.True(t, o.Running())

	close(source.block)
	require.NoError(t, <-done)
	assert.False(t, o.Running())
}

func TestSyncRange_Cancelled(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	source := newFakeSource()
	source.block = make(chan struct{})
	source.entered = make(chan struct{})
	o, tracker := newTestOrchestrator(t, &fakeSession{}, source, db.Storage, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := o.SyncRange(ctx, syncFrom, syncTo)
		done <- err
	}()
	<-source.entered
	cancel()

	err := <-done
	require.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, progress.StatusFailed, tracker.Snapshot().Status)
}

package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tollkeeper/internal/common"
	"github.com/Veraticus/tollkeeper/internal/portal"
	"github.com/Veraticus/tollkeeper/internal/progress"
	"github.com/Veraticus/tollkeeper/internal/testutil"
)

func TestManager_StartSyncRunsInBackground(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	source := newFakeSource(rawTrip("01.03.2024 10:00", "М4-620-Рос"))
	o, _ := newTestOrchestrator(t, &fakeSession{}, source, db.Storage, Options{})
	m := NewManager(o)
	t.Cleanup(m.Close)

	require.NoError(t, m.StartSync(syncFrom, syncTo))
	m.Wait()

	state := m.Progress()
	assert.Equal(t, progress.StatusSucceeded, state.Status)
	assert.Equal(t, 1, state.Items)

	result, err := m.Last()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Saved)
	assert.Equal(t, portal.StateLoggedIn, m.SessionStatus().State)
}

func TestManager_RejectsWhileSyncing(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	source := newFakeSource()
	source.block = make(chan struct{})
	source.entered = make(chan struct{})
	o, _ := newTestOrchestrator(t, &fakeSession{}, source, db.Storage, Options{})
	m := NewManager(o)
	t.Cleanup(m.Close)

	require.NoError(t, m.StartSync(syncFrom, syncTo))
	<-source.entered
	assert.True(t, m.Syncing())
	assert.Equal(t, progress.StatusRunning, m.Progress().Status)

	assert.ErrorIs(t, m.StartSync(syncFrom, syncTo), common.ErrSyncInProgress)
	assert.ErrorIs(t, m.ResetSession(), common.ErrSyncInProgress)
	_, err := m.Balance(context.Background())
	assert.ErrorIs(t, err, common.ErrSyncInProgress)

	close(source.block)
	m.Wait()
	assert.False(t, m.Syncing())
}

func TestManager_StartSyncValidatesRange(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	o, _ := newTestOrchestrator(t, &fakeSession{}, newFakeSource(), db.Storage, Options{})
	m := NewManager(o)
	t.Cleanup(m.Close)

	assert.ErrorIs(t, m.StartSync(syncTo, syncFrom), ErrInvalidRange)
	assert.False(t, m.Syncing())
}

func TestManager_FailureIsReported(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	session := &fakeSession{loginErr: common.ErrLoginFieldsNotFound}
	o, _ := newTestOrchestrator(t, session, newFakeSource(), db.Storage, Options{})
	m := NewManager(o)
	t.Cleanup(m.Close)

	require.NoError(t, m.StartSync(syncFrom, syncTo), "failures surface through progress, not StartSync")
	m.Wait()

	_, err := m.Last()
	require.ErrorIs(t, err, common.ErrLoginFieldsNotFound)
	assert.Equal(t, progress.StatusFailed, m.Progress().Status)
}

func TestManager_ResetSession(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	session := &fakeSession{}
	o, _ := newTestOrchestrator(t, session, newFakeSource(), db.Storage, Options{})
	m := NewManager(o)
	t.Cleanup(m.Close)

	_, err := m.Sync(context.Background(), syncFrom, syncTo)
	require.NoError(t, err)
	require.True(t, m.SessionStatus().Authenticated)

	require.NoError(t, m.ResetSession())
	assert.False(t, m.SessionStatus().Authenticated)
	assert.Equal(t, progress.StatusIdle, m.Progress().Status)
}

func TestManager_ResetSessionHoldsSyncGuard(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	session := &fakeSession{
		logoutBlock:   make(chan struct{}),
		logoutEntered: make(chan struct{}),
	}
	o, _ := newTestOrchestrator(t, session, newFakeSource(), db.Storage, Options{})
	m := NewManager(o)
	t.Cleanup(m.Close)

	done := make(chan error, 1)
	go func() { done <- m.ResetSession() }()
	<-session.logoutEntered

	assert.ErrorIs(t, m.StartSync(syncFrom, syncTo), common.ErrSyncInProgress)

	close(session.logoutBlock)
	require.NoError(t, <-done)
	session.logoutEntered = nil

	require.NoError(t, m.StartSync(syncFrom, syncTo))
	m.Wait()
	_, err := m.Last()
	assert.NoError(t, err)
}

func TestManager_Balance(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	session := &fakeSession{balance: "1 250,00 ₽"}
	o, _ := newTestOrchestrator(t, session, newFakeSource(), db.Storage, Options{})
	m := NewManager(o)
	t.Cleanup(m.Close)

	_, err := m.Balance(context.Background())
	assert.ErrorIs(t, err, common.ErrNotAuthenticated)

	_, err = m.Sync(context.Background(), syncFrom, syncTo)
	require.NoError(t, err)

	balance, err := m.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1 250,00 ₽", balance)
	assert.False(t, m.Syncing())
}

func TestManager_CloseRefusesNewSyncs(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	session := &fakeSession{}
	o, _ := newTestOrchestrator(t, session, newFakeSource(), db.Storage, Options{})
	m := NewManager(o)

	m.Close()
	assert.Error(t, m.StartSync(syncFrom, syncTo))
	assert.Equal(t, 1, session.logouts)
}

func TestScheduler_Window(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	o, _ := newTestOrchestrator(t, &fakeSession{}, newFakeSource(), db.Storage, Options{})
	m := NewManager(o)
	t.Cleanup(m.Close)

	s, err := NewScheduler(m, "@hourly", 3, time.UTC)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC) }

	from, to := s.Window()
	assert.Equal(t, "2024-03-08", from.Format(time.DateOnly))
	assert.Equal(t, "2024-03-10", to.Format(time.DateOnly))
}

func TestScheduler_TickStartsSync(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	source := newFakeSource()
	o, _ := newTestOrchestrator(t, &fakeSession{}, source, db.Storage, Options{})
	m := NewManager(o)
	t.Cleanup(m.Close)

	s, err := NewScheduler(m, "0 3 * * *", 1, time.UTC)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC) }

	s.tick()
	m.Wait()
	assert.Equal(t, [][2]string{{"10.03.2024", "10.03.2024"}}, source.ranges)
}

func TestScheduler_InvalidSpec(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	o, _ := newTestOrchestrator(t, &fakeSession{}, newFakeSource(), db.Storage, Options{})
	m := NewManager(o)
	t.Cleanup(m.Close)

	_, err := NewScheduler(m, "every tuesday", 1, time.UTC)
	assert.Error(t, err)
}

func TestScheduler_StartStop(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	o, _ := newTestOrchestrator(t, &fakeSession{}, newFakeSource(), db.Storage, Options{})
	m := NewManager(o)
	t.Cleanup(m.Close)

	s, err := NewScheduler(m, "@daily", 1, time.UTC)
	require.NoError(t, err)
	s.Start()
	assert.False(t, s.Next().IsZero())
	s.Stop()
}

package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/Veraticus/tollkeeper/internal/common"
	"github.com/Veraticus/tollkeeper/internal/portal"
	"github.com/Veraticus/tollkeeper/internal/progress"
)

// Manager is the single entry point callers use to run syncs. It is built once
// at process start and owns the background sync goroutine.
type Manager struct {
	ctx     context.Context
	orch    *Orchestrator
	session Session
	tracker *progress.Tracker
	cancel  context.CancelFunc
	lastErr error
	last    Result
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewManager creates a manager over orch. The tracker must be the one orch reports to.
func NewManager(orch *Orchestrator) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		ctx:     ctx,
		cancel:  cancel,
		orch:    orch,
		session: orch.session,
		tracker: orch.tracker,
	}
}

// StartSync launches a sync of [from, to] in the background and returns once it
// is accepted. It fails immediately when a sync is already running.
func (m *Manager) StartSync(from, to time.Time) error {
	if err := validateRange(from, to); err != nil {
		return err
	}
	if m.ctx.Err() != nil {
		return m.ctx.Err()
	}
	if !m.orch.acquire() {
		return common.ErrSyncInProgress
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.orch.release()

		result, err := m.orch.syncAcquired(m.ctx, from, to)
		m.mu.Lock()
		m.last, m.lastErr = result, err
		m.mu.Unlock()
	}()
	return nil
}

// Sync runs a sync in the foreground.
func (m *Manager) Sync(ctx context.Context, from, to time.Time) (Result, error) {
	result, err := m.orch.SyncRange(ctx, from, to)
	m.mu.Lock()
	m.last, m.lastErr = result, err
	m.mu.Unlock()
	return result, err
}

// Syncing reports whether a sync is in flight.
func (m *Manager) Syncing() bool {
	return m.orch.Running()
}

// Progress returns the current progress snapshot.
func (m *Manager) Progress() progress.State {
	return m.tracker.Snapshot()
}

// Last returns the outcome of the most recent sync started through the manager.
func (m *Manager) Last() (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.lastErr
}

// SessionStatus returns the portal session snapshot.
func (m *Manager) SessionStatus() portal.SessionStatus {
	return m.session.Status()
}

// ResetSession logs the portal session out so the next sync logs in afresh.
// It is refused while a sync is running, and syncs are refused until it returns.
func (m *Manager) ResetSession() error {
	if !m.orch.acquire() {
		return common.ErrSyncInProgress
	}
	defer m.orch.release()

	m.session.Logout()
	m.tracker.Reset()
	return nil
}

// Balance reads the account balance through the logged-in session. It drives
// the browser, so it is refused while a sync is running.
func (m *Manager) Balance(ctx context.Context) (string, error) {
	if !m.orch.acquire() {
		return "", common.ErrSyncInProgress
	}
	defer m.orch.release()

	return m.session.Balance(ctx)
}

// Wait blocks until background syncs started so far have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close cancels any running sync, waits for it and stops the browser.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
	m.session.Logout()
}

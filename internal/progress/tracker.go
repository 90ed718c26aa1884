// Package progress tracks the state of the single in-flight sync so that
// concurrent readers can poll it.
package progress

import (
	"sync"
	"time"
)

// Status is the lifecycle stage of a tracked operation.
type Status string

// Tracked operation statuses.
const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// State is a point-in-time snapshot of the tracker.
type State struct {
	UpdatedAt time.Time `json:"updated_at"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Percent   int       `json:"percent"`
	Items     int       `json:"items"`
}

// Tracker holds a percent in [0,100] and a processed-items count.
// All methods are safe for concurrent use.
type Tracker struct {
	now   func() time.Time
	state State
	mu    sync.RWMutex
}

// NewTracker creates an idle tracker.
func NewTracker() *Tracker {
	t := &Tracker{now: time.Now}
	t.state = State{Status: StatusIdle, UpdatedAt: t.now()}
	return t
}

// Start resets the tracker and marks an operation as running.
func (t *Tracker) Start(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = State{Status: StatusRunning, Message: message, UpdatedAt: t.now()}
}

// Set records a new percent, clamped to [0,100].
func (t *Tracker) Set(percent int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Percent = clamp(percent)
	t.state.UpdatedAt = t.now()
}

// SetItems records the processed-items count. Negative counts are stored as zero.
func (t *Tracker) SetItems(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Items = max(n, 0)
	t.state.UpdatedAt = t.now()
}

// Succeed marks the operation finished at 100%.
func (t *Tracker) Succeed(items int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Status = StatusSucceeded
	t.state.Percent = 100
	t.state.Items = max(items, 0)
	t.state.Message = ""
	t.state.UpdatedAt = t.now()
}

// Fail marks the operation failed. The percent returns to 0 so pollers never
// mistake a failed run for a finished one.
func (t *Tracker) Fail(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Status = StatusFailed
	t.state.Percent = 0
	t.state.Message = message
	t.state.UpdatedAt = t.now()
}

// Reset returns the tracker to idle.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = State{Status: StatusIdle, UpdatedAt: t.now()}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Running reports whether an operation is in flight.
func (t *Tracker) Running() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Status == StatusRunning
}

func clamp(p int) int {
	return min(max(p, 0), 100)
}

package cli

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/tollkeeper/internal/progress"
)

func TestWatchProgress_UntilSucceeded(t *testing.T) {
	tracker := progress.NewTracker()
	tracker.Start("sync")

	var mu sync.Mutex
	polls := 0
	poll := func() progress.State {
		mu.Lock()
		defer mu.Unlock()
		polls++
		switch polls {
		case 2:
			tracker.Set(50)
		case 3:
			tracker.Succeed(7)
		}
		return tracker.Snapshot()
	}

	var out bytes.Buffer
	state := WatchProgress(context.Background(), &out, "Syncing", time.Millisecond, poll)
	assert.Equal(t, progress.StatusSucceeded, state.Status)
	assert.Equal(t, 7, state.Items)
	assert.Contains(t, out.String(), "Syncing")
}

func TestWatchProgress_Failed(t *testing.T) {
	tracker := progress.NewTracker()
	tracker.Start("sync")
	tracker.Fail("login rejected")

	var out bytes.Buffer
	state := WatchProgress(context.Background(), &out, "Syncing", time.Millisecond, tracker.Snapshot)
	assert.Equal(t, progress.StatusFailed, state.Status)
	assert.Equal(t, "login rejected", state.Message)
}

func TestWatchProgress_ContextEnds(t *testing.T) {
	tracker := progress.NewTracker()
	tracker.Start("sync")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	state := WatchProgress(ctx, &out, "Syncing", time.Millisecond, tracker.Snapshot)
	assert.Equal(t, progress.StatusRunning, state.Status)
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"да\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"yes", true},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			got, err := Confirm(context.Background(), strings.NewReader(tt.input), &out, "Delete trips?")
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Delete trips?")
		})
	}
}

type blockingReader struct{ release chan struct{} }

func (b blockingReader) Read(_ []byte) (int, error) {
	<-b.release
	return 0, nil
}

func TestConfirm_Cancelled(t *testing.T) {
	r := blockingReader{release: make(chan struct{})}
	defer close(r.release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	_, err := Confirm(ctx, r, &out, "Delete trips?")
	assert.ErrorIs(t, err, ErrInputCancelled)
}

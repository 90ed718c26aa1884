package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/Veraticus/tollkeeper/internal/progress"
)

// DefaultPollInterval is how often WatchProgress samples the tracker.
const DefaultPollInterval = 250 * time.Millisecond

// WatchProgress renders a progress bar fed by poll until the tracked operation
// leaves the running state or ctx ends, and returns the last snapshot.
func WatchProgress(ctx context.Context, w io.Writer, description string, interval time.Duration, poll func() progress.State) progress.State {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]"+description+"[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(w); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var state progress.State
	for {
		state = poll()
		if err := bar.Set(state.Percent); err != nil {
			slog.Warn("Failed to update progress bar", "error", err)
		}
		if state.Status != progress.StatusRunning && state.Status != progress.StatusIdle {
			break
		}
		select {
		case <-ctx.Done():
			return poll()
		case <-ticker.C:
		}
	}

	if state.Status == progress.StatusSucceeded {
		if err := bar.Finish(); err != nil {
			slog.Warn("Failed to finish progress bar", "error", err)
		}
	} else if _, err := fmt.Fprintln(w); err != nil {
		slog.Warn("Failed to write newline", "error", err)
	}
	return state
}

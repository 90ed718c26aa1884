package portal

import (
	"context"
	"log/slog"
	"time"

	"github.com/Veraticus/tollkeeper/internal/browser"
)

// StabilizeOptions bound the lazy-load loop.
type StabilizeOptions struct {
	Pause       time.Duration
	MaxStable   int
	MaxDuration time.Duration
}

// DefaultStabilizeOptions returns the bounds used against the portal table.
func DefaultStabilizeOptions() StabilizeOptions {
	return StabilizeOptions{
		Pause:       500 * time.Millisecond,
		MaxStable:   5,
		MaxDuration: 2 * time.Minute,
	}
}

// StabilizeResult describes how the loop ended.
type StabilizeResult struct {
	Rows       int
	Iterations int
	// Complete is false when MaxDuration expired before the count settled.
	Complete bool
}

// Stabilize scrolls until the rendered row count stays unchanged for MaxStable
// consecutive checks or MaxDuration elapses, whichever comes first. Count and
// scroll failures are treated as zero rows and ignored respectively; only ctx
// cancellation aborts the loop.
func Stabilize(ctx context.Context, count func(context.Context) (int, error), scroll func(context.Context) error, opts StabilizeOptions) (StabilizeResult, error) {
	if opts.MaxStable <= 0 {
		opts.MaxStable = 5
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 2 * time.Minute
	}

	start := time.Now()
	last, stable := -1, 0
	var result StabilizeResult

	for {
		result.Iterations++
		n, err := count(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			slog.Debug("Row count failed", "error", err)
			n = 0
		}
		result.Rows = n

		if n == last {
			stable++
		} else {
			stable = 0
		}
		if stable >= opts.MaxStable {
			result.Complete = true
			return result, nil
		}
		last = n

		if err := scroll(ctx); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			slog.Debug("Scroll failed", "error", err)
		}
		if err := browser.Sleep(ctx, opts.Pause); err != nil {
			return result, err
		}

		if time.Since(start) > opts.MaxDuration {
			slog.Warn("Row count did not settle before the deadline",
				"rows", n,
				"iterations", result.Iterations,
				"max_duration", opts.MaxDuration)
			return result, nil
		}
	}
}

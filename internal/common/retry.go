package common

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Veraticus/tollkeeper/internal/service"
)

// ErrMaxRetries indicates that all retry attempts have been exhausted.
var ErrMaxRetries = errors.New("max retries exceeded")

// Retry defaults applied to zero-valued options.
const (
	defaultMaxAttempts = 3
	defaultMaxDelay    = 30 * time.Second
)

// RetryableError marks whether an error is worth another attempt.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string { return e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return &RetryableError{Err: err, Retryable: false}
}

// WithRetry runs operation until it succeeds, returns a Permanent error, ctx
// ends, or opts.MaxAttempts is reached. attempt is 1-based. On exhaustion the
// result wraps both ErrMaxRetries and the last operation error.
func WithRetry(ctx context.Context, operation func(attempt int) error, opts service.RetryOptions) error {
	opts = retryDefaults(opts)

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		lastErr = operation(attempt)
		if lastErr == nil {
			return nil
		}

		var re *RetryableError
		if errors.As(lastErr, &re) && !re.Retryable {
			return re.Err
		}
		if attempt == opts.MaxAttempts {
			break
		}

		delay := backoff(opts, attempt)
		LogDebug("Retrying operation", Fields{
			"attempt":      attempt,
			"max_attempts": opts.MaxAttempts,
			"delay":        delay,
			"error":        lastErr,
		})
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, opts.MaxAttempts, lastErr)
}

func retryDefaults(opts service.RetryOptions) service.RetryOptions {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	opts.InitialDelay = max(opts.InitialDelay, 0)
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = 1
	}
	return opts
}

// backoff is the wait after the given failed attempt, capped at MaxDelay.
func backoff(opts service.RetryOptions, attempt int) time.Duration {
	d := float64(opts.InitialDelay) * math.Pow(opts.Multiplier, float64(attempt-1))
	if d > float64(opts.MaxDelay) {
		return opts.MaxDelay
	}
	return time.Duration(d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

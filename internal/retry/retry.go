// Package retry wraps operations with bounded, jittered exponential
// backoff. Cancellation is honored between attempts and permanent errors
// bypass the remaining budget.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Options bound a retry loop.
type Options struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
	// Jitter is the uniform jitter fraction added on top of each delay
	// (0.3 means up to +30%).
	Jitter float64
}

// DefaultOptions matches the adapter fetch paths: 3 attempts, 1s base,
// 10s cap, 30% jitter.
func DefaultOptions() Options {
	return Options{Attempts: 3, Base: time.Second, Max: 10 * time.Second, Jitter: 0.3}
}

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Do returns it immediately without further
// attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries the permanent marker.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Delay returns the pre-jitter backoff before attempt k (1-indexed):
// min(base * 2^(k-1), max). The sequence is monotone non-decreasing and
// bounded by max.
func Delay(opts Options, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := opts.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= opts.Max {
			return opts.Max
		}
	}
	if d > opts.Max {
		return opts.Max
	}
	return d
}

func jittered(opts Options, attempt int) time.Duration {
	d := Delay(opts, attempt)
	if opts.Jitter <= 0 {
		return d
	}
	return d + time.Duration(rand.Float64()*opts.Jitter*float64(d))
}

// Do runs op up to opts.Attempts times. A permanent error or context
// cancellation stops the loop; otherwise the last error is returned.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, jittered(opts, attempt-1)); err != nil {
				return zero, err
			}
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if IsPermanent(err) {
			var p *permanentError
			errors.As(err, &p)
			return zero, p.err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		lastErr = err
	}
	return zero, lastErr
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package retry

import (
	"context"
	"fmt"
	mathrand "math/rand/v2"
	"time"
)

// BackoffFunc returns the delay to wait after a failed attempt.
// Attempts are numbered starting at 1.
type BackoffFunc func(attempt int) time.Duration

// Linear grows the delay by base on every attempt: base, 2*base, 3*base, ...
func Linear(base time.Duration) BackoffFunc {
	if base <= 0 {
		base = time.Second
	}
	return func(attempt int) time.Duration {
		return base * time.Duration(attempt)
	}
}

// Exponential doubles the delay on every attempt: base, 2*base, 4*base, ...
// capped at max when max > 0.
func Exponential(base time.Duration, max time.Duration) BackoffFunc {
	if base <= 0 {
		base = time.Second
	}
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		backoff := base
		for i := 1; i < attempt; i++ {
			backoff *= 2
			if max > 0 && backoff >= max {
				return max
			}
		}
		if max > 0 && backoff > max {
			backoff = max
		}
		return backoff
	}
}

// WithJitter adds up to maxJitter of random delay on top of fn.
func WithJitter(fn BackoffFunc, maxJitter time.Duration) BackoffFunc {
	if maxJitter <= 0 {
		return fn
	}
	return func(attempt int) time.Duration {
		return fn(attempt) + time.Duration(mathrand.Int64N(int64(maxJitter)+1))
	}
}

// Do runs op up to attempts times, sleeping backoff(attempt) between failures.
// It stops early when ctx is cancelled and returns the last error otherwise.
func Do(ctx context.Context, attempts int, backoff BackoffFunc, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	if backoff == nil {
		backoff = Linear(time.Second)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("retry: %d attempt(s) failed: %w", attempts, lastErr)
}

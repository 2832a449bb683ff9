// Package retry runs an operation under an explicit retry policy instead of
// ad-hoc loops scattered through callers.
package retry

import (
	"context"
	"time"
)

// Policy describes how an operation is retried. The zero value retries
// nothing; use DefaultPolicy for a sensible baseline.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// Backoff returns the wait before the given attempt (1-based, called
	// after attempt n fails). Nil means no wait.
	Backoff func(attempt int) time.Duration
	// Retryable reports whether the error is worth another attempt. Nil
	// means every error is retryable.
	Retryable func(err error) bool
}

// DefaultPolicy retries three times with doubling backoff from 500ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff: func(attempt int) time.Duration {
			return 500 * time.Millisecond << (attempt - 1)
		},
	}
}

// Do runs fn until it succeeds, the policy is exhausted, or ctx ends.
// The last error is returned; a ctx error wins if the wait was interrupted.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

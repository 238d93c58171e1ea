package engine

import (
	"context"
	"time"
)

// RetryPolicy is the single retry configuration applied at both task and
// chunk granularity: exponential backoff from BaseDelay, bounded attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Delay returns the backoff before the given 1-based attempt number.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Do runs fn up to MaxAttempts times, sleeping the backoff between attempts
// when retryable classifies the error as transient. The last error is
// returned once attempts are exhausted or the error is not retryable.
func (p RetryPolicy) Do(ctx context.Context, retryable func(error) bool, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-time.After(p.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

package rcon

import (
	"context"
	"time"
)

// RetryPolicy bounds how often an operation is attempted
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration // multiplied by the attempt number
}

// DefaultRetryPolicy reconnects once and retries the command once
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 2}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts run out. fn receives the 1-based attempt number.
func (p RetryPolicy) Do(ctx context.Context, retryable func(error) bool, fn func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && p.Backoff > 0 {
			timer := time.NewTimer(time.Duration(attempt-1) * p.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = fn(attempt)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

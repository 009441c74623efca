package apperror

import (
	"context"
	"time"
)

// RetryPolicy bounds the shared backoff helper used by the Transport and
// Scheduler drivers. Defaults mirror the original implementation's retry
// budget: 3 attempts, exponential backoff from 1s up to a 30s ceiling.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is used wherever a driver does not override it.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	MaxDelay:    30 * time.Second,
}

// Retry calls fn until it succeeds, ctx is cancelled, or the policy's
// attempt budget is exhausted. Only retryable errors (per Kind) trigger
// another attempt; any other error returns immediately.
func Retry(ctx context.Context, policy RetryPolicy, fn func(attempt int) error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	delay := policy.BaseDelay
	if delay <= 0 {
		delay = DefaultRetryPolicy.BaseDelay
	}
	maxDelay := policy.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultRetryPolicy.MaxDelay
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt == policy.MaxAttempts {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return lastErr
}

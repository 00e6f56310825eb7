package automation

import (
	"context"
	"time"
)

// RetryPolicy is the exponential backoff applied around the substantive
// service call of each handler.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy: 1s initial delay, doubled per attempt, capped at
// 60s, at most 3 retries after the first attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2,
	}
}

// WithRetry runs op, backing off between attempts. Waits are
// context-aware; after the final attempt the last error is returned
// unchanged. Distinguishing transient from terminal errors is the
// caller's concern.
func WithRetry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	delay := policy.InitialDelay
	var err error
	for attempt := 0; ; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if attempt >= policy.MaxRetries {
			return err
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * policy.Multiplier)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
}

package submission

import (
	"context"
	"time"
)

// retryBackoff runs fn up to attempts times with exponential backoff between
// tries. The context cancels waiting, not a try already in flight.
func retryBackoff(ctx context.Context, attempts int, base time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = 200 * time.Millisecond
	}

	var lastErr error
	delay := base
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

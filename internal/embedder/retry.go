package embedder

import (
	"context"
	"time"
)

// Delay between embedding API attempts doubles from the base up to the
// cap. The policy is fixed; MaxRetries bounds the attempt count.
const (
	retryBaseDelay = 100 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
)

// withBackoff runs fn up to MaxRetries times. A cancelled context ends
// the loop immediately, whether mid-wait or after a failed attempt.
func withBackoff[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	delay := retryBaseDelay
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
			if delay *= 2; delay > retryMaxDelay {
				delay = retryMaxDelay
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
	return zero, lastErr
}

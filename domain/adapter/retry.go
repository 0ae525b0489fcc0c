package adapter

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
)

// retryConfig bounds the adapter-internal retry loop used for transient
// failures (connection loss, timeouts). It never retries anything else —
// auth failures, type mismatches, and constraint violations are always
// surfaced immediately with a descriptive reason. At chunk level they are
// handled like any other failure: FailChunk re-queues the chunk until its
// max_retries is reached.
type retryConfig struct {
	maxAttempts int
	min, max    time.Duration
}

var defaultRetry = retryConfig{
	maxAttempts: 5,
	min:         200 * time.Millisecond,
	max:         10 * time.Second,
}

// withRetry runs op, retrying with exponential back-off only when op returns
// an *Error whose Kind is retryable. Any other error (or exhaustion of
// maxAttempts) is returned as-is.
func withRetry[T any](ctx context.Context, cfg retryConfig, op func() (T, error)) (T, error) {
	b := &backoff.Backoff{Min: cfg.min, Max: cfg.max, Factor: 2, Jitter: true}

	var zero T
	for attempt := 1; ; attempt++ {
		result, err := op()
		if err == nil {
			return result, nil
		}
		if !KindOf(err).Retryable() || attempt >= cfg.maxAttempts {
			return zero, err
		}

		wait := b.Duration()
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
	}
}

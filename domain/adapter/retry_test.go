package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetry_SucceedsWithoutRetryOnFirstAttempt(t *testing.T) {
	calls := 0
	result, err := withRetry(context.Background(), defaultRetry, func() (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_RetriesOnlyRetryableKinds(t *testing.T) {
	calls := 0
	cfg := retryConfig{maxAttempts: 3, min: 0, max: 0}
	_, err := withRetry(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, NewError(KindConnectionLost, "accounts", "dial failed", errors.New("refused"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_DoesNotRetryNonRetryableKind(t *testing.T) {
	calls := 0
	cfg := retryConfig{maxAttempts: 5, min: 0, max: 0}
	_, err := withRetry(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, NewError(KindAuthFailed, "accounts", "bad password", errors.New("denied"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_StopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := retryConfig{maxAttempts: 5, min: 0, max: 0}

	_, err := withRetry(ctx, cfg, func() (int, error) {
		return 0, NewError(KindTimeout, "accounts", "slow query", errors.New("timeout"))
	})
	require.Error(t, err)
}

package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCronSpec(t *testing.T) {
	assert.Equal(t, "@every 30s", cronSpec(30*time.Second))
	assert.Equal(t, "@every 2m0s", cronSpec(2*time.Minute))
}

func TestMaxInt(t *testing.T) {
	assert.Equal(t, 5, maxInt(5, 3))
	assert.Equal(t, 5, maxInt(3, 5))
	assert.Equal(t, 1, maxInt(1, 1))
}

func TestPollLimiter_AllowsBurstThenThrottles(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	pl := NewPollLimiter(0.001, 2)

	assert.NoError(t, pl.Wait(ctx))
	assert.NoError(t, pl.Wait(ctx))
	// The burst is spent; the next token is ~1000s away, past the deadline.
	assert.Error(t, pl.Wait(ctx))
}

func TestPollLimiter_RespectsCancellation(t *testing.T) {
	pl := NewPollLimiter(0.001, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.NoError(t, pl.Wait(ctx))
	err := pl.Wait(ctx)
	assert.Error(t, err)
}

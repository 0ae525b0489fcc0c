package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	base := 10 * time.Second
	cap := 600 * time.Second

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 10 * time.Second},
		{1, 20 * time.Second},
		{2, 40 * time.Second},
		{3, 80 * time.Second},
		{6, cap}, // 10s*2^6 = 640s would exceed the 600s cap
	}

	for _, tt := range tests {
		got := backoff(tt.retryCount, base, cap)
		assert.Equal(t, tt.want, got, "retryCount=%d", tt.retryCount)
	}
}

func TestBackoff_CapsAtMax(t *testing.T) {
	got := backoff(10, 10*time.Second, 600*time.Second)
	assert.Equal(t, 600*time.Second, got)
}

func TestBackoff_NeverNegative(t *testing.T) {
	got := backoff(100, 10*time.Second, 600*time.Second)
	assert.Equal(t, 600*time.Second, got)
}

func TestBackoff_NegativeRetryCountTreatedAsZero(t *testing.T) {
	got := backoff(-1, 10*time.Second, 600*time.Second)
	assert.Equal(t, 10*time.Second, got)
}

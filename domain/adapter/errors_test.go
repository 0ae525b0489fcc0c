package adapter

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_ExtractsKindFromAdapterError(t *testing.T) {
	err := NewError(KindConnectionLost, "accounts", "dial failed", errors.New("refused"))
	assert.Equal(t, KindConnectionLost, KindOf(err))
}

func TestKindOf_DefaultsToUnknownForPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
}

func TestKindOf_UnwrapsThroughFmtWrap(t *testing.T) {
	inner := NewError(KindTimeout, "orders", "slow query", errors.New("deadline"))
	wrapped := fmt.Errorf("scan range: %w", inner)
	assert.Equal(t, KindTimeout, KindOf(wrapped))
}

func TestKind_Retryable(t *testing.T) {
	assert.True(t, KindConnectionLost.Retryable())
	assert.True(t, KindTimeout.Retryable())
	assert.False(t, KindAuthFailed.Retryable())
	assert.False(t, KindNotFound.Retryable())
	assert.False(t, KindTypeMismatch.Retryable())
	assert.False(t, KindConstraintViolation.Retryable())
	assert.False(t, KindUnknown.Retryable())
}

func TestError_MessageIncludesTableWhenSet(t *testing.T) {
	err := NewError(KindTimeout, "orders", "slow query", errors.New("deadline exceeded"))
	assert.Contains(t, err.Error(), "orders")
	assert.Contains(t, err.Error(), "slow query")
}

func TestError_MessageOmitsTableWhenUnset(t *testing.T) {
	err := NewError(KindUnknown, "", "generic failure", errors.New("cause"))
	assert.NotContains(t, err.Error(), "table=")
}

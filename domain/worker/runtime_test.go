package worker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coldwire-data/migrator/domain/adapter"
)

func TestAverageMS(t *testing.T) {
	assert.Equal(t, 0.0, averageMS(nil))
	assert.Equal(t, 100.0, averageMS([]int64{100}))
	assert.Equal(t, 150.0, averageMS([]int64{100, 200}))
}

func TestClassifyOpenErr_PreservesAdapterError(t *testing.T) {
	original := adapter.NewError(adapter.KindAuthFailed, "users", "bad password", errors.New("denied"))
	got := classifyOpenErr(original, "users")
	assert.Equal(t, adapter.KindAuthFailed, adapter.KindOf(got))
}

func TestClassifyOpenErr_WrapsPlainError(t *testing.T) {
	got := classifyOpenErr(errors.New("dial tcp: connection refused"), "users")
	assert.Equal(t, adapter.KindConnectionLost, adapter.KindOf(got))
}

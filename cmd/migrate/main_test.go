package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coldwire-data/migrator/domain/adapter"
)

func TestFlagValue(t *testing.T) {
	assert.Equal(t, "worker-1", flagValue([]string{"--id", "worker-1"}, "--id"))
	assert.Equal(t, "", flagValue([]string{"--id"}, "--id"))
	assert.Equal(t, "", flagValue([]string{"--other", "x"}, "--id"))
	assert.Equal(t, "", flagValue(nil, "--id"))
}

func TestIsUnreachable(t *testing.T) {
	connErr := adapter.NewError(adapter.KindConnectionLost, "accounts", "dial failed", errors.New("refused"))
	assert.True(t, isUnreachable(connErr))

	authErr := adapter.NewError(adapter.KindAuthFailed, "accounts", "bad password", errors.New("denied"))
	assert.False(t, isUnreachable(authErr))

	assert.False(t, isUnreachable(errors.New("plain error")))
}

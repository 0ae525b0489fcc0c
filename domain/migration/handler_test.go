package migration

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coldwire-data/migrator/domain/catalog"
	"github.com/coldwire-data/migrator/pkg/apperror"
)

func TestTerminal(t *testing.T) {
	assert.True(t, terminal(catalog.JobComplete))
	assert.True(t, terminal(catalog.JobFailed))
	assert.False(t, terminal(catalog.JobRunning))
	assert.False(t, terminal(catalog.JobPending))
	assert.False(t, terminal(catalog.JobPlanning))
	assert.False(t, terminal(catalog.JobPaused))
}

func TestJobError_NotFoundMapsTo404(t *testing.T) {
	err := jobError(catalog.ErrNotFound, "job-1")
	appErr, ok := err.(*apperror.Error)
	assert.True(t, ok)
	assert.Equal(t, "not_found", appErr.Code)
}

func TestJobError_OtherMapsToInternal(t *testing.T) {
	err := jobError(errors.New("boom"), "job-1")
	appErr, ok := err.(*apperror.Error)
	assert.True(t, ok)
	assert.Equal(t, "internal_error", appErr.Code)
}

package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coldwire-data/migrator/domain/adapter"
)

func TestChecksumAccumulator_OrderIndependent(t *testing.T) {
	a := &checksumAccumulator{}
	b := &checksumAccumulator{}

	rowX := adapter.Row{"id": 1, "name": "alice"}
	rowY := adapter.Row{"id": 2, "name": "bob"}

	a.add(rowX)
	a.add(rowY)

	b.add(rowY)
	b.add(rowX)

	assert.Equal(t, a.checksum(), b.checksum())
}

func TestChecksumAccumulator_DifferentContentDiffers(t *testing.T) {
	a := &checksumAccumulator{}
	b := &checksumAccumulator{}

	a.add(adapter.Row{"id": 1, "name": "alice"})
	b.add(adapter.Row{"id": 1, "name": "alicia"})

	assert.NotEqual(t, a.checksum(), b.checksum())
}

func TestHashRow_KeyOrderStable(t *testing.T) {
	row := adapter.Row{"z": 1, "a": 2, "m": 3}
	h1 := hashRow(row)
	h2 := hashRow(row)
	assert.Equal(t, h1, h2)
}

package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestBuildChunks_HappyPath reproduces §8 scenario 1: users(id INT PK) with
// 250,000 rows, chunk_size 100,000, pk range [1, 250000].
func TestBuildChunks_HappyPath(t *testing.T) {
	chunks := BuildChunks(1, 250000, 250000, 100000)

	assert.Len(t, chunks, 3)
	assert.Equal(t, int64(1), chunks[0].PKStart)
	assert.Equal(t, int64(83333), chunks[0].PKEnd)
	assert.Equal(t, int64(83334), chunks[1].PKStart)
	assert.Equal(t, int64(166666), chunks[1].PKEnd)
	assert.Equal(t, int64(166667), chunks[2].PKStart)
	assert.Equal(t, int64(250000), chunks[2].PKEnd)
}

func TestBuildChunks_CoversEntireRangeNoOverlap(t *testing.T) {
	chunks := BuildChunks(1, 999997, 999997, 100000)
	require := assert.New(t)

	require.Equal(int64(1), chunks[0].PKStart)
	require.Equal(int64(999997), chunks[len(chunks)-1].PKEnd)

	for i := 1; i < len(chunks); i++ {
		require.Equal(chunks[i-1].PKEnd+1, chunks[i].PKStart, "chunk %d must start immediately after chunk %d ends", i, i-1)
	}
}

func TestBuildChunks_SingleRowTable(t *testing.T) {
	chunks := BuildChunks(5, 5, 1, 100000)
	assert.Len(t, chunks, 1)
	assert.Equal(t, int64(5), chunks[0].PKStart)
	assert.Equal(t, int64(5), chunks[0].PKEnd)
}

func TestBuildChunks_EmptyWhenNoRows(t *testing.T) {
	assert.Nil(t, BuildChunks(1, 100, 0, 100000))
}

func TestBuildChunks_FewerDistinctKeysThanChunkCount(t *testing.T) {
	// A sparse pk range with a small span relative to rowCount must not
	// produce a zero-width or negative-width chunk.
	chunks := BuildChunks(1, 3, 1000, 100)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.PKStart, c.PKEnd)
	}
	assert.Equal(t, int64(1), chunks[0].PKStart)
	assert.Equal(t, int64(3), chunks[len(chunks)-1].PKEnd)
}

func TestIsIntegerType(t *testing.T) {
	assert.True(t, isIntegerType("int8"))
	assert.True(t, isIntegerType("bigint"))
	assert.False(t, isIntegerType("uuid"))
	assert.False(t, isIntegerType("text"))
}

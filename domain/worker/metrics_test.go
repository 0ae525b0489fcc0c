package worker

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveBulkInsert_RecordsLatency(t *testing.T) {
	observeBulkInsert("accounts", 42)
	assert.Equal(t, 1, testutil.CollectAndCount(bulkInsertLatency))
}

func TestObserveChunkOutcome_CompletedRecordsThroughput(t *testing.T) {
	chunksCompletedTotal.Reset()
	chunkThroughput.Reset()

	observeChunkOutcome("orders", "completed", 10_000, 2_000)
	assert.Equal(t, float64(1), testutil.ToFloat64(chunksCompletedTotal.WithLabelValues("orders", "completed")))
	assert.Equal(t, 1, testutil.CollectAndCount(chunkThroughput))
}

func TestObserveChunkOutcome_FailedSkipsThroughputSample(t *testing.T) {
	chunksCompletedTotal.Reset()
	chunkThroughput.Reset()

	observeChunkOutcome("orders", "failed", 0, 500)
	assert.Equal(t, float64(1), testutil.ToFloat64(chunksCompletedTotal.WithLabelValues("orders", "failed")))
	assert.Equal(t, 0, testutil.CollectAndCount(chunkThroughput))
}

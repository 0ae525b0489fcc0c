package batchctl

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordAdjustment_SetsGaugeAndCountsDirection(t *testing.T) {
	currentBatchSize.Reset()
	batchAdjustmentsTotal.Reset()

	recordAdjustment("worker-metrics-1", Decision{OldBatch: 5000, NewBatch: 7500, Reason: "growing"})
	assert.Equal(t, float64(7500), testutil.ToFloat64(currentBatchSize.WithLabelValues("worker-metrics-1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(batchAdjustmentsTotal.WithLabelValues("worker-metrics-1", "grow")))

	recordAdjustment("worker-metrics-1", Decision{OldBatch: 7500, NewBatch: 5000, Reason: "shrinking"})
	assert.Equal(t, float64(5000), testutil.ToFloat64(currentBatchSize.WithLabelValues("worker-metrics-1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(batchAdjustmentsTotal.WithLabelValues("worker-metrics-1", "shrink")))
}

func TestRecordAdjustment_NoOpStillUpdatesGauge(t *testing.T) {
	currentBatchSize.Reset()
	batchAdjustmentsTotal.Reset()

	recordAdjustment("worker-metrics-2", Decision{OldBatch: 5000, NewBatch: 5000, Reason: "within target"})
	assert.Equal(t, float64(5000), testutil.ToFloat64(currentBatchSize.WithLabelValues("worker-metrics-2")))
	assert.Equal(t, float64(0), testutil.ToFloat64(batchAdjustmentsTotal.WithLabelValues("worker-metrics-2", "grow")))
}

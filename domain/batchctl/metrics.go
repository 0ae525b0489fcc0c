package batchctl

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	currentBatchSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "migrator_batch_current_size",
		Help: "Current adaptive insert batch size per worker",
	}, []string{"worker_id"})

	batchAdjustmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "migrator_batch_adjustments_total",
		Help: "Total number of adaptive batch-size adjustments by direction",
	}, []string{"worker_id", "direction"})
)

func recordAdjustment(workerID string, d Decision) {
	currentBatchSize.WithLabelValues(workerID).Set(float64(d.NewBatch))
	if d.NewBatch == d.OldBatch {
		return
	}
	direction := "grow"
	if d.NewBatch < d.OldBatch {
		direction = "shrink"
	}
	batchAdjustmentsTotal.WithLabelValues(workerID, direction).Inc()
}

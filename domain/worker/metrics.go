package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bulkInsertLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "migrator_bulk_insert_latency_ms",
		Help:    "Latency of one BulkInsert call, by target table",
		Buckets: prometheus.ExponentialBuckets(5, 2, 12), // 5ms .. ~10s
	}, []string{"table"})

	chunkThroughput = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "migrator_chunk_throughput_rows_per_sec",
		Help:    "Rows processed per second, sampled once per completed chunk",
		Buckets: prometheus.ExponentialBuckets(100, 2, 12), // 100 .. ~200k rows/s
	}, []string{"table"})

	chunksCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "migrator_chunks_completed_total",
		Help: "Total chunks completed by outcome",
	}, []string{"table", "outcome"})
)

func observeBulkInsert(table string, latencyMS int64) {
	bulkInsertLatency.WithLabelValues(table).Observe(float64(latencyMS))
}

func observeChunkOutcome(table string, outcome string, rowsProcessed int64, durationMS int64) {
	chunksCompletedTotal.WithLabelValues(table, outcome).Inc()
	if outcome == "completed" && durationMS > 0 {
		chunkThroughput.WithLabelValues(table).Observe(float64(rowsProcessed) / (float64(durationMS) / 1000))
	}
}

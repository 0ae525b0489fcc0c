// Package batchctl implements the per-worker adaptive batch-size controller
// of §4.6: adjusts insert batch size to hit a target insert latency.
package batchctl

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/coldwire-data/migrator/domain/catalog"
	"github.com/coldwire-data/migrator/pkg/logger"
)

const (
	DefaultBatch    = 5000
	MinBatch        = 500
	MaxBatch        = 50000
	TargetLatencyMS = 200
)

// Decision is the outcome of one controller evaluation.
type Decision struct {
	OldBatch int
	NewBatch int
	Reason   string
}

// Decide implements the §4.6 formula in isolation so it can be unit tested
// without a catalog store:
//
//	if avg_latency < 0.5 * target: batch *= 1.5 (cap MaxBatch)
//	if avg_latency > 1.5 * target: batch /= 2  (floor MinBatch)
//	else: unchanged
func Decide(currentBatch int, avgLatencyMS, targetLatencyMS float64) Decision {
	switch {
	case avgLatencyMS < 0.5*targetLatencyMS:
		next := int(float64(currentBatch) * 1.5)
		if next > MaxBatch {
			next = MaxBatch
		}
		if next == currentBatch {
			return Decision{OldBatch: currentBatch, NewBatch: currentBatch, Reason: "below target latency but already at max batch"}
		}
		return Decision{OldBatch: currentBatch, NewBatch: next, Reason: "average latency below target, growing batch"}
	case avgLatencyMS > 1.5*targetLatencyMS:
		next := currentBatch / 2
		if next < MinBatch {
			next = MinBatch
		}
		if next == currentBatch {
			return Decision{OldBatch: currentBatch, NewBatch: currentBatch, Reason: "above target latency but already at min batch"}
		}
		return Decision{OldBatch: currentBatch, NewBatch: next, Reason: "average latency above target, shrinking batch"}
	default:
		return Decision{OldBatch: currentBatch, NewBatch: currentBatch, Reason: "within target latency band"}
	}
}

// Controller tracks currentBatch per worker and persists every adjustment
// to batch_size_history (§4.6).
type Controller struct {
	jobID     string
	workerID  string
	current   int
	targetMS  float64
	catalogDB batchHistoryWriter
	log       *slog.Logger
}

// batchHistoryWriter is the subset of *catalog.Repository the controller
// needs, kept as an interface so it can be faked in tests.
type batchHistoryWriter interface {
	RecordBatchSizeAdjustment(ctx context.Context, rec catalog.BatchSizeAdjustment) error
}

// New constructs a Controller seeded at DefaultBatch (or initialBatch, if
// positive — a job may configure its own starting batch size).
func New(jobID, workerID string, initialBatch int, history batchHistoryWriter, log *slog.Logger) *Controller {
	if initialBatch <= 0 {
		initialBatch = DefaultBatch
	}
	currentBatchSize.WithLabelValues(workerID).Set(float64(initialBatch))
	return &Controller{
		jobID:     jobID,
		workerID:  workerID,
		current:   initialBatch,
		targetMS:  TargetLatencyMS,
		catalogDB: history,
		log:       log.With(logger.Scope("batchctl")),
	}
}

// CurrentBatch returns the batch size the worker should use for its next
// set of inserts.
func (c *Controller) CurrentBatch() int {
	return c.current
}

// Sample feeds one observation (the average latency over the last K
// batches, per §4.6) and adopts the controller's recommendation, persisting
// the decision when it changes anything.
func (c *Controller) Sample(ctx context.Context, avgLatencyMS float64) error {
	d := Decide(c.current, avgLatencyMS, c.targetMS)
	recordAdjustment(c.workerID, d)
	if d.NewBatch == d.OldBatch {
		return nil
	}

	rec := catalog.BatchSizeAdjustment{
		ID:         uuid.NewString(),
		JobID:      c.jobID,
		WorkerID:   c.workerID,
		OldBatch:   d.OldBatch,
		NewBatch:   d.NewBatch,
		AvgLatency: avgLatencyMS,
		TargetLat:  c.targetMS,
		Reason:     d.Reason,
		CreatedAt:  time.Now(),
	}
	if err := c.catalogDB.RecordBatchSizeAdjustment(ctx, rec); err != nil {
		return err
	}

	c.log.Info("adjusted batch size",
		slog.Int("old_batch", d.OldBatch), slog.Int("new_batch", d.NewBatch),
		slog.Float64("avg_latency_ms", avgLatencyMS), slog.String("reason", d.Reason))
	c.current = d.NewBatch
	return nil
}

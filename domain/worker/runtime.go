// Package worker is the stateless chunk-execution engine of §4.5: a
// runtime that polls the catalog for work, moves one chunk's rows from
// source to target, and reports the outcome back to the catalog store.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/coldwire-data/migrator/domain/adapter"
	"github.com/coldwire-data/migrator/domain/catalog"
	"github.com/coldwire-data/migrator/domain/dispatcher"
	"github.com/coldwire-data/migrator/pkg/logger"
)

// NewAdapterFunc opens an Adapter for a connection descriptor — injected so
// tests can substitute a fake without a live database.
type NewAdapterFunc func(ctx context.Context, desc adapter.ConnDescriptor, log *slog.Logger) (adapter.Adapter, error)

// Runtime executes one chunk at a time for the lifetime of the process
// (§5: "one chunk is executed at a time" within a worker).
type Runtime struct {
	id              string
	repo            *catalog.Repository
	newAdapter      NewAdapterFunc
	heartbeatInt    time.Duration
	dropConstraints bool
	pollLimiter     *dispatcher.PollLimiter
	log             *slog.Logger
}

// Config bundles the runtime's tunables.
type Config struct {
	WorkerID          string
	HeartbeatInterval time.Duration
	DropConstraints   bool
}

func New(repo *catalog.Repository, newAdapter NewAdapterFunc, cfg Config, log *slog.Logger) *Runtime {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	return &Runtime{
		id:              cfg.WorkerID,
		repo:            repo,
		newAdapter:      newAdapter,
		heartbeatInt:    cfg.HeartbeatInterval,
		dropConstraints: cfg.DropConstraints,
		// 2 empty-queue polls/sec sustained, bursting to 2 immediate retries
		// right after finishing a chunk — keeps an idle fleet from hammering
		// ClaimNextChunk while still draining a newly-unpaused queue quickly.
		pollLimiter: dispatcher.NewPollLimiter(2, 2),
		log:         log.With(logger.Scope("worker"), slog.String("worker_id", cfg.WorkerID)),
	}
}

// Run loops claiming and executing chunks until ctx is cancelled (SIGINT at
// the CLI boundary, per §6).
func (rt *Runtime) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := rt.pollLimiter.Wait(ctx); err != nil {
			return nil
		}

		chunk, err := rt.repo.ClaimNextChunk(ctx, rt.id)
		if err != nil {
			rt.log.Error("claim failed, backing off", logger.Error(err))
			if !sleep(ctx, 2*time.Second) {
				return nil
			}
			continue
		}
		if chunk == nil {
			// Nothing eligible: sleep a random 100-500ms before polling again.
			if !sleep(ctx, 100*time.Millisecond+time.Duration(rand.Int63n(int64(400*time.Millisecond)))) {
				return nil
			}
			continue
		}

		rt.runChunk(ctx, chunk)
	}
}

// runChunk drives one claimed chunk through its heartbeat ticker and
// execution, reporting the outcome to the catalog exactly once.
func (rt *Runtime) runChunk(ctx context.Context, chunk *catalog.Chunk) {
	chunkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hbDone := make(chan struct{})
	go rt.heartbeatLoop(chunkCtx, chunk.ID, cancel, hbDone)
	defer func() {
		cancel()
		<-hbDone
	}()

	start := time.Now()
	result, err := rt.executeChunk(chunkCtx, chunk)
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, catalog.ErrChunkNotOwned) {
			rt.log.Warn("chunk cancelled, no further catalog update", slog.String("chunk_id", chunk.ID))
			return
		}
		rt.log.Error("chunk failed", logger.Error(err), slog.String("chunk_id", chunk.ID))
		observeChunkOutcome(chunk.TableName, "failed", result.rowsProcessed, durationMS)
		if failErr := rt.repo.FailChunk(ctx, chunk.ID, err.Error(), durationMS); failErr != nil {
			rt.log.Error("failed to record chunk failure", logger.Error(failErr))
		}
		return
	}

	observeChunkOutcome(chunk.TableName, "completed", result.rowsProcessed, durationMS)
	if err := rt.repo.CompleteChunk(ctx, chunk.ID, result.rowsProcessed, result.sourceRowCount, result.targetRowCount, durationMS, result.checksum); err != nil {
		rt.log.Error("failed to record chunk completion", logger.Error(err), slog.String("chunk_id", chunk.ID))
		return
	}
	if rt.dropConstraints {
		rt.maybeRestoreConstraints(ctx, chunk.JobID, chunk.TableID)
	}
}

// heartbeatLoop sends a catalog heartbeat every heartbeatInt and cancels the
// chunk's context the moment the catalog reports loss of ownership (§4.1,
// §4.5 cancellation contract).
func (rt *Runtime) heartbeatLoop(ctx context.Context, chunkID string, lostOwnership context.CancelFunc, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(rt.heartbeatInt)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rt.repo.Heartbeat(ctx, rt.id, chunkID, currentMemoryMB(), 0); err != nil {
				if errors.Is(err, catalog.ErrChunkNotOwned) {
					rt.log.Warn("lost ownership of chunk, cancelling", slog.String("chunk_id", chunkID))
					lostOwnership()
					return
				}
				rt.log.Error("heartbeat failed", logger.Error(err), slog.String("chunk_id", chunkID))
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

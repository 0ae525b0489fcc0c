package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coldwire-data/migrator/domain/adapter"
	"github.com/coldwire-data/migrator/domain/batchctl"
	"github.com/coldwire-data/migrator/domain/catalog"
	"github.com/coldwire-data/migrator/pkg/logger"
)

// chunkResult is what executeChunk hands back for CompleteChunk.
type chunkResult struct {
	rowsProcessed  int64
	sourceRowCount int64
	targetRowCount int64
	checksum       string
}

// batchesPerSample is N in §4.5 step 6: the adaptive controller is sampled
// every this-many flushed batches, not on every batch.
const batchesPerSample = 5

// executeChunk implements §4.5 steps 1-8.
func (rt *Runtime) executeChunk(ctx context.Context, chunk *catalog.Chunk) (chunkResult, error) {
	job, err := rt.repo.GetJob(ctx, chunk.JobID)
	if err != nil {
		return chunkResult{}, fmt.Errorf("load job: %w", err)
	}
	tables, err := rt.repo.GetTables(ctx, chunk.JobID)
	if err != nil {
		return chunkResult{}, fmt.Errorf("load tables: %w", err)
	}
	var table *catalog.Table
	for i := range tables {
		if tables[i].ID == chunk.TableID {
			table = &tables[i]
			break
		}
	}
	if table == nil {
		return chunkResult{}, fmt.Errorf("table %s not found for chunk %s", chunk.TableID, chunk.ID)
	}

	// Step 1: open source and target adapters, short-circuiting on fatal
	// connection errors by surfacing them as a chunk failure immediately.
	src, err := rt.newAdapter(ctx, job.Source.ToAdapter(), rt.log)
	if err != nil {
		return chunkResult{}, classifyOpenErr(err, table.Name)
	}
	defer src.Close()

	tgt, err := rt.newAdapter(ctx, job.Target.ToAdapter(), rt.log)
	if err != nil {
		return chunkResult{}, classifyOpenErr(err, table.TargetName)
	}
	defer tgt.Close()

	// Step 2: optionally drop target-side constraints, guarded so only one
	// worker performs this per table (§5).
	if rt.dropConstraints {
		if err := rt.maybeDropConstraints(ctx, tgt, job.ID, table.TargetName); err != nil {
			rt.log.Warn("constraint drop skipped", logger.Error(err), slog.String("table", table.TargetName))
		}
	}

	mappings := job.TableMappings
	tf, err := newTransformer(table.Name, mappings)
	if err != nil {
		return chunkResult{}, err
	}

	controller := batchctl.New(job.ID, rt.id, job.DefaultBatchSize, rt.repo, rt.log)

	stream, err := src.ScanRange(ctx, table.Name, table.PKColumn, chunk.PKStart, chunk.PKEnd)
	if err != nil {
		return chunkResult{}, err
	}
	defer stream.Close()

	acc := &checksumAccumulator{}
	var rowsProcessed int64
	var latencySamples []int64
	batchesSinceSample := 0

	buffer := make([]adapter.Row, 0, controller.CurrentBatch())
	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		res, err := tgt.BulkInsert(ctx, table.TargetName, buffer)
		if err != nil {
			return err
		}
		observeBulkInsert(table.TargetName, res.LatencyMS)
		rowsProcessed += int64(res.RowsInserted)
		latencySamples = append(latencySamples, res.LatencyMS)
		batchesSinceSample++
		buffer = buffer[:0]

		if batchesSinceSample >= batchesPerSample {
			avg := averageMS(latencySamples)
			if err := controller.Sample(ctx, avg); err != nil {
				rt.log.Warn("failed to persist batch size adjustment", logger.Error(err))
			}
			latencySamples = latencySamples[:0]
			batchesSinceSample = 0
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return chunkResult{}, ctx.Err()
		default:
		}

		row, ok, err := stream.Next(ctx)
		if err != nil {
			return chunkResult{}, err
		}
		if !ok {
			break
		}

		// Step 4: column remap + per-column transforms.
		mapped, err := tf.apply(row)
		if err != nil {
			return chunkResult{}, err
		}
		acc.add(mapped)
		buffer = append(buffer, mapped)

		// Step 3/5: flush once the buffer reaches the adaptive batch size.
		if len(buffer) >= controller.CurrentBatch() {
			if err := flush(); err != nil {
				return chunkResult{}, err
			}
		}
	}
	if err := flush(); err != nil {
		return chunkResult{}, err
	}

	srcCount := rowsProcessed
	tgtCount := rowsProcessed
	if job.ValidateRowCounts {
		srcCount, err = countRange(ctx, src, table.Name, table.PKColumn, chunk.PKStart, chunk.PKEnd)
		if err != nil {
			rt.log.Warn("row count validation skipped on source", logger.Error(err))
			srcCount = rowsProcessed
		}
	}

	return chunkResult{
		rowsProcessed:  rowsProcessed,
		sourceRowCount: srcCount,
		targetRowCount: tgtCount,
		checksum:       acc.checksum(),
	}, nil
}

// maybeDropConstraints claims the per-table drop guard (§5) and, if this
// worker wins the race, drops and persists constraints for later restore.
func (rt *Runtime) maybeDropConstraints(ctx context.Context, tgt adapter.Adapter, jobID, targetTable string) error {
	won, err := rt.repo.ClaimConstraintDrop(ctx, jobID, targetTable, rt.id)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	backups, err := tgt.DropAndBackupConstraints(ctx, targetTable)
	if err != nil {
		return err
	}
	return rt.repo.SaveConstraintBackups(ctx, jobID, targetTable, rt.id, backups)
}

// maybeRestoreConstraints runs after a chunk completes and checks whether it
// just finished the last chunk of its table; if so, and this table had
// constraints dropped for bulk-load, it restores them (§5). Any worker that
// happens to complete the table's last chunk does the restore — there is no
// election here, only the guarded backup rows to restore from, and
// MarkConstraintsRestored keeps a concurrent second attempt a no-op.
func (rt *Runtime) maybeRestoreConstraints(ctx context.Context, jobID, tableID string) {
	table, err := rt.repo.GetTable(ctx, tableID)
	if err != nil {
		rt.log.Warn("could not load table for constraint restore check", logger.Error(err))
		return
	}
	if table.Status != catalog.TableComplete {
		return
	}

	backups, err := rt.repo.GetConstraintBackups(ctx, jobID, table.TargetName)
	if err != nil {
		rt.log.Warn("could not load constraint backups", logger.Error(err), slog.String("table", table.TargetName))
		return
	}
	if len(backups) == 0 {
		return
	}

	job, err := rt.repo.GetJob(ctx, jobID)
	if err != nil {
		rt.log.Warn("could not load job for constraint restore", logger.Error(err))
		return
	}
	tgt, err := rt.newAdapter(ctx, job.Target.ToAdapter(), rt.log)
	if err != nil {
		rt.log.Warn("could not open target adapter for constraint restore", logger.Error(err), slog.String("table", table.TargetName))
		return
	}
	defer tgt.Close()

	if err := tgt.RestoreConstraints(ctx, table.TargetName, backups); err != nil {
		rt.log.Error("failed to restore constraints", logger.Error(err), slog.String("table", table.TargetName))
		return
	}
	if err := rt.repo.MarkConstraintsRestored(ctx, jobID, table.TargetName); err != nil {
		rt.log.Error("failed to mark constraints restored", logger.Error(err), slog.String("table", table.TargetName))
	}
}

func averageMS(samples []int64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum int64
	for _, s := range samples {
		sum += s
	}
	return float64(sum) / float64(len(samples))
}

// countRange re-scans the source range to obtain an authoritative row count
// for validation (§9(b)); used only when a job opts in, since it doubles
// the source read for the chunk.
func countRange(ctx context.Context, src adapter.Adapter, table, pkColumn string, lo, hi int64) (int64, error) {
	stream, err := src.ScanRange(ctx, table, pkColumn, lo, hi)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	var n int64
	for {
		_, ok, err := stream.Next(ctx)
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}

func classifyOpenErr(err error, table string) error {
	if _, ok := err.(*adapter.Error); ok {
		return err
	}
	return adapter.NewError(adapter.KindConnectionLost, table, "failed to open adapter", err)
}

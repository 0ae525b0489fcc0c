package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/coldwire-data/migrator/domain/adapter"
	"github.com/coldwire-data/migrator/domain/mapping"
	"github.com/coldwire-data/migrator/pkg/logger"
)

// ErrChunkNotOwned is returned by Heartbeat when the caller no longer
// owns the chunk it is trying to update — the worker's
// contract (§4.1) is to treat this as cancellation.
var ErrChunkNotOwned = errors.New("catalog: chunk is no longer owned by this worker")

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("catalog: not found")

// ErrAlreadyPlanned is returned by InsertTablesAndChunks when a job has
// already been planned — §9(a) forbids adding chunks after planning.
var ErrAlreadyPlanned = errors.New("catalog: job has already been planned")

// TableSpec and ChunkSpec are the planner's output, written atomically by
// InsertTablesAndChunks.
type TableSpec struct {
	Name             string
	TargetName       string
	PKColumn         string
	RowCountEstimate int64
	Chunks           []ChunkSpec
	FailureReason    string // set when the planner could not plan this table
}

type ChunkSpec struct {
	PKStart int64
	PKEnd   int64
}

// Repository is the catalog store of §4.1: every method here is either a
// single statement or a single transaction, and every transition that
// changes a chunk's status also keeps its table's and job's counters
// coherent in the same unit of work (§4.1.1, §8 counter coherence).
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{db: db, log: log.With(logger.Scope("catalog.repository"))}
}

// CreateJob inserts the job row in state pending.
func (r *Repository) CreateJob(ctx context.Context, source, target ConnDescriptor, tableMappings mapping.TableMappings, defaultBatchSize int, failureThresholdPct float64, validateRowCounts bool) (*Job, error) {
	if defaultBatchSize <= 0 {
		defaultBatchSize = 5000
	}
	if tableMappings == nil {
		tableMappings = mapping.TableMappings{}
	}
	job := &Job{
		ID:                  uuid.NewString(),
		Source:              source,
		Target:              target,
		Status:              JobPending,
		FailureThresholdPct: failureThresholdPct,
		ValidateRowCounts:   validateRowCounts,
		TableMappings:       tableMappings,
		DefaultBatchSize:    defaultBatchSize,
		CreatedAt:           time.Now(),
	}
	if _, err := r.db.NewInsert().Model(job).Exec(ctx); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// InsertTablesAndChunks writes the planner's entire output in one
// transaction: one table row per source table, one chunk row per pk-range,
// and the job's total_tables/total_chunks counters. Rejects a job that has
// already left status pending (§9(a): chunks are never added after
// planning).
func (r *Repository) InsertTablesAndChunks(ctx context.Context, jobID string, specs []TableSpec) error {
	return inTx(ctx, r.db, func(tx bun.Tx) error {
		var job Job
		if err := tx.NewSelect().Model(&job).Where("id = ?", jobID).For("UPDATE").Scan(ctx); err != nil {
			return fmt.Errorf("load job: %w", err)
		}
		if job.Status != JobPending {
			return ErrAlreadyPlanned
		}

		now := time.Now()
		totalChunks := 0
		tablesCompleted := 0

		for _, spec := range specs {
			table := &Table{
				ID:               uuid.NewString(),
				JobID:            jobID,
				Name:             spec.Name,
				TargetName:       spec.TargetName,
				PKColumn:         spec.PKColumn,
				RowCountEstimate: spec.RowCountEstimate,
				TotalChunks:      len(spec.Chunks),
				Status:           TablePending,
				FailureReason:    spec.FailureReason,
				CreatedAt:        now,
			}
			if spec.FailureReason != "" {
				table.Status = TableFailed
			} else if len(spec.Chunks) == 0 {
				// Empty table: skip chunk creation, mark completed
				// immediately so job counters are not inflated (§4.3 step 2).
				table.Status = TableComplete
				table.CompletedAt = &now
				tablesCompleted++
			}

			if _, err := tx.NewInsert().Model(table).Exec(ctx); err != nil {
				return fmt.Errorf("insert table %s: %w", spec.Name, err)
			}

			chunks := make([]*Chunk, 0, len(spec.Chunks))
			for _, c := range spec.Chunks {
				chunks = append(chunks, &Chunk{
					ID:               uuid.NewString(),
					JobID:            jobID,
					TableID:          table.ID,
					TableName:        spec.Name,
					PKStart:          c.PKStart,
					PKEnd:            c.PKEnd,
					Status:           ChunkPending,
					MaxRetries:       3,
					ValidationStatus: ValidationPending,
					CreatedAt:        now,
				})
			}
			if len(chunks) > 0 {
				if _, err := tx.NewInsert().Model(&chunks).Exec(ctx); err != nil {
					return fmt.Errorf("insert chunks for %s: %w", spec.Name, err)
				}
			}
			totalChunks += len(chunks)
		}

		newStatus := JobPlanning
		if tablesCompleted == len(specs) {
			// Every table was empty; nothing left to run.
			newStatus = JobComplete
		}

		_, err := tx.NewUpdate().Model((*Job)(nil)).
			Set("total_tables = ?", len(specs)).
			Set("total_chunks = ?", totalChunks).
			Set("status = ?", newStatus).
			Set("started_at = ?", now).
			Where("id = ?", jobID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update job counters: %w", err)
		}
		return nil
	})
}

// ClaimNextChunk selects one chunk eligible for execution (§4.1.2) and
// atomically transitions it to running. Returns nil, nil when no chunk is
// eligible.
func (r *Repository) ClaimNextChunk(ctx context.Context, workerID string) (*Chunk, error) {
	var claimed Chunk

	err := inTx(ctx, r.db, func(tx bun.Tx) error {
		var candidate Chunk
		err := tx.NewSelect().Model(&candidate).
			Join("JOIN jobs AS j ON j.id = c.job_id").
			Where("c.status = ?", ChunkPending).
			Where("(c.next_retry_at IS NULL OR c.next_retry_at <= now())").
			Where("j.paused = false").
			Where("j.status IN (?)", bun.In([]JobStatus{JobPlanning, JobRunning})).
			OrderExpr("j.priority ASC, c.next_retry_at ASC NULLS FIRST, c.created_at ASC").
			Limit(1).
			For("UPDATE OF c SKIP LOCKED").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("select candidate chunk: %w", err)
		}

		now := time.Now()
		res, err := tx.NewUpdate().Model((*Chunk)(nil)).
			Set("status = ?", ChunkRunning).
			Set("worker_id = ?", workerID).
			Set("started_at = ?", now).
			Set("last_heartbeat = ?", now).
			Where("id = ? AND status = ?", candidate.ID, ChunkPending).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("claim chunk: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			// Lost the race to another claimer between select and update;
			// caller retries on its own poll loop, same as claiming none.
			return nil
		}

		candidate.Status = ChunkRunning
		candidate.WorkerID = &workerID
		candidate.StartedAt = &now
		candidate.LastHeartbeat = &now
		claimed = candidate

		if _, err := tx.NewUpdate().Model((*Table)(nil)).
			Set("status = ?", TableRunning).
			Where("id = ? AND status = ?", candidate.TableID, TablePending).
			Exec(ctx); err != nil {
			return fmt.Errorf("mark table running: %w", err)
		}
		if _, err := tx.NewUpdate().Model((*Job)(nil)).
			Set("status = ?", JobRunning).
			Where("id = ? AND status = ?", candidate.JobID, JobPlanning).
			Exec(ctx); err != nil {
			return fmt.Errorf("mark job running: %w", err)
		}

		return upsertHeartbeat(ctx, tx, workerID, &candidate.ID, WorkerBusy, now)
	})
	if err != nil {
		return nil, err
	}
	if claimed.ID == "" {
		return nil, nil
	}
	return &claimed, nil
}

// Heartbeat updates last_heartbeat and records a throughput/memory sample.
// Fails with ErrChunkNotOwned if the chunk is no longer owned by workerID —
// the caller must treat that as cancellation (§4.1, §4.5).
func (r *Repository) Heartbeat(ctx context.Context, workerID, chunkID string, memoryMB, throughputRowsPerSec float64) error {
	return inTx(ctx, r.db, func(tx bun.Tx) error {
		var jobID string
		if err := tx.NewSelect().Model((*Chunk)(nil)).Column("job_id").
			Where("id = ?", chunkID).Scan(ctx, &jobID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrChunkNotOwned
			}
			return fmt.Errorf("heartbeat: load chunk job: %w", err)
		}

		now := time.Now()
		res, err := tx.NewUpdate().Model((*Chunk)(nil)).
			Set("last_heartbeat = ?", now).
			Set("memory_peak_mb = GREATEST(memory_peak_mb, ?)", memoryMB).
			Set("throughput_rows_per_sec = ?", throughputRowsPerSec).
			Where("id = ? AND worker_id = ? AND status = ?", chunkID, workerID, ChunkRunning).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("heartbeat: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrChunkNotOwned
		}

		sample := &PerformanceMetric{
			ID:              uuid.NewString(),
			JobID:           jobID,
			WorkerID:        workerID,
			ChunkID:         &chunkID,
			ThroughputRowsS: throughputRowsPerSec,
			MemoryMB:        memoryMB,
			RecordedAt:      now,
		}
		if _, err := tx.NewInsert().Model(sample).Exec(ctx); err != nil {
			return fmt.Errorf("heartbeat: record performance sample: %w", err)
		}

		return upsertHeartbeat(ctx, tx, workerID, &chunkID, WorkerBusy, now)
	})
}

// CompleteChunk transitions chunk to completed (or, when validation is
// enabled and row counts disagree, schedules it for re-execution per
// §9(b)) and keeps table/job counters coherent in the same transaction.
func (r *Repository) CompleteChunk(ctx context.Context, chunkID string, rowsProcessed, srcCount, tgtCount, durationMS int64, checksum string) error {
	return inTx(ctx, r.db, func(tx bun.Tx) error {
		var chunk Chunk
		if err := tx.NewSelect().Model(&chunk).Where("id = ?", chunkID).For("UPDATE").Scan(ctx); err != nil {
			return fmt.Errorf("load chunk: %w", err)
		}
		var job Job
		if err := tx.NewSelect().Model(&job).Where("id = ?", chunk.JobID).Scan(ctx); err != nil {
			return fmt.Errorf("load job: %w", err)
		}

		now := time.Now()
		mismatch := job.ValidateRowCounts && srcCount != tgtCount

		if mismatch {
			// §9(b): re-execution, not silent acceptance. Chunk goes back to
			// pending immediately (retry_count untouched — this is not a
			// failure attempt, it is a validation-triggered redo).
			_, err := tx.NewUpdate().Model((*Chunk)(nil)).
				Set("status = ?", ChunkPending).
				Set("worker_id = NULL").
				Set("validation_status = ?", ValidationFailed).
				Set("source_row_count = ?", srcCount).
				Set("target_row_count = ?", tgtCount).
				Set("next_retry_at = ?", now).
				Where("id = ?", chunkID).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("requeue mismatched chunk: %w", err)
			}
			return insertExecutionLog(ctx, tx, &chunk, ChunkPending, rowsProcessed, &srcCount, &tgtCount, durationMS, "row count mismatch: validation failed")
		}

		validation := ValidationValidated
		if !job.ValidateRowCounts {
			validation = ValidationPending
		}

		_, err := tx.NewUpdate().Model((*Chunk)(nil)).
			Set("status = ?", ChunkComplete).
			Set("rows_processed = ?", rowsProcessed).
			Set("source_row_count = ?", srcCount).
			Set("target_row_count = ?", tgtCount).
			Set("checksum = ?", checksum).
			Set("duration_ms = ?", durationMS).
			Set("completed_at = ?", now).
			Set("validation_status = ?", validation).
			Where("id = ?", chunkID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("complete chunk: %w", err)
		}

		if err := recomputeCounters(ctx, tx, chunk.TableID, chunk.JobID); err != nil {
			return err
		}
		return insertExecutionLog(ctx, tx, &chunk, ChunkComplete, rowsProcessed, &srcCount, &tgtCount, durationMS, "")
	})
}

// FailChunk increments retry_count; if still under max_retries it
// reschedules the chunk with backoff(retry_count) (§4.1.3), otherwise marks
// it terminal failed. Writes an execution-log row either way.
func (r *Repository) FailChunk(ctx context.Context, chunkID, errMsg string, durationMS int64) error {
	return inTx(ctx, r.db, func(tx bun.Tx) error {
		var chunk Chunk
		if err := tx.NewSelect().Model(&chunk).Where("id = ?", chunkID).For("UPDATE").Scan(ctx); err != nil {
			return fmt.Errorf("load chunk: %w", err)
		}
		if chunk.Status != ChunkRunning {
			// Already failed, reaped or completed by another caller.
			return nil
		}

		retryCount := chunk.RetryCount + 1
		now := time.Now()
		terminal := retryCount >= chunk.MaxRetries

		upd := tx.NewUpdate().Model((*Chunk)(nil)).
			Set("retry_count = ?", retryCount).
			Set("last_error = ?", truncate(errMsg, 2000)).
			Set("worker_id = NULL").
			Set("duration_ms = ?", durationMS)

		finalStatus := ChunkFailed
		if terminal {
			upd = upd.Set("status = ?", ChunkFailed).Set("next_retry_at = NULL")
		} else {
			finalStatus = ChunkPending
			next := now.Add(backoff(retryCount, defaultBackoffBase, defaultBackoffCap))
			upd = upd.Set("status = ?", ChunkPending).Set("next_retry_at = ?", next)
		}

		if _, err := upd.Where("id = ?", chunkID).Exec(ctx); err != nil {
			return fmt.Errorf("fail chunk: %w", err)
		}

		if terminal {
			if err := recomputeCounters(ctx, tx, chunk.TableID, chunk.JobID); err != nil {
				return err
			}
		}
		return insertExecutionLog(ctx, tx, &chunk, finalStatus, chunk.RowsProcessed, nil, nil, durationMS, errMsg)
	})
}

// ReapDeadWorkers fails every chunk in state running whose last_heartbeat is
// older than threshold, routing it through the same retry logic as
// FailChunk, and returns the number reaped.
func (r *Repository) ReapDeadWorkers(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold)

	var stale []Chunk
	err := r.db.NewSelect().Model(&stale).
		Where("status = ?", ChunkRunning).
		Where("last_heartbeat < ?", cutoff).
		Scan(ctx)
	if err != nil {
		return 0, fmt.Errorf("select stale chunks: %w", err)
	}

	for _, c := range stale {
		if err := r.FailChunk(ctx, c.ID, "heartbeat timeout", 0); err != nil {
			return 0, fmt.Errorf("reap chunk %s: %w", c.ID, err)
		}
		r.log.Warn("reaped dead worker's chunk",
			slog.String("chunk_id", c.ID), slog.String("worker_id", derefStr(c.WorkerID)))
	}
	return len(stale), nil
}

// JobHealth is the counters the failure supervisor needs (§4.4 step 3).
type JobHealth struct {
	JobID               string
	Status              JobStatus
	TotalChunks         int
	CompletedChunks     int
	FailedChunks        int
	FailureThresholdPct float64
}

// QueryJobHealth returns the counters needed by the supervisor.
func (r *Repository) QueryJobHealth(ctx context.Context, jobID string) (*JobHealth, error) {
	var job Job
	if err := r.db.NewSelect().Model(&job).Where("id = ?", jobID).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job health: %w", err)
	}
	return &JobHealth{
		JobID:               job.ID,
		Status:              job.Status,
		TotalChunks:         job.TotalChunks,
		CompletedChunks:     job.CompletedChunks,
		FailedChunks:        job.FailedChunks,
		FailureThresholdPct: job.FailureThresholdPct,
	}, nil
}

// JobMetrics is one live snapshot of a job's throughput/memory/latency time
// series (§6 streaming readers, §12 metrics stream), aggregated from the
// chunks that have reported at least one heartbeat or completion.
type JobMetrics struct {
	CompletedChunks    int
	FailedChunks       int
	TotalChunks        int
	ThroughputRowsPerS float64
	PeakMemoryMB       float64
	AvgInsertLatencyMS float64
}

// QueryJobMetrics aggregates the live per-chunk counters into one sample.
// Throughput is summed across chunks currently running; peak memory and
// average latency are taken over every chunk that has reported at least one
// heartbeat.
func (r *Repository) QueryJobMetrics(ctx context.Context, jobID string) (*JobMetrics, error) {
	health, err := r.QueryJobHealth(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var m JobMetrics
	err = r.db.NewSelect().Model((*Chunk)(nil)).
		ColumnExpr("COALESCE(SUM(throughput_rows_per_sec) FILTER (WHERE status = ?), 0) AS throughput_rows_per_s", ChunkRunning).
		ColumnExpr("COALESCE(MAX(memory_peak_mb), 0) AS peak_memory_mb").
		ColumnExpr("COALESCE(AVG(NULLIF(insert_latency_ms, 0)), 0) AS avg_insert_latency_ms").
		Where("job_id = ? AND (status = ? OR last_heartbeat IS NOT NULL)", jobID, ChunkRunning).
		Scan(ctx, &m.ThroughputRowsPerS, &m.PeakMemoryMB, &m.AvgInsertLatencyMS)
	if err != nil {
		return nil, fmt.Errorf("query job metrics: %w", err)
	}

	m.CompletedChunks = health.CompletedChunks
	m.FailedChunks = health.FailedChunks
	m.TotalChunks = health.TotalChunks
	return &m, nil
}

// FailJob transitions a job to terminal failed, stamping auto_failed_at.
func (r *Repository) FailJob(ctx context.Context, jobID, reason string) error {
	now := time.Now()
	_, err := r.db.NewUpdate().Model((*Job)(nil)).
		Set("status = ?", JobFailed).
		Set("last_error = ?", reason).
		Set("auto_failed_at = ?", now).
		Set("completed_at = ?", now).
		Where("id = ? AND status NOT IN (?)", jobID, bun.In([]JobStatus{JobComplete, JobFailed})).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// CompleteJob transitions a job to terminal completed.
func (r *Repository) CompleteJob(ctx context.Context, jobID string) error {
	now := time.Now()
	_, err := r.db.NewUpdate().Model((*Job)(nil)).
		Set("status = ?", JobComplete).
		Set("completed_at = ?", now).
		Where("id = ? AND status NOT IN (?)", jobID, bun.In([]JobStatus{JobComplete, JobFailed})).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// RetryChunk is the operator-initiated reset named in §6/§4.7: clears
// retry_count to zero, status to pending, next_retry_at to now. Only valid
// on a terminal failed chunk.
func (r *Repository) RetryChunk(ctx context.Context, chunkID string) error {
	return inTx(ctx, r.db, func(tx bun.Tx) error {
		var chunk Chunk
		if err := tx.NewSelect().Model(&chunk).Where("id = ?", chunkID).For("UPDATE").Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("load chunk: %w", err)
		}
		if chunk.Status != ChunkFailed {
			return fmt.Errorf("catalog: chunk %s is not in a terminal failed state", chunkID)
		}

		now := time.Now()
		if _, err := tx.NewUpdate().Model((*Chunk)(nil)).
			Set("status = ?", ChunkPending).
			Set("retry_count = 0").
			Set("next_retry_at = ?", now).
			Set("last_error = ''").
			Where("id = ?", chunkID).
			Exec(ctx); err != nil {
			return fmt.Errorf("reset chunk: %w", err)
		}
		return recomputeCounters(ctx, tx, chunk.TableID, chunk.JobID)
	})
}

// PauseJob stops the dispatcher from handing out new chunks for jobID;
// in-flight chunks complete normally (§5).
func (r *Repository) PauseJob(ctx context.Context, jobID string) error {
	_, err := r.db.NewUpdate().Model((*Job)(nil)).Set("paused = true").Where("id = ?", jobID).Exec(ctx)
	return err
}

// ResumeJob clears the pause flag.
func (r *Repository) ResumeJob(ctx context.Context, jobID string) error {
	_, err := r.db.NewUpdate().Model((*Job)(nil)).Set("paused = false").Where("id = ?", jobID).Exec(ctx)
	return err
}

func (r *Repository) ListJobs(ctx context.Context) ([]Job, error) {
	var jobs []Job
	err := r.db.NewSelect().Model(&jobs).OrderExpr("created_at DESC").Scan(ctx)
	return jobs, err
}

func (r *Repository) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	err := r.db.NewSelect().Model(&job).Where("id = ?", jobID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &job, err
}

func (r *Repository) GetTables(ctx context.Context, jobID string) ([]Table, error) {
	var tables []Table
	err := r.db.NewSelect().Model(&tables).Where("job_id = ?", jobID).OrderExpr("name ASC").Scan(ctx)
	return tables, err
}

func (r *Repository) GetTable(ctx context.Context, tableID string) (*Table, error) {
	var table Table
	err := r.db.NewSelect().Model(&table).Where("id = ?", tableID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &table, err
}

// RecordBatchSizeAdjustment appends one row to batch_size_history (§4.6).
func (r *Repository) RecordBatchSizeAdjustment(ctx context.Context, rec BatchSizeAdjustment) error {
	if _, err := r.db.NewInsert().Model(&rec).Exec(ctx); err != nil {
		return fmt.Errorf("record batch size adjustment: %w", err)
	}
	return nil
}

func (r *Repository) GetChunks(ctx context.Context, tableID string) ([]Chunk, error) {
	var chunks []Chunk
	err := r.db.NewSelect().Model(&chunks).Where("table_id = ?", tableID).OrderExpr("pk_start ASC").Scan(ctx)
	return chunks, err
}

// constraintDropGuardObject is the sentinel object name the guard row uses;
// it never corresponds to a real index or foreign key.
const constraintDropGuardObject = "__drop_guard__"

// ClaimConstraintDrop implements the §5 shared-resource rule that only one
// worker may drop constraints for a given target table. It inserts a
// sentinel row guarded by the unique (job_id, table_name, object_name)
// constraint; the insert that actually lands wins the race.
func (r *Repository) ClaimConstraintDrop(ctx context.Context, jobID, tableName, workerID string) (bool, error) {
	guard := &ConstraintBackup{
		ID:         uuid.NewString(),
		JobID:      jobID,
		TableName:  tableName,
		ObjectName: constraintDropGuardObject,
		ObjectType: "index",
		Definition: "",
		UpdatedBy:  workerID,
		DroppedAt:  time.Now(),
	}
	res, err := r.db.NewInsert().Model(guard).On("CONFLICT (job_id, table_name, object_name) DO NOTHING").Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("claim constraint drop: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim constraint drop: %w", err)
	}
	return n > 0, nil
}

// SaveConstraintBackups persists what DropAndBackupConstraints removed, so a
// later worker can RestoreConstraints once the table's chunks complete.
func (r *Repository) SaveConstraintBackups(ctx context.Context, jobID, tableName, workerID string, backups []adapter.ConstraintBackup) error {
	if len(backups) == 0 {
		return nil
	}
	rows := make([]ConstraintBackup, 0, len(backups))
	now := time.Now()
	for _, b := range backups {
		rows = append(rows, ConstraintBackup{
			ID:         uuid.NewString(),
			JobID:      jobID,
			TableName:  tableName,
			ObjectName: b.ObjectName,
			ObjectType: b.ObjectType,
			Definition: b.Definition,
			UpdatedBy:  workerID,
			DroppedAt:  now,
		})
	}
	if _, err := r.db.NewInsert().Model(&rows).On("CONFLICT (job_id, table_name, object_name) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("save constraint backups: %w", err)
	}
	return nil
}

// GetConstraintBackups returns every restorable object recorded for a table,
// excluding the internal drop guard sentinel.
func (r *Repository) GetConstraintBackups(ctx context.Context, jobID, tableName string) ([]adapter.ConstraintBackup, error) {
	var rows []ConstraintBackup
	err := r.db.NewSelect().Model(&rows).
		Where("job_id = ?", jobID).
		Where("table_name = ?", tableName).
		Where("object_name != ?", constraintDropGuardObject).
		Where("restored_at IS NULL").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get constraint backups: %w", err)
	}
	out := make([]adapter.ConstraintBackup, 0, len(rows))
	for _, row := range rows {
		out = append(out, adapter.ConstraintBackup{
			ObjectName: row.ObjectName,
			ObjectType: row.ObjectType,
			Definition: row.Definition,
		})
	}
	return out, nil
}

// MarkConstraintsRestored stamps restored_at on every backup row for a table
// once RestoreConstraints has run, so GetConstraintBackups won't offer them
// again.
func (r *Repository) MarkConstraintsRestored(ctx context.Context, jobID, tableName string) error {
	_, err := r.db.NewUpdate().Model((*ConstraintBackup)(nil)).
		Set("restored_at = ?", time.Now()).
		Where("job_id = ?", jobID).
		Where("table_name = ?", tableName).
		Where("restored_at IS NULL").
		Where("object_name != ?", constraintDropGuardObject).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark constraints restored: %w", err)
	}
	return nil
}

// recomputeCounters re-derives completed_chunks/failed_chunks for a table
// and its job from the actual chunk rows, satisfying the counter-coherence
// invariant of §4.1.1/§8 by construction rather than by incremental
// bookkeeping that could drift under concurrent writers.
func recomputeCounters(ctx context.Context, tx bun.Tx, tableID, jobID string) error {
	var tc, fc int
	err := tx.NewSelect().Model((*Chunk)(nil)).
		ColumnExpr("count(*) FILTER (WHERE status = ?) AS tc", ChunkComplete).
		ColumnExpr("count(*) FILTER (WHERE status = ? AND retry_count >= max_retries) AS fc", ChunkFailed).
		Where("table_id = ?", tableID).
		Scan(ctx, &tc, &fc)
	if err != nil {
		return fmt.Errorf("recompute table counters: %w", err)
	}

	var table Table
	if err := tx.NewSelect().Model(&table).Where("id = ?", tableID).Scan(ctx); err != nil {
		return fmt.Errorf("load table: %w", err)
	}

	tableStatus := table.Status
	var completedAt *time.Time
	if tc+fc == table.TotalChunks && table.TotalChunks > 0 {
		if fc == 0 {
			tableStatus = TableComplete
		} else {
			tableStatus = TableFailed
		}
		now := time.Now()
		completedAt = &now
	}

	if _, err := tx.NewUpdate().Model((*Table)(nil)).
		Set("completed_chunks = ?", tc).
		Set("failed_chunks = ?", fc).
		Set("status = ?", tableStatus).
		Set("completed_at = COALESCE(completed_at, ?)", completedAt).
		Where("id = ?", tableID).
		Exec(ctx); err != nil {
		return fmt.Errorf("update table counters: %w", err)
	}

	var jtc, jfc int
	err = tx.NewSelect().Model((*Chunk)(nil)).
		ColumnExpr("count(*) FILTER (WHERE status = ?) AS tc", ChunkComplete).
		ColumnExpr("count(*) FILTER (WHERE status = ? AND retry_count >= max_retries) AS fc", ChunkFailed).
		Where("job_id = ?", jobID).
		Scan(ctx, &jtc, &jfc)
	if err != nil {
		return fmt.Errorf("recompute job counters: %w", err)
	}

	if _, err := tx.NewUpdate().Model((*Job)(nil)).
		Set("completed_chunks = ?", jtc).
		Set("failed_chunks = ?", jfc).
		Where("id = ?", jobID).
		Exec(ctx); err != nil {
		return fmt.Errorf("update job counters: %w", err)
	}

	// Completion check (§4.4 step 4): whenever a chunk reaches a terminal
	// state, see whether the job as a whole is done.
	var job Job
	if err := tx.NewSelect().Model(&job).Where("id = ?", jobID).Scan(ctx); err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status == JobComplete || job.Status == JobFailed {
		return nil
	}
	if jtc+jfc == job.TotalChunks && job.TotalChunks > 0 {
		now := time.Now()
		newStatus := JobComplete
		if jfc > 0 {
			newStatus = JobFailed
		}
		if _, err := tx.NewUpdate().Model((*Job)(nil)).
			Set("status = ?", newStatus).
			Set("completed_at = ?", now).
			Where("id = ?", jobID).
			Exec(ctx); err != nil {
			return fmt.Errorf("transition job to terminal state: %w", err)
		}
	}
	return nil
}

func insertExecutionLog(ctx context.Context, tx bun.Tx, chunk *Chunk, status ChunkStatus, rowsProcessed int64, srcCount, tgtCount *int64, durationMS int64, errMsg string) error {
	var attempt int
	err := tx.NewSelect().Model((*ExecutionLogEntry)(nil)).
		ColumnExpr("COALESCE(MAX(attempt_number), 0) + 1").
		Where("chunk_id = ?", chunk.ID).
		Scan(ctx, &attempt)
	if err != nil {
		return fmt.Errorf("compute attempt number: %w", err)
	}

	now := time.Now()
	entry := &ExecutionLogEntry{
		ID:             uuid.NewString(),
		ChunkID:        chunk.ID,
		WorkerID:       derefStr(chunk.WorkerID),
		AttemptNumber:  attempt,
		Status:         status,
		RowsProcessed:  rowsProcessed,
		SourceRowCount: srcCount,
		TargetRowCount: tgtCount,
		DurationMS:     durationMS,
		ErrorMessage:   truncate(errMsg, 2000),
		StartedAt:      derefTime(chunk.StartedAt, now),
		CompletedAt:    now,
	}
	if _, err := tx.NewInsert().Model(entry).Exec(ctx); err != nil {
		return fmt.Errorf("insert execution log: %w", err)
	}
	return nil
}

func upsertHeartbeat(ctx context.Context, tx bun.Tx, workerID string, chunkID *string, status WorkerStatus, seen time.Time) error {
	hb := &WorkerHeartbeat{WorkerID: workerID, CurrentChunkID: chunkID, Status: status, LastSeen: seen}
	_, err := tx.NewInsert().Model(hb).
		On("CONFLICT (worker_id) DO UPDATE").
		Set("current_chunk_id = EXCLUDED.current_chunk_id").
		Set("status = EXCLUDED.status").
		Set("last_seen = EXCLUDED.last_seen").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert heartbeat: %w", err)
	}
	return nil
}

// inTx runs fn inside a transaction when db is a *bun.DB, or directly when
// db is already a bun.Tx (nested transactions are not supported by
// Postgres; a caller that is itself inside a transaction should pass that
// tx through unchanged).
func inTx(ctx context.Context, db bun.IDB, fn func(tx bun.Tx) error) error {
	if tx, ok := db.(bun.Tx); ok {
		return fn(tx)
	}
	bunDB, ok := db.(*bun.DB)
	if !ok {
		return fmt.Errorf("catalog: db handle does not support transactions")
	}
	return bunDB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(tx)
	})
}

func truncate(msg string, n int) string {
	if len(msg) > n {
		return msg[:n]
	}
	return msg
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time, fallback time.Time) time.Time {
	if t == nil {
		return fallback
	}
	return *t
}

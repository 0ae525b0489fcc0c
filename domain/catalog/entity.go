// Package catalog is the durable transactional store of §4.1: jobs, tables,
// chunks, worker heartbeats, execution-log entries, batch-size adjustments,
// and constraint backups. It is the single source of truth every other
// component reads and writes through; workers and the dispatcher hold no
// authoritative state of their own.
package catalog

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"

	"github.com/coldwire-data/migrator/domain/adapter"
	"github.com/coldwire-data/migrator/domain/mapping"
)

// JobStatus is the closed set of states a Job moves through.
type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobPlanning JobStatus = "planning"
	JobRunning  JobStatus = "running"
	JobComplete JobStatus = "completed"
	JobFailed   JobStatus = "failed"
	JobPaused   JobStatus = "paused"
)

// TableStatus is the closed set of states a Table moves through.
type TableStatus string

const (
	TablePending  TableStatus = "pending"
	TableRunning  TableStatus = "running"
	TableComplete TableStatus = "completed"
	TableFailed   TableStatus = "failed"
)

// ChunkStatus is the closed set of states a Chunk moves through.
type ChunkStatus string

const (
	ChunkPending  ChunkStatus = "pending"
	ChunkRunning  ChunkStatus = "running"
	ChunkComplete ChunkStatus = "completed"
	ChunkFailed   ChunkStatus = "failed"
)

// ValidationStatus tracks the optional row-count validation of §9(b).
type ValidationStatus string

const (
	ValidationPending   ValidationStatus = "pending"
	ValidationValidated ValidationStatus = "validated"
	ValidationFailed    ValidationStatus = "failed"
)

// WorkerStatus is the closed set of states a worker registration moves through.
type WorkerStatus string

const (
	WorkerIdle     WorkerStatus = "idle"
	WorkerBusy     WorkerStatus = "busy"
	WorkerDraining WorkerStatus = "draining"
)

// ConnDescriptor is stored as JSONB on the job row. Password is the only
// field never surfaced back through the API boundary's JSON encoding.
type ConnDescriptor struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Database   string `json:"database"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	TLS        bool   `json:"tls,omitempty"`
	DriverHint string `json:"driver,omitempty"`
}

// ToAdapter converts a catalog-stored descriptor into the adapter package's
// own type, which the planner and worker runtime operate on.
func (d ConnDescriptor) ToAdapter() adapter.ConnDescriptor {
	return adapter.ConnDescriptor{
		Host: d.Host, Port: d.Port, Database: d.Database,
		Username: d.Username, Password: d.Password, TLS: d.TLS, DriverHint: d.DriverHint,
	}
}

// FromAdapter converts an adapter.ConnDescriptor into the catalog's stored
// representation.
func FromAdapter(d adapter.ConnDescriptor) ConnDescriptor {
	return ConnDescriptor{
		Host: d.Host, Port: d.Port, Database: d.Database,
		Username: d.Username, Password: d.Password, TLS: d.TLS, DriverHint: d.DriverHint,
	}
}

// Job is the root aggregate for one migration (§3).
type Job struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID                    string                `bun:"id,pk"`
	Source                ConnDescriptor        `bun:"source,type:jsonb"`
	Target                ConnDescriptor        `bun:"target,type:jsonb"`
	Status                JobStatus             `bun:"status,notnull"`
	TotalTables           int                   `bun:"total_tables,notnull"`
	TotalChunks           int                   `bun:"total_chunks,notnull"`
	CompletedChunks       int                   `bun:"completed_chunks,notnull"`
	FailedChunks          int                   `bun:"failed_chunks,notnull"`
	FailureThresholdPct   float64               `bun:"failure_threshold_percent,notnull"`
	ValidateRowCounts     bool                  `bun:"validate_row_counts,notnull"`
	TableMappings         mapping.TableMappings `bun:"table_mappings,type:jsonb,notnull"`
	DefaultBatchSize      int                   `bun:"default_batch_size,notnull"`
	Priority              int                   `bun:"priority,notnull"`
	Paused                bool                  `bun:"paused,notnull"`
	OptimizationMethod    string                `bun:"optimization_method"`
	PeakMemoryMB          float64               `bun:"peak_memory_mb,notnull"`
	TotalBytes            int64                 `bun:"total_bytes,notnull"`
	AvgThroughputRowsPerS float64               `bun:"avg_throughput_rows_per_sec,notnull"`
	LastError             string                `bun:"last_error"`
	CreatedAt             time.Time             `bun:"created_at,notnull"`
	StartedAt             *time.Time            `bun:"started_at"`
	CompletedAt           *time.Time            `bun:"completed_at"`
	AutoFailedAt          *time.Time            `bun:"auto_failed_at"`
}

// MarshalJSON encodes the job with the source and target passwords blanked,
// so API responses never carry them.
func (j Job) MarshalJSON() ([]byte, error) {
	type plain Job
	out := plain(j)
	out.Source.Password = ""
	out.Target.Password = ""
	return json.Marshal(out)
}

// Table is one source table within a job (§3).
type Table struct {
	bun.BaseModel `bun:"table:tables,alias:t"`

	ID               string      `bun:"id,pk"`
	JobID            string      `bun:"job_id,notnull"`
	Name             string      `bun:"name,notnull"`
	TargetName       string      `bun:"target_name,notnull"`
	PKColumn         string      `bun:"pk_column,notnull"`
	RowCountEstimate int64       `bun:"row_count_estimate,notnull"`
	TotalChunks      int         `bun:"total_chunks,notnull"`
	CompletedChunks  int         `bun:"completed_chunks,notnull"`
	FailedChunks     int         `bun:"failed_chunks,notnull"`
	Status           TableStatus `bun:"status,notnull"`
	FailureReason    string      `bun:"failure_reason"`
	CreatedAt        time.Time   `bun:"created_at,notnull"`
	CompletedAt      *time.Time  `bun:"completed_at"`
}

// Chunk is one half-open pk range of one table (§3) — the unit of
// scheduling, retry, and validation.
type Chunk struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`

	ID                   string           `bun:"id,pk"`
	JobID                string           `bun:"job_id,notnull"`
	TableID              string           `bun:"table_id,notnull"`
	TableName            string           `bun:"table_name,notnull"`
	PKStart              int64            `bun:"pk_start,notnull"`
	PKEnd                int64            `bun:"pk_end,notnull"`
	Status               ChunkStatus      `bun:"status,notnull"`
	RetryCount           int              `bun:"retry_count,notnull"`
	MaxRetries           int              `bun:"max_retries,notnull"`
	WorkerID             *string          `bun:"worker_id"`
	NextRetryAt          *time.Time       `bun:"next_retry_at"`
	RowsProcessed        int64            `bun:"rows_processed,notnull"`
	SourceRowCount       *int64           `bun:"source_row_count"`
	TargetRowCount       *int64           `bun:"target_row_count"`
	Checksum             string           `bun:"checksum"`
	DurationMS           int64            `bun:"duration_ms,notnull"`
	StartedAt            *time.Time       `bun:"started_at"`
	CompletedAt          *time.Time       `bun:"completed_at"`
	LastHeartbeat        *time.Time       `bun:"last_heartbeat"`
	LastError            string           `bun:"last_error"`
	ValidationStatus     ValidationStatus `bun:"validation_status,notnull"`
	BatchSizeUsed        int              `bun:"batch_size_used,notnull"`
	ThroughputRowsPerSec float64          `bun:"throughput_rows_per_sec,notnull"`
	ThroughputMBPerSec   float64          `bun:"throughput_mb_per_sec,notnull"`
	MemoryPeakMB         float64          `bun:"memory_peak_mb,notnull"`
	InsertLatencyMS      int64            `bun:"insert_latency_ms,notnull"`
	CreatedAt            time.Time        `bun:"created_at,notnull"`
}

// WorkerHeartbeat is a best-effort presence record (§3).
type WorkerHeartbeat struct {
	bun.BaseModel `bun:"table:worker_heartbeats,alias:w"`

	WorkerID       string       `bun:"worker_id,pk"`
	CurrentChunkID *string      `bun:"current_chunk_id"`
	Status         WorkerStatus `bun:"status,notnull"`
	LastSeen       time.Time    `bun:"last_seen,notnull"`
}

// ExecutionLogEntry is an append-only audit of every chunk attempt (§3).
// Never mutated after insert.
type ExecutionLogEntry struct {
	bun.BaseModel `bun:"table:chunk_execution_log,alias:e"`

	ID             string      `bun:"id,pk"`
	ChunkID        string      `bun:"chunk_id,notnull"`
	WorkerID       string      `bun:"worker_id,notnull"`
	AttemptNumber  int         `bun:"attempt_number,notnull"`
	Status         ChunkStatus `bun:"status,notnull"`
	RowsProcessed  int64       `bun:"rows_processed,notnull"`
	SourceRowCount *int64      `bun:"source_row_count"`
	TargetRowCount *int64      `bun:"target_row_count"`
	DurationMS     int64       `bun:"duration_ms,notnull"`
	ErrorMessage   string      `bun:"error_message"`
	StartedAt      time.Time   `bun:"started_at,notnull"`
	CompletedAt    time.Time   `bun:"completed_at,notnull"`
}

// PerformanceMetric is one heartbeat-time sample of a chunk's throughput and
// memory footprint (§6 "streaming readers for metrics time series"), kept as
// a full history distinct from the chunk row's own latest-value columns.
type PerformanceMetric struct {
	bun.BaseModel `bun:"table:performance_metrics,alias:pm"`

	ID              string    `bun:"id,pk"`
	JobID           string    `bun:"job_id,notnull"`
	WorkerID        string    `bun:"worker_id,notnull"`
	ChunkID         *string   `bun:"chunk_id"`
	ThroughputRowsS float64   `bun:"throughput_rows_s,notnull"`
	ThroughputMBS   float64   `bun:"throughput_mb_s,notnull"`
	MemoryMB        float64   `bun:"memory_mb,notnull"`
	InsertLatencyMS float64   `bun:"insert_latency_ms,notnull"`
	RecordedAt      time.Time `bun:"recorded_at,notnull"`
}

// BatchSizeAdjustment is one row per adaptive-controller decision (§4.6).
type BatchSizeAdjustment struct {
	bun.BaseModel `bun:"table:batch_size_history,alias:b"`

	ID         string    `bun:"id,pk"`
	JobID      string    `bun:"job_id,notnull"`
	WorkerID   string    `bun:"worker_id,notnull"`
	OldBatch   int       `bun:"old_batch,notnull"`
	NewBatch   int       `bun:"new_batch,notnull"`
	AvgLatency float64   `bun:"avg_latency_ms,notnull"`
	TargetLat  float64   `bun:"target_latency_ms,notnull"`
	Reason     string    `bun:"reason,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}

// ConstraintBackup is one dropped index or foreign key, with enough
// information to restore it (§3).
type ConstraintBackup struct {
	bun.BaseModel `bun:"table:constraint_backup,alias:cb"`

	ID         string     `bun:"id,pk"`
	JobID      string     `bun:"job_id,notnull"`
	TableName  string     `bun:"table_name,notnull"`
	ObjectName string     `bun:"object_name,notnull"`
	ObjectType string     `bun:"object_type,notnull"`
	Definition string     `bun:"definition,notnull"`
	UpdatedBy  string     `bun:"updated_by,notnull"`
	DroppedAt  time.Time  `bun:"dropped_at,notnull"`
	RestoredAt *time.Time `bun:"restored_at"`
}

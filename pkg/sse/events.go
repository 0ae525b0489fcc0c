package sse

// MetricsEventType identifies the kind of event in a job's metrics stream.
type MetricsEventType string

const (
	// EventSnapshot carries one point of the throughput/memory/latency
	// time series, emitted on every poll of the job's live counters.
	EventSnapshot MetricsEventType = "snapshot"

	// EventJobState is emitted when the job's top-level status changes.
	EventJobState MetricsEventType = "job_state"

	// EventError is emitted when the stream cannot continue (job not
	// found, catalog read failure).
	EventError MetricsEventType = "error"

	// EventDone is the final event, sent once the job reaches a terminal
	// status and no further snapshots will follow.
	EventDone MetricsEventType = "done"
)

// SnapshotEvent is one sample of a job's live counters (§6 "streaming
// readers for metrics time series").
type SnapshotEvent struct {
	Type               string  `json:"type"`
	JobID              string  `json:"jobId"`
	CompletedChunks    int     `json:"completedChunks"`
	FailedChunks       int     `json:"failedChunks"`
	TotalChunks        int     `json:"totalChunks"`
	ThroughputRowsPerS float64 `json:"throughputRowsPerSec"`
	PeakMemoryMB       float64 `json:"peakMemoryMb"`
	AvgInsertLatencyMS float64 `json:"avgInsertLatencyMs"`
}

// NewSnapshotEvent creates a new metrics snapshot event.
func NewSnapshotEvent(jobID string, completed, failed, total int, throughput, peakMemMB, avgLatencyMS float64) SnapshotEvent {
	return SnapshotEvent{
		Type:               string(EventSnapshot),
		JobID:              jobID,
		CompletedChunks:    completed,
		FailedChunks:       failed,
		TotalChunks:        total,
		ThroughputRowsPerS: throughput,
		PeakMemoryMB:       peakMemMB,
		AvgInsertLatencyMS: avgLatencyMS,
	}
}

// JobStateEvent announces a job status transition.
type JobStateEvent struct {
	Type   string `json:"type"`
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// NewJobStateEvent creates a new job-state event.
func NewJobStateEvent(jobID, status string) JobStateEvent {
	return JobStateEvent{
		Type:   string(EventJobState),
		JobID:  jobID,
		Status: status,
	}
}

// ErrorEvent is emitted when the stream cannot continue.
type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewErrorEvent creates a new error event.
func NewErrorEvent(errMsg string) ErrorEvent {
	return ErrorEvent{
		Type:  string(EventError),
		Error: errMsg,
	}
}

// DoneEvent is the final event signaling end of stream.
type DoneEvent struct {
	Type string `json:"type"`
}

// NewDoneEvent creates a new done event.
func NewDoneEvent() DoneEvent {
	return DoneEvent{
		Type: string(EventDone),
	}
}

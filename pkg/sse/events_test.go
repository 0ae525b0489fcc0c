package sse

import "testing"

func TestNewSnapshotEvent(t *testing.T) {
	event := NewSnapshotEvent("job-1", 4, 1, 10, 125.5, 256.0, 42.3)

	if event.Type != string(EventSnapshot) {
		t.Errorf("Type = %q, want %q", event.Type, string(EventSnapshot))
	}
	if event.JobID != "job-1" {
		t.Errorf("JobID = %q, want %q", event.JobID, "job-1")
	}
	if event.CompletedChunks != 4 || event.FailedChunks != 1 || event.TotalChunks != 10 {
		t.Errorf("counters = %+v, want completed=4 failed=1 total=10", event)
	}
	if event.ThroughputRowsPerS != 125.5 {
		t.Errorf("ThroughputRowsPerS = %v, want 125.5", event.ThroughputRowsPerS)
	}
	if event.PeakMemoryMB != 256.0 {
		t.Errorf("PeakMemoryMB = %v, want 256.0", event.PeakMemoryMB)
	}
	if event.AvgInsertLatencyMS != 42.3 {
		t.Errorf("AvgInsertLatencyMS = %v, want 42.3", event.AvgInsertLatencyMS)
	}
}

func TestNewJobStateEvent(t *testing.T) {
	tests := []struct {
		name   string
		jobID  string
		status string
	}{
		{"running job", "job-1", "running"},
		{"completed job", "job-2", "completed"},
		{"failed job", "job-3", "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := NewJobStateEvent(tt.jobID, tt.status)
			if event.Type != string(EventJobState) {
				t.Errorf("Type = %q, want %q", event.Type, string(EventJobState))
			}
			if event.JobID != tt.jobID {
				t.Errorf("JobID = %q, want %q", event.JobID, tt.jobID)
			}
			if event.Status != tt.status {
				t.Errorf("Status = %q, want %q", event.Status, tt.status)
			}
		})
	}
}

func TestNewErrorEvent(t *testing.T) {
	tests := []struct {
		name   string
		errMsg string
	}{
		{"simple error message", "something went wrong"},
		{"empty error message", ""},
		{"detailed error message", "error: catalog read failed: timeout after 30s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := NewErrorEvent(tt.errMsg)
			if event.Type != string(EventError) {
				t.Errorf("Type = %q, want %q", event.Type, string(EventError))
			}
			if event.Error != tt.errMsg {
				t.Errorf("Error = %q, want %q", event.Error, tt.errMsg)
			}
		})
	}
}

func TestNewDoneEvent(t *testing.T) {
	event := NewDoneEvent()
	if event.Type != string(EventDone) {
		t.Errorf("Type = %q, want %q", event.Type, string(EventDone))
	}
}

func TestMetricsEventTypeConstants(t *testing.T) {
	tests := []struct {
		name     string
		constant MetricsEventType
		expected string
	}{
		{"EventSnapshot", EventSnapshot, "snapshot"},
		{"EventJobState", EventJobState, "job_state"},
		{"EventError", EventError, "error"},
		{"EventDone", EventDone, "done"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, string(tt.constant), tt.expected)
			}
		})
	}
}

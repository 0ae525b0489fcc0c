package worker

import goruntime "runtime"

// currentMemoryMB reports the process's current heap usage, sampled for the
// heartbeat's memory_peak_mb column (§3).
func currentMemoryMB() float64 {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)
	return float64(m.HeapAlloc) / (1024 * 1024)
}

package utils

import (
	"sync"
	"time"
)

// Tracks performance metrics across the system
type MetricsCollector struct {
	mu           sync.RWMutex
	requestCount uint64
	errorCount   uint64

	// Maps operation name to list of latencies in nanoseconds
	operationTimes map[string][]int64

	systemStartTime time.Time
}

// MetricsSnapshot is a point-in-time view of collected metrics, suitable for
// serving over HTTP.
type MetricsSnapshot struct {
	UptimeSeconds float64                  `json:"uptimeSeconds"`
	RequestCount  uint64                   `json:"requestCount"`
	ErrorCount    uint64                   `json:"errorCount"`
	Operations    map[string]OperationStat `json:"operations"`
}

// OperationStat summarizes latencies recorded for one operation.
type OperationStat struct {
	Count      int     `json:"count"`
	AvgMillis  float64 `json:"avgMillis"`
	LastMillis float64 `json:"lastMillis"`
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		operationTimes:  make(map[string][]int64),
		systemStartTime: time.Now(),
	}
}

func (mc *MetricsCollector) IncrementRequests() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.requestCount++
}

func (mc *MetricsCollector) IncrementErrors() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.errorCount++
}

func (mc *MetricsCollector) AddOperationLatency(operationName string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if _, exists := mc.operationTimes[operationName]; !exists {
		mc.operationTimes[operationName] = make([]int64, 0)
	}
	mc.operationTimes[operationName] = append(
		mc.operationTimes[operationName],
		duration.Nanoseconds(),
	)
}

// Snapshot returns a copy of the current metrics.
func (mc *MetricsCollector) Snapshot() MetricsSnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snap := MetricsSnapshot{
		UptimeSeconds: time.Since(mc.systemStartTime).Seconds(),
		RequestCount:  mc.requestCount,
		ErrorCount:    mc.errorCount,
		Operations:    make(map[string]OperationStat, len(mc.operationTimes)),
	}

	for name, times := range mc.operationTimes {
		if len(times) == 0 {
			continue
		}
		var total int64
		for _, t := range times {
			total += t
		}
		snap.Operations[name] = OperationStat{
			Count:      len(times),
			AvgMillis:  float64(total) / float64(len(times)) / 1e6,
			LastMillis: float64(times[len(times)-1]) / 1e6,
		}
	}

	return snap
}

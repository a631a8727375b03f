package task

import (
	"time"
)

// advanceRecord holds timing data for a processed index.
type advanceRecord struct {
	Index       uint64
	ProcessedAt time.Time
}

// Metrics holds task performance data.
type Metrics struct {
	IndexesPerSecond float64       `json:"indexes_per_second"`
	AverageIndexTime time.Duration `json:"average_index_time"`
	Failovers        int           `json:"failovers"`
	LastFailoverAt   *time.Time    `json:"last_failover_at,omitempty"`
	StateHistory     []Transition  `json:"state_history"`
}

// MetricsCollector tracks task progress over a sliding window.
type MetricsCollector struct {
	windowSize     int             // number of advances to track
	advances       []advanceRecord // ring buffer
	transitions    []Transition    // recent status changes
	failovers      int
	lastFailoverAt *time.Time
}

// NewMetricsCollector creates a collector tracking the last windowSize advances.
func NewMetricsCollector(windowSize int) *MetricsCollector {
	return &MetricsCollector{
		windowSize: windowSize,
		advances:   make([]advanceRecord, 0, windowSize),
	}
}

// RecordAdvance records timing for a processed index.
func (mc *MetricsCollector) RecordAdvance(index uint64, processedAt time.Time) {
	record := advanceRecord{Index: index, ProcessedAt: processedAt}

	if len(mc.advances) >= mc.windowSize {
		copy(mc.advances, mc.advances[1:])
		mc.advances[len(mc.advances)-1] = record
	} else {
		mc.advances = append(mc.advances, record)
	}
}

// RecordFailover counts an endpoint rotation.
func (mc *MetricsCollector) RecordFailover(at time.Time) {
	mc.failovers++
	mc.lastFailoverAt = &at
}

// RecordTransition records a status transition. Only the last 10 are kept.
func (mc *MetricsCollector) RecordTransition(t Transition) {
	if len(mc.transitions) >= 10 {
		copy(mc.transitions, mc.transitions[1:])
		mc.transitions[len(mc.transitions)-1] = t
	} else {
		mc.transitions = append(mc.transitions, t)
	}
}

// GetMetrics returns current metrics.
func (mc *MetricsCollector) GetMetrics() Metrics {
	m := Metrics{
		Failovers:      mc.failovers,
		LastFailoverAt: mc.lastFailoverAt,
		StateHistory:   make([]Transition, len(mc.transitions)),
	}
	copy(m.StateHistory, mc.transitions)

	if len(mc.advances) >= 2 {
		first := mc.advances[0]
		last := mc.advances[len(mc.advances)-1]
		duration := last.ProcessedAt.Sub(first.ProcessedAt)

		if duration > 0 {
			count := float64(len(mc.advances) - 1)
			m.IndexesPerSecond = count / duration.Seconds()
			m.AverageIndexTime = time.Duration(float64(duration) / count)
		}
	}

	return m
}

// Reset clears all collected metrics.
func (mc *MetricsCollector) Reset() {
	mc.advances = mc.advances[:0]
	mc.transitions = mc.transitions[:0]
	mc.failovers = 0
	mc.lastFailoverAt = nil
}

package rpc

import (
	"strings"
	"sync"
	"time"
)

// EndpointStatus represents the health state of an upstream endpoint.
type EndpointStatus string

const (
	EndpointHealthy   EndpointStatus = "healthy"   // working normally
	EndpointDegraded  EndpointStatus = "degraded"  // slow or erroring
	EndpointThrottled EndpointStatus = "throttled" // rate limiting us
	EndpointBlocked   EndpointStatus = "blocked"   // answered 403
)

// MonitorStats holds monitoring statistics for an endpoint.
type MonitorStats struct {
	Status           EndpointStatus `json:"status"`
	AverageLatency   time.Duration  `json:"average_latency"`
	Requests         int            `json:"requests"`
	Failures         int            `json:"failures"`
	ThrottleCount429 int            `json:"throttle_count_429"`
	ThrottleCount403 int            `json:"throttle_count_403"`
	LastFailureAt    *time.Time     `json:"last_failure_at,omitempty"`
}

// throttlePatterns are error texts providers use instead of a 429.
var throttlePatterns = []string{
	"rate limit exceeded",
	"too many requests",
	"daily request count exceeded",
	"project rate limit",
	"monthly quota exceeded",
}

// DetectThrottlePattern checks if a message contains throttle patterns.
func DetectThrottlePattern(message string) bool {
	lower := strings.ToLower(message)
	for _, p := range throttlePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// EndpointMonitor tracks latency and failures of one endpoint.
type EndpointMonitor struct {
	mu sync.RWMutex

	recentLatencies  []time.Duration
	maxLatencyWindow int

	requests       int
	failures       int
	status429Count int
	status403Count int
	lastThrottleAt time.Time
	lastFailureAt  time.Time

	slowResponseThreshold time.Duration
	throttleCooldown      time.Duration
}

// NewEndpointMonitor creates a new monitor with default settings.
func NewEndpointMonitor() *EndpointMonitor {
	return &EndpointMonitor{
		recentLatencies:       make([]time.Duration, 0, 100),
		maxLatencyWindow:      100,
		slowResponseThreshold: 3 * time.Second,
		throttleCooldown:      time.Minute,
	}
}

// RecordSuccess records a successful request with its latency.
func (m *EndpointMonitor) RecordSuccess(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests++
	m.recentLatencies = append(m.recentLatencies, latency)
	if len(m.recentLatencies) > m.maxLatencyWindow {
		m.recentLatencies = m.recentLatencies[1:]
	}
}

// RecordFailure records a failed request. statusCode is 0 for network errors.
func (m *EndpointMonitor) RecordFailure(statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.requests++
	m.failures++
	m.lastFailureAt = now

	switch statusCode {
	case 429:
		m.status429Count++
		m.lastThrottleAt = now
	case 403:
		m.status403Count++
		m.lastThrottleAt = now
	}
}

// Status returns the current status of the endpoint.
func (m *EndpointMonitor) Status() EndpointStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked()
}

func (m *EndpointMonitor) statusLocked() EndpointStatus {
	recentThrottle := time.Since(m.lastThrottleAt) < m.throttleCooldown
	if m.status403Count > 0 && recentThrottle {
		return EndpointBlocked
	}
	if m.status429Count > 0 && recentThrottle {
		return EndpointThrottled
	}
	if m.requests >= 10 && float64(m.failures)/float64(m.requests) > 0.3 {
		return EndpointDegraded
	}
	if len(m.recentLatencies) > 10 && m.averageLatencyLocked() > m.slowResponseThreshold {
		return EndpointDegraded
	}
	return EndpointHealthy
}

func (m *EndpointMonitor) averageLatencyLocked() time.Duration {
	if len(m.recentLatencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, lat := range m.recentLatencies {
		total += lat
	}
	return total / time.Duration(len(m.recentLatencies))
}

// GetStats returns current monitoring statistics.
func (m *EndpointMonitor) GetStats() MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := MonitorStats{
		Status:           m.statusLocked(),
		AverageLatency:   m.averageLatencyLocked(),
		Requests:         m.requests,
		Failures:         m.failures,
		ThrottleCount429: m.status429Count,
		ThrottleCount403: m.status403Count,
	}
	if !m.lastFailureAt.IsZero() {
		t := m.lastFailureAt
		stats.LastFailureAt = &t
	}
	return stats
}

package rpc

import (
	"testing"
	"time"
)

func TestMonitorStatus(t *testing.T) {
	m := NewEndpointMonitor()
	if m.Status() != EndpointHealthy {
		t.Fatalf("expected healthy, got %s", m.Status())
	}

	m.RecordFailure(429)
	if m.Status() != EndpointThrottled {
		t.Errorf("expected throttled, got %s", m.Status())
	}

	m.RecordFailure(403)
	if m.Status() != EndpointBlocked {
		t.Errorf("expected blocked, got %s", m.Status())
	}
}

func TestMonitorDegradedOnFailureRate(t *testing.T) {
	m := NewEndpointMonitor()
	for i := 0; i < 6; i++ {
		m.RecordSuccess(10 * time.Millisecond)
	}
	for i := 0; i < 4; i++ {
		m.RecordFailure(0)
	}

	stats := m.GetStats()
	if stats.Status != EndpointDegraded {
		t.Errorf("expected degraded, got %s", stats.Status)
	}
	if stats.Requests != 10 || stats.Failures != 4 {
		t.Errorf("unexpected counts %d/%d", stats.Requests, stats.Failures)
	}
	if stats.LastFailureAt == nil {
		t.Error("expected last failure time")
	}
	if stats.AverageLatency != 10*time.Millisecond {
		t.Errorf("expected 10ms average, got %v", stats.AverageLatency)
	}
}

func TestMonitorLatencyWindow(t *testing.T) {
	m := NewEndpointMonitor()
	for i := 0; i < 150; i++ {
		m.RecordSuccess(time.Millisecond)
	}
	if len(m.recentLatencies) != m.maxLatencyWindow {
		t.Errorf("expected window of %d, got %d", m.maxLatencyWindow, len(m.recentLatencies))
	}
}

func TestDetectThrottlePattern(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"Rate limit exceeded", true},
		{"too many requests, slow down", true},
		{"Monthly quota exceeded", true},
		{"execution reverted", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := DetectThrottlePattern(tt.msg); got != tt.want {
			t.Errorf("DetectThrottlePattern(%q): expected %v, got %v", tt.msg, tt.want, got)
		}
	}
}

package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/ingestor/internal/core/domain"
	"github.com/vietddude/ingestor/internal/core/task"
	"github.com/vietddude/ingestor/internal/infra/rpc"
	"github.com/vietddude/ingestor/internal/infra/storage"
)

// DefaultCacheTTL bounds how often the stores are scanned.
const DefaultCacheTTL = 5 * time.Second

// TaskSource lists persisted tasks and their runtime metrics.
type TaskSource interface {
	List(ctx context.Context) ([]*domain.SyncTask, error)
	GetMetrics(taskID string) task.Metrics
}

// EndpointStats reports per-endpoint upstream statistics.
type EndpointStats interface {
	Stats() map[string]rpc.MonitorStats
}

// Monitor aggregates health status from the task store, retry store and
// upstream client.
type Monitor struct {
	tasks      TaskSource
	retries    storage.RetryRepository
	endpoints  EndpointStats
	cacheTTL   time.Duration
	lastCheck  time.Time
	lastReport HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. endpoints may be nil.
func NewMonitor(tasks TaskSource, retries storage.RetryRepository, endpoints EndpointStats) *Monitor {
	return &Monitor{
		tasks:     tasks,
		retries:   retries,
		endpoints: endpoints,
		cacheTTL:  DefaultCacheTTL,
	}
}

// SetCacheTTL changes how long a report is reused. Zero disables caching.
func (m *Monitor) SetCacheTTL(ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheTTL = ttl
}

// CheckHealth builds a report for every persisted task.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport.Tasks != nil && time.Since(m.lastCheck) < m.cacheTTL {
		return m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Tasks:        make(map[string]TaskHealth),
	}

	tasks, err := m.tasks.List(ctx)
	if err != nil {
		slog.Error("Health check failed to list tasks", "error", err)
		report.SystemStatus = StatusCritical
		return report
	}

	for _, t := range tasks {
		h := m.checkTask(ctx, t)
		report.Tasks[t.TaskID] = h
		if h.Status.severity() > report.SystemStatus.severity() {
			report.SystemStatus = h.Status
		}
	}
	if m.endpoints != nil {
		report.Endpoints = m.endpoints.Stats()
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

func (m *Monitor) checkTask(ctx context.Context, t *domain.SyncTask) TaskHealth {
	metrics := m.tasks.GetMetrics(t.TaskID)
	h := TaskHealth{
		TaskID:           t.TaskID,
		Status:           StatusHealthy,
		TaskStatus:       string(t.Status),
		CurrentIndex:     t.CurrentIndex,
		Endpoint:         t.ActiveEndpoint(),
		LastError:        t.LastError,
		IndexesPerSecond: metrics.IndexesPerSecond,
		Failovers:        metrics.Failovers,
		Transitions:      metrics.StateHistory,
	}

	jobs, err := m.retries.List(ctx, domain.RetryPrefix(t.Chain, t.Name)+":")
	if err == nil {
		h.RetryBacklog = len(jobs)
	}

	switch {
	case t.Status == domain.TaskStatusError:
		h.Status = StatusCritical
	case t.Status == domain.TaskStatusStopped || h.RetryBacklog > 0:
		h.Status = StatusDegraded
	}
	return h
}

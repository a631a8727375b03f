// Package task owns the lifecycle of sync tasks: loading, cursor advance,
// endpoint failover and operator commands. Every mutation is persisted before
// the call returns.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/ingestor/internal/core/domain"
	"github.com/vietddude/ingestor/internal/indexing/metrics"
	"github.com/vietddude/ingestor/internal/infra/storage"
)

// ErrNoEndpoints is returned when a task definition lists no endpoints.
var ErrNoEndpoints = errors.New("task has no endpoints")

// Definition is the configured shape of a task, used when no durable copy exists.
type Definition struct {
	Chain      string
	Name       string
	StartIndex uint64
	Endpoints  []string
	Filter     string
}

// TaskID returns the durable key of the defined task.
func (d Definition) TaskID() string {
	return domain.TaskID(d.Chain, d.Name)
}

// Manager applies state machine rules to tasks and persists them.
// A task value must only be mutated by the goroutine that owns it.
type Manager struct {
	repo          storage.TaskRepository
	mu            sync.RWMutex
	stateCallback func(taskID string, t Transition)
	collectors    map[string]*MetricsCollector
	log           *slog.Logger
}

// NewManager creates a new task manager.
func NewManager(repo storage.TaskRepository) *Manager {
	return &Manager{
		repo:       repo,
		collectors: make(map[string]*MetricsCollector),
		log:        slog.Default().With("component", "task_manager"),
	}
}

// Load returns the durable copy of the task if one exists, otherwise a fresh
// task built from def, persisted before returning.
func (m *Manager) Load(ctx context.Context, def Definition) (*domain.SyncTask, error) {
	if len(def.Endpoints) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoEndpoints, def.TaskID())
	}

	t, err := m.repo.Get(ctx, def.TaskID())
	switch {
	case err == nil:
		if len(t.Endpoints) == 0 {
			t.Endpoints = append([]string(nil), def.Endpoints...)
			t.EndpointIndex = 0
		}
		if t.EndpointIndex >= len(t.Endpoints) {
			t.EndpointIndex = 0
		}
		m.log.Info("Resuming task from store",
			"task", t.TaskID, "curr_idx", t.CurrentIndex, "status", t.Status)
	case errors.Is(err, storage.ErrTaskNotFound):
		t = &domain.SyncTask{
			TaskID:       def.TaskID(),
			Chain:        def.Chain,
			Name:         def.Name,
			StartIndex:   def.StartIndex,
			CurrentIndex: def.StartIndex,
			Endpoints:    append([]string(nil), def.Endpoints...),
			Filter:       def.Filter,
			Status:       domain.TaskStatusWorking,
		}
		if err := m.repo.Save(ctx, t); err != nil {
			return nil, fmt.Errorf("failed to save new task: %w", err)
		}
		m.log.Info("Created task from config", "task", t.TaskID, "start_idx", t.StartIndex)
	default:
		return nil, fmt.Errorf("failed to load task: %w", err)
	}

	m.collector(t.TaskID)
	m.publish(t)
	return t, nil
}

// Get retrieves the persisted copy of a task.
func (m *Manager) Get(ctx context.Context, taskID string) (*domain.SyncTask, error) {
	return m.repo.Get(ctx, taskID)
}

// List returns every persisted task.
func (m *Manager) List(ctx context.Context) ([]*domain.SyncTask, error) {
	return m.repo.List(ctx)
}

// Advance moves the cursor past the index that was just handled.
func (m *Manager) Advance(ctx context.Context, t *domain.SyncTask) error {
	processed := t.CurrentIndex
	t.CurrentIndex++

	if err := m.repo.Save(ctx, t); err != nil {
		return fmt.Errorf("failed to persist cursor: %w", err)
	}

	m.mu.Lock()
	m.collectorLocked(t.TaskID).RecordAdvance(processed, time.Now())
	m.mu.Unlock()

	metrics.TaskCurrentIndex.WithLabelValues(t.TaskID).Set(float64(t.CurrentIndex))
	return nil
}

// Failover rotates to the next endpoint. When the list is exhausted the task
// enters the error status with cause recorded, and exhausted is true.
func (m *Manager) Failover(ctx context.Context, t *domain.SyncTask, cause error) (exhausted bool, err error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	if t.EndpointIndex+1 < len(t.Endpoints) {
		t.EndpointIndex++
		now := time.Now()
		m.mu.Lock()
		m.collectorLocked(t.TaskID).RecordFailover(now)
		m.mu.Unlock()
		metrics.EndpointFailovers.WithLabelValues(t.TaskID).Inc()
		m.log.Warn("Endpoint failover",
			"task", t.TaskID, "endpoint_idx", t.EndpointIndex, "endpoint", t.ActiveEndpoint(), "error", msg)
	} else {
		t.LastError = msg
		if err := m.setStatus(t, domain.TaskStatusError, msg); err != nil {
			return false, err
		}
		exhausted = true
		m.log.Error("All endpoints failed, task halted", "task", t.TaskID, "error", msg)
	}

	if err := m.repo.Save(ctx, t); err != nil {
		return exhausted, fmt.Errorf("failed to persist task: %w", err)
	}
	return exhausted, nil
}

// Apply executes an operator command. Start and stop are no-ops when the task
// is already in the target status. Reset brings a task back to working from
// any status with the first endpoint and a cleared error. Remove deletes the
// durable record.
func (m *Manager) Apply(ctx context.Context, t *domain.SyncTask, cmd domain.Command) error {
	reason := cmd.Reason
	if reason == "" {
		reason = "operator " + string(cmd.Method)
	}

	switch cmd.Method {
	case domain.MethodStart:
		if t.Status == domain.TaskStatusWorking {
			return nil
		}
		if err := m.setStatus(t, domain.TaskStatusWorking, reason); err != nil {
			return err
		}
	case domain.MethodStop:
		if t.Status == domain.TaskStatusStopped {
			return nil
		}
		if err := m.setStatus(t, domain.TaskStatusStopped, reason); err != nil {
			return err
		}
	case domain.MethodReset:
		m.recordTransition(t.TaskID, NewTransition(t.Status, domain.TaskStatusWorking, reason))
		t.Status = domain.TaskStatusWorking
		t.EndpointIndex = 0
		t.LastError = ""
		metrics.SetTaskStatus(t.TaskID, string(t.Status))
	case domain.MethodRemove:
		return m.Remove(ctx, t.TaskID)
	default:
		return fmt.Errorf("unknown method %q", cmd.Method)
	}

	if err := m.repo.Save(ctx, t); err != nil {
		return fmt.Errorf("failed to persist task: %w", err)
	}
	return nil
}

// Remove deletes the durable record of a task.
func (m *Manager) Remove(ctx context.Context, taskID string) error {
	if err := m.repo.Delete(ctx, taskID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.collectors, taskID)
	m.mu.Unlock()
	m.log.Info("Task removed", "task", taskID)
	return nil
}

// Rewind moves the cursor of a persisted task to index and reactivates it.
// It is meant for offline use while the daemon is not running.
func (m *Manager) Rewind(ctx context.Context, taskID string, index uint64) (*domain.SyncTask, error) {
	t, err := m.repo.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if index < t.StartIndex {
		t.StartIndex = index
	}
	t.CurrentIndex = index
	t.Status = domain.TaskStatusWorking
	t.EndpointIndex = 0
	t.LastError = ""

	if err := m.repo.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}
	return t, nil
}

// GetMetrics returns performance metrics for a task.
func (m *Manager) GetMetrics(taskID string) Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.collectors[taskID]; ok {
		return c.GetMetrics()
	}
	return Metrics{}
}

// SetStateChangeCallback registers callback for status changes.
func (m *Manager) SetStateChangeCallback(fn func(taskID string, t Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateCallback = fn
}

func (m *Manager) setStatus(t *domain.SyncTask, to Status, reason string) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, t.Status, to)
	}
	m.recordTransition(t.TaskID, NewTransition(t.Status, to, reason))
	t.Status = to
	metrics.SetTaskStatus(t.TaskID, string(to))
	return nil
}

func (m *Manager) recordTransition(taskID string, tr Transition) {
	m.mu.Lock()
	m.collectorLocked(taskID).RecordTransition(tr)
	cb := m.stateCallback
	m.mu.Unlock()

	if cb != nil {
		cb(taskID, tr)
	}
}

func (m *Manager) collector(taskID string) *MetricsCollector {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collectorLocked(taskID)
}

func (m *Manager) collectorLocked(taskID string) *MetricsCollector {
	c, ok := m.collectors[taskID]
	if !ok {
		c = NewMetricsCollector(100)
		m.collectors[taskID] = c
	}
	return c
}

func (m *Manager) publish(t *domain.SyncTask) {
	metrics.TaskCurrentIndex.WithLabelValues(t.TaskID).Set(float64(t.CurrentIndex))
	metrics.SetTaskStatus(t.TaskID, string(t.Status))
}

// Package retry holds failed units of work and replays them once per tick
// until they succeed or run out of attempts.
package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/ingestor/internal/core/domain"
	"github.com/vietddude/ingestor/internal/indexing/metrics"
	"github.com/vietddude/ingestor/internal/infra/notify"
	"github.com/vietddude/ingestor/internal/infra/storage"
)

// DefaultRetryCount is used when a task does not configure its own.
const DefaultRetryCount = 3

// WorkFunc re-executes a job against endpoint.
type WorkFunc func(ctx context.Context, endpoint string, job *domain.RetryJob) error

// Config identifies the task a queue belongs to.
type Config struct {
	TaskID     string
	Prefix     string // e.g. "retry:ethereum:l1_tx_log"
	RetryCount uint32
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Succeeded int
	Failed    int
	Escalated int
}

// Queue is owned by a single task runner and is not safe for concurrent use.
type Queue struct {
	cfg      Config
	repo     storage.RetryRepository
	notifier notify.Notifier
	jobs     map[string]*domain.RetryJob
	log      *slog.Logger
}

func NewQueue(cfg Config, repo storage.RetryRepository, notifier notify.Notifier) *Queue {
	if cfg.RetryCount == 0 {
		cfg.RetryCount = DefaultRetryCount
	}
	return &Queue{
		cfg:      cfg,
		repo:     repo,
		notifier: notifier,
		jobs:     make(map[string]*domain.RetryJob),
		log:      slog.Default().With("component", "retry", "task", cfg.TaskID),
	}
}

// Load rehydrates every persisted job of the task.
func (q *Queue) Load(ctx context.Context) error {
	jobs, err := q.repo.List(ctx, q.keyPrefix())
	if err != nil {
		return fmt.Errorf("failed to load retry queue: %w", err)
	}
	for _, j := range jobs {
		q.jobs[j.RetryID] = j
	}
	q.publish()
	if len(jobs) > 0 {
		q.log.Info("Retry queue restored", "jobs", len(jobs))
	}
	return nil
}

// NewJob builds a job for the unit identified by key with the configured
// attempt budget. Equal keys produce equal retry ids.
func (q *Queue) NewJob(key string, params json.RawMessage) *domain.RetryJob {
	return &domain.RetryJob{
		RetryID:    q.keyPrefix() + key,
		TaskID:     q.cfg.TaskID,
		Params:     params,
		RetryCount: q.cfg.RetryCount,
		CreatedAt:  time.Now().Unix(),
	}
}

// Enqueue inserts or overwrites a job and persists it.
func (q *Queue) Enqueue(ctx context.Context, job *domain.RetryJob) error {
	q.jobs[job.RetryID] = job
	q.publish()
	if err := q.repo.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to persist retry job: %w", err)
	}
	return nil
}

// Sweep visits every job present at the start of the call once, in retry id
// order. Exhausted jobs are dropped and escalated; the rest are re-executed.
func (q *Queue) Sweep(ctx context.Context, endpoint string, work WorkFunc) SweepResult {
	var res SweepResult
	if len(q.jobs) == 0 {
		return res
	}

	for _, id := range q.ids() {
		job, ok := q.jobs[id]
		if !ok {
			continue
		}

		if job.Exhausted() {
			q.remove(ctx, job)
			q.escalate(ctx, job)
			res.Escalated++
			metrics.RetryOutcomes.WithLabelValues(q.cfg.TaskID, "escalated").Inc()
			continue
		}

		if err := work(ctx, endpoint, job); err != nil {
			job.RetryCount--
			job.LastError = err.Error()
			if err := q.repo.Save(ctx, job); err != nil {
				q.log.Error("Failed to persist retry job", "retry_id", job.RetryID, "error", err)
			}
			res.Failed++
			metrics.RetryOutcomes.WithLabelValues(q.cfg.TaskID, "failed").Inc()
			q.log.Warn("Retry failed",
				"retry_id", job.RetryID, "remaining", job.RetryCount, "error", err)
			continue
		}

		q.remove(ctx, job)
		res.Succeeded++
		metrics.RetryOutcomes.WithLabelValues(q.cfg.TaskID, "succeeded").Inc()
		q.log.Info("Retry succeeded", "retry_id", job.RetryID)
	}

	q.publish()
	return res
}

// Purge drops every job of the task, in memory and in the store.
func (q *Queue) Purge(ctx context.Context) error {
	jobs, err := q.repo.List(ctx, q.keyPrefix())
	if err != nil {
		return fmt.Errorf("failed to list retry jobs: %w", err)
	}
	for _, j := range jobs {
		if err := q.repo.Delete(ctx, j.RetryID); err != nil {
			return err
		}
	}
	q.jobs = make(map[string]*domain.RetryJob)
	q.publish()
	return nil
}

// Len returns the number of pending jobs.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Jobs returns the pending jobs ordered by retry id.
func (q *Queue) Jobs() []*domain.RetryJob {
	out := make([]*domain.RetryJob, 0, len(q.jobs))
	for _, id := range q.ids() {
		out = append(out, q.jobs[id])
	}
	return out
}

func (q *Queue) remove(ctx context.Context, job *domain.RetryJob) {
	delete(q.jobs, job.RetryID)
	if err := q.repo.Delete(ctx, job.RetryID); err != nil {
		q.log.Error("Failed to delete retry job", "retry_id", job.RetryID, "error", err)
	}
}

func (q *Queue) escalate(ctx context.Context, job *domain.RetryJob) {
	escalationID := uuid.New().String()
	msg := fmt.Sprintf(
		"retry exhausted (escalation %s)\ntask: %s\nretry_id: %s\nlast error: %s\nreplay: %s",
		escalationID, q.cfg.TaskID, job.RetryID, job.LastError, ReplayCommand(q.cfg.TaskID, job.Params),
	)
	q.log.Error("Retry exhausted", "retry_id", job.RetryID, "escalation", escalationID)
	if q.notifier == nil {
		return
	}
	if err := q.notifier.Notify(ctx, notify.LevelError, msg); err != nil {
		q.log.Error("Failed to send escalation", "retry_id", job.RetryID, "error", err)
	}
}

func (q *Queue) ids() []string {
	ids := make([]string, 0, len(q.jobs))
	for id := range q.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (q *Queue) keyPrefix() string {
	return q.cfg.Prefix + ":"
}

func (q *Queue) publish() {
	metrics.RetryQueueSize.WithLabelValues(q.cfg.TaskID).Set(float64(len(q.jobs)))
}

// ReplayCommand renders the CLI invocation that re-submits params to a task.
func ReplayCommand(taskID string, params json.RawMessage) string {
	return fmt.Sprintf("ingestor retry --task %s --params '%s'", taskID, string(params))
}

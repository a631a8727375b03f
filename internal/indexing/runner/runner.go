// Package runner drives one sync task: it drains control commands, runs one
// fetch-filter-persist cycle (or a batch of jobs) per tick and sweeps the
// task's retry queue.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vietddude/ingestor/internal/core/domain"
	"github.com/vietddude/ingestor/internal/core/task"
	"github.com/vietddude/ingestor/internal/indexing/filter"
	"github.com/vietddude/ingestor/internal/indexing/metrics"
	"github.com/vietddude/ingestor/internal/indexing/retry"
	"github.com/vietddude/ingestor/internal/infra/chain"
	"github.com/vietddude/ingestor/internal/infra/notify"
	"github.com/vietddude/ingestor/internal/infra/rpc"
	"github.com/vietddude/ingestor/internal/infra/storage"
)

const (
	// DefaultPollInterval is used when a task does not configure its own.
	DefaultPollInterval = time.Second

	// DefaultJobBatch bounds the jobs a job-driven task handles per tick.
	DefaultJobBatch = 100
)

// Error classes reported in metrics and logs.
const (
	classTransport = "transport"
	classOther     = "other"
	classFilter    = "filter"
)

// Config describes one task.
type Config struct {
	Definition   task.Definition
	Kind         domain.TaskKind
	PollInterval time.Duration
	RetryCount   uint32
	JobBatch     int
	Filter       filter.Options
}

// Deps are the collaborators a runner works through. Exactly one of Fetcher
// or Handler is set, depending on whether the task walks a cursor or is fed
// jobs by other tasks.
type Deps struct {
	Manager  *task.Manager
	Retries  storage.RetryRepository
	Sink     storage.Sink
	Notifier notify.Notifier
	Bus      *Bus
	Fetcher  chain.Fetcher
	Handler  chain.Handler
}

// Runner owns a task and its retry queue. Nothing else mutates either while
// the runner is alive.
type Runner struct {
	cfg     Config
	deps    Deps
	inbox   *inbox
	queue   *retry.Queue
	task    *domain.SyncTask
	running atomic.Bool
	log     *slog.Logger
}

// New creates a runner and registers its inboxes on the bus, so other tasks
// can dispatch to it before it starts.
func New(cfg Config, deps Deps) (*Runner, error) {
	if (deps.Fetcher == nil) == (deps.Handler == nil) {
		return nil, fmt.Errorf("task %s needs exactly one of fetcher or handler", cfg.Definition.TaskID())
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.JobBatch <= 0 {
		cfg.JobBatch = DefaultJobBatch
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogNotifier()
	}

	def := cfg.Definition
	taskID := def.TaskID()
	return &Runner{
		cfg:   cfg,
		deps:  deps,
		inbox: deps.Bus.register(taskID),
		queue: retry.NewQueue(retry.Config{
			TaskID:     taskID,
			Prefix:     domain.RetryPrefix(def.Chain, def.Name),
			RetryCount: cfg.RetryCount,
		}, deps.Retries, deps.Notifier),
		log: slog.Default().With("component", "runner", "task", taskID),
	}, nil
}

// TaskID returns the id of the task this runner drives.
func (r *Runner) TaskID() string {
	return r.cfg.Definition.TaskID()
}

// Run loads the task and its retry queue, then polls until ctx is done or
// the task is removed.
func (r *Runner) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("runner already running")
	}
	defer r.running.Store(false)

	if err := r.init(ctx); err != nil {
		return err
	}
	r.log.Info("Task runner started",
		"kind", r.cfg.Kind, "curr_idx", r.task.CurrentIndex, "status", r.task.Status,
		"endpoint", r.task.ActiveEndpoint(), "poll_interval", r.cfg.PollInterval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Task runner stopped", "curr_idx", r.task.CurrentIndex)
			return nil
		case <-timer.C:
		}

		if removed := r.tick(ctx); removed {
			return nil
		}
		timer.Reset(r.cfg.PollInterval)
	}
}

func (r *Runner) init(ctx context.Context) error {
	t, err := r.deps.Manager.Load(ctx, r.cfg.Definition)
	if err != nil {
		return err
	}
	r.task = t
	return r.queue.Load(ctx)
}

// tick runs one iteration and reports whether the task was removed.
func (r *Runner) tick(ctx context.Context) bool {
	// Upstream calls and state writes finish even when shutdown begins
	// mid-tick. A job batch stops early.
	callCtx := context.WithoutCancel(ctx)

	select {
	case cmd := <-r.inbox.control:
		if r.applyCommand(callCtx, cmd) {
			return true
		}
	default:
	}

	if r.task.IsWorking() {
		if r.deps.Fetcher != nil {
			r.step(callCtx)
		} else {
			r.drainJobs(callCtx, ctx.Done())
		}
	}

	if r.queue.Len() > 0 {
		r.queue.Sweep(callCtx, r.task.ActiveEndpoint(), func(c context.Context, endpoint string, job *domain.RetryJob) error {
			return r.runJob(c, endpoint, job.Params)
		})
	}
	return false
}

func (r *Runner) applyCommand(ctx context.Context, cmd domain.Command) bool {
	r.log.Info("Control command received", "method", cmd.Method, "reason", cmd.Reason)

	if cmd.Method == domain.MethodRemove {
		if err := r.queue.Purge(ctx); err != nil {
			r.log.Error("Failed to purge retry queue", "error", err)
		}
		if err := r.deps.Bus.DropSpilled(ctx, r.TaskID()); err != nil {
			r.log.Error("Failed to drop spilled jobs", "error", err)
		}
		if err := r.deps.Manager.Apply(ctx, r.task, cmd); err != nil {
			r.log.Error("Failed to remove task", "error", err)
			r.notify(ctx, notify.LevelError, fmt.Sprintf("failed to remove task %s: %v", r.TaskID(), err))
			return false
		}
		r.deps.Bus.Unregister(r.TaskID())
		return true
	}

	if err := r.deps.Manager.Apply(ctx, r.task, cmd); err != nil {
		r.log.Warn("Control command rejected", "method", cmd.Method, "error", err)
		r.notify(ctx, notify.LevelWarn, fmt.Sprintf("command %s rejected by task %s: %v", cmd.Method, r.TaskID(), err))
	}
	return false
}

// step handles the unit at the cursor. The cursor does not move when a
// follow-up could be neither queued nor spilled.
func (r *Runner) step(ctx context.Context) {
	index := r.task.CurrentIndex
	res, err := r.deps.Fetcher.Fetch(ctx, r.task.ActiveEndpoint(), index)
	if err != nil {
		r.handleFetchError(ctx, index, err)
		return
	}

	matched, err := filter.EvaluateWith(res.Subject, r.task.Filter, r.cfg.Filter)
	if err != nil {
		r.fail(ctx, classFilter, fmt.Errorf("invalid filter %q: %w", r.task.Filter, err), true)
		return
	}

	if !matched {
		metrics.FilterRejected.WithLabelValues(r.TaskID()).Inc()
		r.log.Info("Filter rejected unit, skipping", "index", index)
	} else if err := r.emit(ctx, res); err != nil {
		r.log.Warn("Unit not finished, will be fetched again", "index", index, "error", err)
		return
	}

	if err := r.deps.Manager.Advance(ctx, r.task); err != nil {
		r.log.Error("Failed to advance cursor", "index", index, "error", err)
		return
	}
	r.log.Debug("Unit synced", "index", index, "records", len(res.Records), "matched", matched)
}

func (r *Runner) handleFetchError(ctx context.Context, index uint64, err error) {
	switch {
	case errors.Is(err, chain.ErrNotYetAvailable):
		r.log.Debug("Waiting for upstream", "index", index)
	case errors.Is(err, rpc.ErrTransport):
		r.fail(ctx, classTransport, err, false)
	default:
		r.fail(ctx, classOther, err, true)
	}
}

// fail rotates the endpoint and, when alert is set or endpoints run out,
// notifies the operator.
func (r *Runner) fail(ctx context.Context, class string, cause error, alert bool) {
	metrics.FetchErrors.WithLabelValues(r.TaskID(), class).Inc()
	r.log.Warn("Fetch failed",
		"class", class, "index", r.task.CurrentIndex, "endpoint", r.task.ActiveEndpoint(), "error", cause)

	if alert {
		r.notify(ctx, notify.LevelWarn, fmt.Sprintf("task %s failed at index %d: %v", r.TaskID(), r.task.CurrentIndex, cause))
	}

	exhausted, err := r.deps.Manager.Failover(ctx, r.task, cause)
	if err != nil {
		r.log.Error("Failed to record failover", "error", err)
	}
	if exhausted {
		r.notify(ctx, notify.LevelError, fmt.Sprintf(
			"task %s halted: all endpoints failed at index %d: %v\nreactivate with: ingestor task reset %s",
			r.TaskID(), r.task.CurrentIndex, cause, r.TaskID()))
	}
}

// drainJobs handles up to JobBatch jobs, the inbox first and then jobs
// spilled to the store while the inbox was full.
func (r *Runner) drainJobs(ctx context.Context, done <-chan struct{}) {
	for handled := 0; handled < r.cfg.JobBatch; handled++ {
		var params json.RawMessage
		select {
		case <-done:
			return
		case params = <-r.inbox.jobs:
		default:
			r.drainSpilled(ctx, done, r.cfg.JobBatch-handled)
			return
		}
		r.handleJob(ctx, params)
	}
}

func (r *Runner) drainSpilled(ctx context.Context, done <-chan struct{}, limit int) {
	jobs, err := r.deps.Bus.Spilled(ctx, r.TaskID(), limit)
	if err != nil {
		r.log.Error("Failed to load spilled jobs", "error", err)
		return
	}
	for _, job := range jobs {
		select {
		case <-done:
			return
		default:
		}
		r.handleJob(ctx, job.Params)
		if err := r.deps.Bus.Ack(ctx, job); err != nil {
			r.log.Error("Failed to delete spilled job", "id", job.RetryID, "error", err)
		}
	}
}

// handleJob executes one job; a failed job enters the retry queue.
func (r *Runner) handleJob(ctx context.Context, params json.RawMessage) {
	key, err := r.deps.Handler.RetryKey(params)
	if err != nil {
		r.log.Warn("Dropping invalid job", "params", string(params), "error", err)
		r.notify(ctx, notify.LevelWarn, fmt.Sprintf("task %s dropped invalid job %s: %v", r.TaskID(), params, err))
		return
	}

	if err := r.runJob(ctx, r.task.ActiveEndpoint(), params); err != nil {
		job := r.queue.NewJob(key, params)
		job.LastError = err.Error()
		if qerr := r.queue.Enqueue(ctx, job); qerr != nil {
			r.log.Error("Failed to enqueue retry", "retry_id", job.RetryID, "error", qerr)
		}
		r.log.Warn("Job failed, queued for retry", "retry_id", job.RetryID, "error", err)
	}
}

func (r *Runner) runJob(ctx context.Context, endpoint string, params json.RawMessage) error {
	res, err := r.deps.Handler.Handle(ctx, endpoint, params)
	if err != nil {
		return err
	}
	return r.emit(ctx, res)
}

// emit forwards records to the sink and dispatches follow-up jobs without
// waiting on the targets. Follow-ups for tasks that no longer exist are
// logged and dropped; an error is returned only when a follow-up could not be
// spilled either.
func (r *Runner) emit(ctx context.Context, res *chain.Result) error {
	for _, rec := range res.Records {
		r.deps.Sink.Forward(ctx, rec)
	}
	metrics.RecordsForwarded.WithLabelValues(r.TaskID()).Add(float64(len(res.Records)))

	for _, d := range res.FollowUps {
		err := r.deps.Bus.SendJob(ctx, d.TaskID, d.Params)
		switch {
		case err == nil:
		case errors.Is(err, ErrUnknownTask):
			r.log.Warn("Dropping follow-up for unknown task", "target", d.TaskID, "params", string(d.Params))
		default:
			return fmt.Errorf("failed to dispatch follow-up to %s: %w", d.TaskID, err)
		}
	}
	return nil
}

func (r *Runner) notify(ctx context.Context, level notify.Level, msg string) {
	if err := r.deps.Notifier.Notify(ctx, level, msg); err != nil {
		r.log.Error("Failed to send notification", "error", err)
	}
}

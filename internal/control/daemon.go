// Package control assembles the daemon: stores, sinks, notifiers, task
// runners and the HTTP surface.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/vietddude/ingestor/internal/core/config"
	"github.com/vietddude/ingestor/internal/core/task"
	"github.com/vietddude/ingestor/internal/indexing/health"
	"github.com/vietddude/ingestor/internal/indexing/runner"
	"github.com/vietddude/ingestor/internal/infra/kv"
	"github.com/vietddude/ingestor/internal/infra/notify"
	"github.com/vietddude/ingestor/internal/infra/rpc"
	"github.com/vietddude/ingestor/internal/infra/storage"
	"github.com/vietddude/ingestor/internal/infra/storage/postgres"
)

// Daemon is the main application struct that manages the task runners.
type Daemon struct {
	cfg          *config.AppConfig
	store        kv.Store
	sink         RecordSink
	db           *postgres.DB
	notifier     *notify.Async
	client       *rpc.Client
	manager      *task.Manager
	retries      storage.RetryRepository
	bus          *runner.Bus
	runners      []*runner.Runner
	healthMon    *health.Monitor
	healthServer *health.Server
	wg           sync.WaitGroup
	log          *slog.Logger
}

// NewDaemon creates a Daemon with all dependencies initialized.
func NewDaemon(ctx context.Context, cfg *config.AppConfig) (*Daemon, error) {
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	notifier := NewNotifier(cfg.Notify)
	sink, db, err := OpenSink(ctx, cfg, notifier)
	if err != nil {
		notifier.Close()
		_ = store.Close()
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		store:    store,
		sink:     sink,
		db:       db,
		notifier: notifier,
		client:   rpc.NewClient(cfg.Defaults.RequestTimeout),
		manager:  task.NewManager(storage.NewKVTaskRepo(store)),
		retries:  storage.NewKVRetryRepo(store),
		log:      slog.Default().With("component", "daemon"),
	}
	d.bus = runner.NewBus(0).WithSpill(d.retries)

	d.manager.SetStateChangeCallback(func(taskID string, tr task.Transition) {
		d.log.Info("Task status changed", "task", taskID, "from", tr.From, "to", tr.To, "reason", tr.Reason)
	})

	// Every inbox is registered before any runner starts, so the first
	// follow-up of a task never races its target's registration.
	for _, tc := range cfg.Tasks {
		r, err := d.newRunner(tc)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("task %s: %w", tc.TaskID(), err)
		}
		d.runners = append(d.runners, r)
	}

	d.healthMon = health.NewMonitor(d.manager, d.retries, d.client)
	d.healthServer = health.NewServer(d.healthMon, cfg.Server.Port)
	d.healthServer.Mount("/api", NewAPI(d.manager, d.retries, d.bus).Routes())

	return d, nil
}

func (d *Daemon) newRunner(tc config.TaskConfig) (*runner.Runner, error) {
	fetcher, handler, err := buildStrategy(tc, d.client)
	if err != nil {
		return nil, err
	}

	return runner.New(runner.Config{
		Definition: task.Definition{
			Chain:      tc.Chain,
			Name:       tc.Name,
			StartIndex: tc.StartIndex,
			Endpoints:  tc.Endpoints,
			Filter:     tc.Filter,
		},
		Kind:         tc.Kind,
		PollInterval: tc.PollInterval,
		RetryCount:   tc.RetryCount,
		JobBatch:     tc.JobBatch,
		Filter:       d.cfg.Defaults.FilterOptions(),
	}, runner.Deps{
		Manager:  d.manager,
		Retries:  d.retries,
		Sink:     d.sink,
		Notifier: d.notifier,
		Bus:      d.bus,
		Fetcher:  fetcher,
		Handler:  handler,
	})
}

// Start launches the HTTP server and one goroutine per task. Runners stop
// when ctx is done.
func (d *Daemon) Start(ctx context.Context) error {
	go func() {
		if err := d.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error("Health server failed", "error", err)
		}
	}()

	if d.db != nil {
		d.db.StartMetricsCollector(ctx)
	}

	for _, r := range d.runners {
		d.wg.Add(1)
		go func(r *runner.Runner) {
			defer d.wg.Done()
			if err := r.Run(ctx); err != nil {
				d.log.Error("Task runner failed", "task", r.TaskID(), "error", err)
				sendAlert(ctx, d.notifier, d.log, notify.LevelError,
					fmt.Sprintf("task %s failed to start: %v", r.TaskID(), err))
			}
		}(r)
	}

	d.log.Info("Daemon started", "tasks", len(d.runners), "port", d.cfg.Server.Port)
	return nil
}

// Stop waits for the runners to finish their current tick, then flushes the
// sink and notifier and closes the stores. The ctx passed to Start must be
// cancelled first.
func (d *Daemon) Stop(ctx context.Context) error {
	d.log.Info("Stopping daemon...")

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("runners did not stop: %w", ctx.Err()))
	}

	if err := d.healthServer.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := d.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (d *Daemon) close() error {
	d.sink.Close()
	d.notifier.Close()

	var errs []error
	if d.db != nil {
		errs = append(errs, d.db.Close())
	}
	errs = append(errs, d.store.Close())
	return errors.Join(errs...)
}

// Bus returns the inbox router, for in-process callers such as tests.
func (d *Daemon) Bus() *runner.Bus {
	return d.bus
}

// Manager returns the task manager.
func (d *Daemon) Manager() *task.Manager {
	return d.manager
}

package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/ingestor/internal/core/domain"
	"github.com/vietddude/ingestor/internal/indexing/metrics"
	"github.com/vietddude/ingestor/internal/infra/storage"
)

var (
	// ErrUnknownTask is returned when a message targets a task with no inbox.
	ErrUnknownTask = errors.New("unknown task")

	// ErrInboxFull is returned by SendJob when the job inbox is full and the
	// bus has no spill store.
	ErrInboxFull = errors.New("task inbox is full")
)

const defaultInboxSize = 1024

type inbox struct {
	control chan domain.Command
	jobs    chan json.RawMessage
	closed  chan struct{}
}

// Bus routes control commands and jobs to per-task inboxes. Jobs that do not
// fit in an inbox go to the spill store, so a sender never waits on a slow or
// stopped target.
type Bus struct {
	mu      sync.RWMutex
	inboxes map[string]*inbox
	size    int
	spill   storage.RetryRepository
}

// NewBus creates a bus whose job inboxes buffer size messages.
func NewBus(size int) *Bus {
	if size <= 0 {
		size = defaultInboxSize
	}
	return &Bus{
		inboxes: make(map[string]*inbox),
		size:    size,
	}
}

// WithSpill sets the store that receives jobs for full inboxes. It must be
// called before any job is sent.
func (b *Bus) WithSpill(repo storage.RetryRepository) *Bus {
	b.spill = repo
	return b
}

// Register creates the inboxes of a task. Registering twice is a no-op.
func (b *Bus) Register(taskID string) {
	b.register(taskID)
}

func (b *Bus) register(taskID string) *inbox {
	b.mu.Lock()
	defer b.mu.Unlock()

	if in, ok := b.inboxes[taskID]; ok {
		return in
	}
	in := &inbox{
		control: make(chan domain.Command, 16),
		jobs:    make(chan json.RawMessage, b.size),
		closed:  make(chan struct{}),
	}
	b.inboxes[taskID] = in
	return in
}

// Unregister drops the inboxes of a task. Blocked command senders get
// ErrUnknownTask.
func (b *Bus) Unregister(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if in, ok := b.inboxes[taskID]; ok {
		close(in.closed)
		delete(b.inboxes, taskID)
	}
}

// SendCommand delivers cmd to the control inbox of taskID. It blocks until
// the command is queued or ctx is done.
func (b *Bus) SendCommand(ctx context.Context, taskID string, cmd domain.Command) error {
	in, err := b.lookup(taskID)
	if err != nil {
		return err
	}
	select {
	case in.control <- cmd:
		return nil
	case <-in.closed:
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendJob queues params for taskID without waiting. When the job inbox is
// full the job is persisted in the spill store instead; the target drains it
// once its inbox runs empty.
func (b *Bus) SendJob(ctx context.Context, taskID string, params json.RawMessage) error {
	in, err := b.lookup(taskID)
	if err != nil {
		return err
	}
	select {
	case <-in.closed:
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	default:
	}

	select {
	case in.jobs <- params:
		return nil
	default:
		return b.spillJob(ctx, taskID, params)
	}
}

func (b *Bus) spillJob(ctx context.Context, taskID string, params json.RawMessage) error {
	if b.spill == nil {
		return fmt.Errorf("%w: %s", ErrInboxFull, taskID)
	}

	// v7 ids sort by creation time, which keeps spilled jobs in arrival order.
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to create spill id: %w", err)
	}
	job := &domain.RetryJob{
		RetryID:   domain.SpillPrefix(taskID) + id.String(),
		TaskID:    taskID,
		Params:    params,
		CreatedAt: time.Now().Unix(),
	}
	if err := b.spill.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to spill job for %s: %w", taskID, err)
	}
	metrics.JobsSpilled.WithLabelValues(taskID).Inc()
	return nil
}

// Spilled returns up to limit spilled jobs of taskID, oldest first.
func (b *Bus) Spilled(ctx context.Context, taskID string, limit int) ([]*domain.RetryJob, error) {
	if b.spill == nil {
		return nil, nil
	}
	jobs, err := b.spill.List(ctx, domain.SpillPrefix(taskID))
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].RetryID < jobs[j].RetryID })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Ack deletes a spilled job after its target handled it.
func (b *Bus) Ack(ctx context.Context, job *domain.RetryJob) error {
	if b.spill == nil {
		return nil
	}
	return b.spill.Delete(ctx, job.RetryID)
}

// DropSpilled deletes every spilled job of taskID.
func (b *Bus) DropSpilled(ctx context.Context, taskID string) error {
	jobs, err := b.Spilled(ctx, taskID, 0)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if err := b.spill.Delete(ctx, j.RetryID); err != nil {
			return err
		}
	}
	return nil
}

// Tasks returns the ids of every registered task.
func (b *Bus) Tasks() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.inboxes))
	for id := range b.inboxes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Has reports whether taskID has an inbox.
func (b *Bus) Has(taskID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.inboxes[taskID]
	return ok
}

func (b *Bus) lookup(taskID string) (*inbox, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	in, ok := b.inboxes[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	return in, nil
}

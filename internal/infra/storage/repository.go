package storage

import (
	"context"
	"errors"

	"github.com/vietddude/ingestor/internal/core/domain"
)

var (
	// ErrTaskNotFound is returned when no durable copy of a task exists.
	ErrTaskNotFound = errors.New("task not found")
)

// TaskRepository persists sync tasks keyed by task id.
type TaskRepository interface {
	// Get retrieves a task by id
	Get(ctx context.Context, taskID string) (*domain.SyncTask, error)

	// Save writes the full task record
	Save(ctx context.Context, task *domain.SyncTask) error

	// Delete removes a task record
	Delete(ctx context.Context, taskID string) error

	// List returns every persisted task ordered by id
	List(ctx context.Context) ([]*domain.SyncTask, error)
}

// RetryRepository persists retry jobs keyed by retry id.
type RetryRepository interface {
	// Save writes a single job
	Save(ctx context.Context, job *domain.RetryJob) error

	// Delete removes a job
	Delete(ctx context.Context, retryID string) error

	// List returns the jobs whose id starts with prefix, ordered by id
	List(ctx context.Context, prefix string) ([]*domain.RetryJob, error)
}

// Sink receives normalized records. Forward is fire-and-forget: the caller
// never learns whether the write landed, and the sink must tolerate duplicates.
type Sink interface {
	Forward(ctx context.Context, record domain.Record)
}

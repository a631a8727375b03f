package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/ingestor/internal/core/domain"
	"github.com/vietddude/ingestor/internal/infra/kv"
)

// KVRetryRepo stores each retry job as its own JSON record under its retry id.
type KVRetryRepo struct {
	store kv.Store
}

func NewKVRetryRepo(store kv.Store) *KVRetryRepo {
	return &KVRetryRepo{store: store}
}

func (r *KVRetryRepo) Save(ctx context.Context, job *domain.RetryJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal retry job: %w", err)
	}
	if err := r.store.Put(ctx, job.RetryID, data); err != nil {
		return fmt.Errorf("failed to save retry job %s: %w", job.RetryID, err)
	}
	return nil
}

func (r *KVRetryRepo) Delete(ctx context.Context, retryID string) error {
	if err := r.store.Delete(ctx, retryID); err != nil {
		return fmt.Errorf("failed to delete retry job %s: %w", retryID, err)
	}
	return nil
}

func (r *KVRetryRepo) List(ctx context.Context, prefix string) ([]*domain.RetryJob, error) {
	entries, err := r.store.ScanPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list retry jobs: %w", err)
	}

	jobs := make([]*domain.RetryJob, 0, len(entries))
	for _, e := range entries {
		var job domain.RetryJob
		if err := json.Unmarshal(e.Value, &job); err != nil {
			return nil, fmt.Errorf("failed to decode retry job %s: %w", e.Key, err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

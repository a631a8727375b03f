package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vietddude/ingestor/internal/core/domain"
	"github.com/vietddude/ingestor/internal/infra/kv"
)

const taskKeyPrefix = "task:"

// KVTaskRepo stores tasks as JSON under their task id.
type KVTaskRepo struct {
	store kv.Store
}

func NewKVTaskRepo(store kv.Store) *KVTaskRepo {
	return &KVTaskRepo{store: store}
}

func (r *KVTaskRepo) Get(ctx context.Context, taskID string) (*domain.SyncTask, error) {
	data, err := r.store.Get(ctx, taskID)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}

	var t domain.SyncTask
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode task %s: %w", taskID, err)
	}
	return &t, nil
}

func (r *KVTaskRepo) Save(ctx context.Context, t *domain.SyncTask) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := r.store.Put(ctx, t.TaskID, data); err != nil {
		return fmt.Errorf("failed to save task %s: %w", t.TaskID, err)
	}
	return nil
}

func (r *KVTaskRepo) Delete(ctx context.Context, taskID string) error {
	if err := r.store.Delete(ctx, taskID); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", taskID, err)
	}
	return nil
}

func (r *KVTaskRepo) List(ctx context.Context) ([]*domain.SyncTask, error) {
	entries, err := r.store.ScanPrefix(ctx, taskKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	tasks := make([]*domain.SyncTask, 0, len(entries))
	for _, e := range entries {
		var t domain.SyncTask
		if err := json.Unmarshal(e.Value, &t); err != nil {
			return nil, fmt.Errorf("failed to decode task %s: %w", e.Key, err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, nil
}

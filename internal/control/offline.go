package control

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/ingestor/internal/core/config"
	"github.com/vietddude/ingestor/internal/core/domain"
	"github.com/vietddude/ingestor/internal/indexing/retry"
	"github.com/vietddude/ingestor/internal/infra/kv"
	"github.com/vietddude/ingestor/internal/infra/storage"
)

// EnqueueOffline persists params as a retry job of taskID. The runner picks
// it up when the daemon next starts.
func EnqueueOffline(ctx context.Context, cfg *config.AppConfig, store kv.Store, taskID string, params json.RawMessage) (*domain.RetryJob, error) {
	var tc *config.TaskConfig
	for i := range cfg.Tasks {
		if cfg.Tasks[i].TaskID() == taskID {
			tc = &cfg.Tasks[i]
			break
		}
	}
	if tc == nil {
		return nil, fmt.Errorf("task %s is not configured", taskID)
	}

	_, handler, err := buildStrategy(*tc, nil)
	if err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("task %s has kind %s, which does not accept jobs", taskID, tc.Kind)
	}
	key, err := handler.RetryKey(params)
	if err != nil {
		return nil, err
	}

	q := retry.NewQueue(retry.Config{
		TaskID:     taskID,
		Prefix:     domain.RetryPrefix(tc.Chain, tc.Name),
		RetryCount: tc.RetryCount,
	}, storage.NewKVRetryRepo(store), nil)

	job := q.NewJob(key, params)
	job.LastError = "submitted offline"
	if err := q.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

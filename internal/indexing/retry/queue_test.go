package retry

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/vietddude/ingestor/internal/core/domain"
	"github.com/vietddude/ingestor/internal/infra/kv"
	"github.com/vietddude/ingestor/internal/infra/notify"
	"github.com/vietddude/ingestor/internal/infra/storage"
)

// =============================================================================
// Mock Notifier
// =============================================================================

type mockNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *mockNotifier) Notify(ctx context.Context, level notify.Level, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func newTestQueue(t *testing.T) (*Queue, *storage.KVRetryRepo, *mockNotifier) {
	t.Helper()
	repo := storage.NewKVRetryRepo(kv.NewMemoryStore())
	n := &mockNotifier{}
	q := NewQueue(Config{
		TaskID:     "task:ethereum:l1_tx_log",
		Prefix:     "retry:ethereum:l1_tx_log",
		RetryCount: 3,
	}, repo, n)
	return q, repo, n
}

func persisted(t *testing.T, repo *storage.KVRetryRepo) []*domain.RetryJob {
	t.Helper()
	jobs, err := repo.List(context.Background(), "retry:ethereum:l1_tx_log:")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return jobs
}

// =============================================================================
// Tests
// =============================================================================

func TestQueue_EnqueueIsIdempotentByID(t *testing.T) {
	ctx := context.Background()
	q, repo, _ := newTestQueue(t)

	params := json.RawMessage(`{"block_number":100,"queue_index":7}`)
	if err := q.Enqueue(ctx, q.NewJob("100:7", params)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, q.NewJob("100:7", params)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if q.Len() != 1 {
		t.Errorf("expected 1 job, got %d", q.Len())
	}
	jobs := persisted(t, repo)
	if len(jobs) != 1 || jobs[0].RetryID != "retry:ethereum:l1_tx_log:100:7" {
		t.Errorf("unexpected persisted jobs: %+v", jobs)
	}
	if jobs[0].RetryCount != 3 {
		t.Errorf("expected retry count 3, got %d", jobs[0].RetryCount)
	}
}

func TestQueue_SweepSuccessRemovesJob(t *testing.T) {
	ctx := context.Background()
	q, repo, n := newTestQueue(t)
	_ = q.Enqueue(ctx, q.NewJob("1:1", json.RawMessage(`{}`)))

	var endpoints []string
	res := q.Sweep(ctx, "http://a", func(ctx context.Context, endpoint string, job *domain.RetryJob) error {
		endpoints = append(endpoints, endpoint)
		return nil
	})

	if res.Succeeded != 1 || q.Len() != 0 {
		t.Errorf("expected job to succeed and be removed, got %+v len=%d", res, q.Len())
	}
	if len(endpoints) != 1 || endpoints[0] != "http://a" {
		t.Errorf("expected work on active endpoint, got %v", endpoints)
	}
	if len(persisted(t, repo)) != 0 {
		t.Error("expected persisted job to be deleted")
	}
	if len(n.messages) != 0 {
		t.Error("expected no escalation on success")
	}
}

func TestQueue_SweepFailureDecrementsAndPersists(t *testing.T) {
	ctx := context.Background()
	q, repo, _ := newTestQueue(t)
	_ = q.Enqueue(ctx, q.NewJob("1:1", json.RawMessage(`{}`)))

	res := q.Sweep(ctx, "http://a", func(ctx context.Context, endpoint string, job *domain.RetryJob) error {
		return errors.New("log not found")
	})

	if res.Failed != 1 {
		t.Errorf("expected 1 failure, got %+v", res)
	}
	jobs := persisted(t, repo)
	if len(jobs) != 1 || jobs[0].RetryCount != 2 || jobs[0].LastError != "log not found" {
		t.Errorf("expected persisted count 2 with error, got %+v", jobs)
	}
}

func TestQueue_ExhaustedJobEscalatesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	q, repo, n := newTestQueue(t)
	_ = q.Enqueue(ctx, q.NewJob("100:7", json.RawMessage(`{"block_number":100,"queue_index":7}`)))

	attempts := 0
	failing := func(ctx context.Context, endpoint string, job *domain.RetryJob) error {
		attempts++
		return errors.New("still missing")
	}

	for i := 0; i < 3; i++ {
		q.Sweep(ctx, "http://a", failing)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if q.Len() != 1 {
		t.Fatal("expected exhausted job to stay until the next sweep")
	}

	res := q.Sweep(ctx, "http://a", failing)
	if res.Escalated != 1 || q.Len() != 0 {
		t.Errorf("expected escalation and removal, got %+v len=%d", res, q.Len())
	}
	if attempts != 3 {
		t.Error("expected no attempt on an exhausted job")
	}
	if len(persisted(t, repo)) != 0 {
		t.Error("expected exhausted job to be deleted from store")
	}

	// Later sweeps never see it again
	q.Sweep(ctx, "http://a", failing)
	if len(n.messages) != 1 {
		t.Fatalf("expected exactly 1 escalation, got %d", len(n.messages))
	}
	msg := n.messages[0]
	if !strings.Contains(msg, "retry:ethereum:l1_tx_log:100:7") {
		t.Errorf("expected retry id in escalation, got %q", msg)
	}
	if !strings.Contains(msg, `ingestor retry --task task:ethereum:l1_tx_log --params '{"block_number":100,"queue_index":7}'`) {
		t.Errorf("expected replay command in escalation, got %q", msg)
	}
}

func TestQueue_SweepVisitsEachJobOnceInOrder(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t)
	for _, k := range []string{"3", "1", "2"} {
		_ = q.Enqueue(ctx, q.NewJob(k, json.RawMessage(`{}`)))
	}

	var seen []string
	q.Sweep(ctx, "http://a", func(ctx context.Context, endpoint string, job *domain.RetryJob) error {
		seen = append(seen, job.RetryID)
		// Jobs enqueued during a sweep wait for the next one.
		_ = q.Enqueue(ctx, q.NewJob("9", json.RawMessage(`{}`)))
		return errors.New("fail")
	})

	want := []string{
		"retry:ethereum:l1_tx_log:1",
		"retry:ethereum:l1_tx_log:2",
		"retry:ethereum:l1_tx_log:3",
	}
	if strings.Join(seen, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, seen)
	}
}

func TestQueue_LoadRestoresPersistedJobs(t *testing.T) {
	ctx := context.Background()
	q, repo, _ := newTestQueue(t)
	_ = q.Enqueue(ctx, q.NewJob("5:1", json.RawMessage(`{"block_number":5,"queue_index":1}`)))
	q.Sweep(ctx, "http://a", func(ctx context.Context, endpoint string, job *domain.RetryJob) error {
		return errors.New("fail")
	})

	restored := NewQueue(Config{
		TaskID: "task:ethereum:l1_tx_log",
		Prefix: "retry:ethereum:l1_tx_log",
	}, repo, nil)
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	jobs := restored.Jobs()
	if len(jobs) != 1 || jobs[0].RetryCount != 2 {
		t.Errorf("expected restored job with count 2, got %+v", jobs)
	}
}

func TestQueue_Purge(t *testing.T) {
	ctx := context.Background()
	q, repo, _ := newTestQueue(t)
	_ = q.Enqueue(ctx, q.NewJob("a", json.RawMessage(`{}`)))
	_ = q.Enqueue(ctx, q.NewJob("b", json.RawMessage(`{}`)))

	if err := q.Purge(ctx); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if q.Len() != 0 || len(persisted(t, repo)) != 0 {
		t.Error("expected all jobs purged")
	}
}

func TestNewQueue_DefaultRetryCount(t *testing.T) {
	q := NewQueue(Config{TaskID: "t", Prefix: "retry:x:y"}, storage.NewKVRetryRepo(kv.NewMemoryStore()), nil)
	if job := q.NewJob("k", nil); job.RetryCount != DefaultRetryCount {
		t.Errorf("expected default %d, got %d", DefaultRetryCount, job.RetryCount)
	}
}

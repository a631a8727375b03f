package kv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func runStoreSuite(t *testing.T, s Store) {
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	puts := map[string]string{
		"task:ethereum:l1_tx_log":           `{"curr_idx":1}`,
		"task:optimism:l2_block_tx":         `{"curr_idx":2}`,
		"retry:ethereum:l1_tx_log:10:2":     `{"retry_count":3}`,
		"retry:ethereum:l1_tx_log:10:1":     `{"retry_count":2}`,
		"retry:ethereum:l1_tx_logs_extra:1": `{"retry_count":1}`,
	}
	for k, v := range puts {
		if err := s.Put(ctx, k, []byte(v)); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	got, err := s.Get(ctx, "task:ethereum:l1_tx_log")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"curr_idx":1}` {
		t.Errorf("unexpected value %s", got)
	}

	// Overwrite
	if err := s.Put(ctx, "task:ethereum:l1_tx_log", []byte(`{"curr_idx":5}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, _ = s.Get(ctx, "task:ethereum:l1_tx_log")
	if string(got) != `{"curr_idx":5}` {
		t.Errorf("expected overwritten value, got %s", got)
	}

	entries, err := s.ScanPrefix(ctx, "retry:ethereum:l1_tx_log:")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Key != "retry:ethereum:l1_tx_log:10:1" || entries[1].Key != "retry:ethereum:l1_tx_log:10:2" {
		t.Errorf("expected entries ordered by key, got %s, %s", entries[0].Key, entries[1].Key)
	}

	all, err := s.ScanPrefix(ctx, "")
	if err != nil {
		t.Fatalf("scan all: %v", err)
	}
	if len(all) != len(puts) {
		t.Errorf("expected %d entries, got %d", len(puts), len(all))
	}

	if err := s.Delete(ctx, "retry:ethereum:l1_tx_log:10:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "retry:ethereum:l1_tx_log:10:1"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	entries, _ = s.ScanPrefix(ctx, "retry:ethereum:l1_tx_log:")
	if len(entries) != 1 {
		t.Errorf("expected 1 entry after delete, got %d", len(entries))
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	runStoreSuite(t, s)
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state", "ingestor.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	runStoreSuite(t, s)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ingestor.db")

	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Put(ctx, "task:optimism:l2_enqueue", []byte("42")); err != nil {
		t.Fatalf("put: %v", err)
	}
	_ = s.Close()

	s, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.Get(ctx, "task:optimism:l2_enqueue")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if string(got) != "42" {
		t.Errorf("expected 42, got %s", got)
	}
}

func TestPrefixEnd(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"retry:", "retry;"},
		{"a", "b"},
		{"", ""},
		{"a\xff", "b"},
	}
	for _, tt := range tests {
		if got := prefixEnd(tt.in); got != tt.want {
			t.Errorf("prefixEnd(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

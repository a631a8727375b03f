package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/vietddude/ingestor/internal/infra/kv"
)

const scanBatch = 500

// Store implements kv.Store on plain Redis string keys, optionally namespaced.
type Store struct {
	rdb       *redis.Client
	namespace string
}

// NewStore creates a Redis-backed kv store. Keys are written as namespace+key.
func NewStore(client *Client, namespace string) *Store {
	return &Store{rdb: client.rdb, namespace: namespace}
}

func (s *Store) key(k string) string {
	return s.namespace + k
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) ScanPrefix(ctx context.Context, prefix string) ([]kv.Entry, error) {
	match := escapeGlob(s.key(prefix)) + "*"

	var keys []string
	iter := s.rdb.Scan(ctx, 0, match, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to mget %s: %w", prefix, err)
	}

	entries := make([]kv.Entry, 0, len(keys))
	for i, v := range values {
		// Deleted between SCAN and MGET.
		str, ok := v.(string)
		if !ok {
			continue
		}
		entries = append(entries, kv.Entry{
			Key:   strings.TrimPrefix(keys[i], s.namespace),
			Value: []byte(str),
		})
	}
	return entries, nil
}

// Close is a no-op; the owning Client closes the connection.
func (s *Store) Close() error { return nil }

// escapeGlob escapes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '^':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

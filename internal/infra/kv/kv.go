// Package kv is the durable key-value layer behind task and retry state.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// Store is an ordered key-value store. Writes to a single key are durable once
// Put returns.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error

	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete is a no-op for absent keys.
	Delete(ctx context.Context, key string) error

	// ScanPrefix returns every value whose key starts with prefix, ordered by key.
	ScanPrefix(ctx context.Context, prefix string) ([]Entry, error)

	Close() error
}

// Entry is a key with its value.
type Entry struct {
	Key   string
	Value []byte
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, or "" when no such bound exists.
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

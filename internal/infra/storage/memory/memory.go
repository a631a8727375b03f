// Package memory provides an in-process storage sink for runs without a database.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/vietddude/ingestor/internal/core/domain"
)

// Sink keeps forwarded records per table.
type Sink struct {
	mu      sync.RWMutex
	records map[string][]map[string]any
	log     *slog.Logger
}

func NewSink() *Sink {
	return &Sink{
		records: make(map[string][]map[string]any),
		log:     slog.Default().With("component", "memory_sink"),
	}
}

func (s *Sink) Forward(ctx context.Context, record domain.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Table] = append(s.records[record.Table], record.Data)
	s.log.Debug("Record stored", "table", record.Table)
}

// Records returns what was forwarded to table, in arrival order.
func (s *Sink) Records(table string) []map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]map[string]any(nil), s.records[table]...)
}

// Counts returns the number of records per table.
func (s *Sink) Counts(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.records))
	for table, rows := range s.records {
		out[table] = int64(len(rows))
	}
	return out, nil
}

// Tables lists tables that received at least one record.
func (s *Sink) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tables := make([]string, 0, len(s.records))
	for t := range s.records {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

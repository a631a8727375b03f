package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/ingestor/internal/core/domain"
	"github.com/vietddude/ingestor/internal/indexing/metrics"
	"github.com/vietddude/ingestor/internal/infra/notify"
)

const insertBatchQuery = `
	INSERT INTO ingested_records (table_name, record_key, data)
	SELECT * FROM unnest($1::text[], $2::text[], $3::jsonb[])
	ON CONFLICT (table_name, record_key) DO NOTHING
`

// Sink writes forwarded records in batches from a background goroutine.
// Duplicates collapse on (table_name, record_key). A batch that still fails
// after WriteAttempts is dropped and reported to the notifier.
type Sink struct {
	db         *DB
	cfg        Config
	queue      chan domain.Record
	done       chan struct{}
	wg         sync.WaitGroup
	once       sync.Once
	notifier   notify.Notifier
	writeBatch func([]domain.Record) error
	log        *slog.Logger

	// usePQArrays wraps array parameters for drivers without native slice support.
	usePQArrays bool
}

// NewSink creates a sink; call Start before forwarding.
func NewSink(db *DB, cfg Config) *Sink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}
	if cfg.WriteAttempts <= 0 {
		cfg.WriteAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	s := &Sink{
		db:          db,
		cfg:         cfg,
		queue:       make(chan domain.Record, cfg.BufferSize),
		done:        make(chan struct{}),
		log:         slog.Default().With("component", "postgres_sink"),
		usePQArrays: db != nil && db.DriverName() == "postgres",
	}
	s.writeBatch = s.write
	return s
}

// SetNotifier sets where dropped batches are reported. Call before Start.
func (s *Sink) SetNotifier(n notify.Notifier) {
	s.notifier = n
}

// Start launches the writer.
func (s *Sink) Start() {
	s.wg.Add(1)
	go s.run()
}

// Forward queues a record. It only blocks while the buffer is full.
func (s *Sink) Forward(ctx context.Context, record domain.Record) {
	select {
	case s.queue <- record:
	case <-s.done:
		metrics.SinkDropped.Inc()
		s.log.Warn("Sink closed, record dropped", "table", record.Table)
	case <-ctx.Done():
		metrics.SinkDropped.Inc()
		s.log.Warn("Record dropped on cancel", "table", record.Table)
	}
}

// Close stops accepting records and flushes what is buffered.
func (s *Sink) Close() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *Sink) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]domain.Record, 0, s.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.flushBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-s.queue:
			batch = append(batch, rec)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			for {
				select {
				case rec := <-s.queue:
					batch = append(batch, rec)
					if len(batch) >= s.cfg.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// flushBatch writes batch, retrying with a doubling delay.
func (s *Sink) flushBatch(batch []domain.Record) {
	delay := s.cfg.RetryDelay
	var err error
	for attempt := 1; attempt <= s.cfg.WriteAttempts; attempt++ {
		if err = s.writeBatch(batch); err == nil {
			return
		}
		metrics.SinkWriteErrors.Inc()
		if attempt == s.cfg.WriteAttempts {
			break
		}
		s.log.Warn("Batch write failed, retrying",
			"size", len(batch), "attempt", attempt, "delay", delay, "error", err)
		time.Sleep(delay)
		delay *= 2
	}

	tables := batchTables(batch)
	metrics.SinkDropped.Add(float64(len(batch)))
	s.log.Error("Batch dropped", "size", len(batch), "tables", tables, "attempts", s.cfg.WriteAttempts, "error", err)
	if s.notifier == nil {
		return
	}
	msg := fmt.Sprintf("postgres sink dropped %d records for tables %s after %d attempts: %v\n"+
		"rewind the producing tasks with: ingestor reset-task <task_id> <index>",
		len(batch), strings.Join(tables, ","), s.cfg.WriteAttempts, err)
	if nerr := s.notifier.Notify(context.Background(), notify.LevelError, msg); nerr != nil {
		s.log.Error("Failed to send notification", "error", nerr)
	}
}

func batchTables(batch []domain.Record) []string {
	seen := make(map[string]struct{})
	for _, r := range batch {
		seen[r.Table] = struct{}{}
	}
	tables := make([]string, 0, len(seen))
	for t := range seen {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

func (s *Sink) write(batch []domain.Record) error {
	tables, keys, payloads, err := buildColumns(batch)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, insertBatchQuery,
		s.arrayArg(tables), s.arrayArg(keys), s.arrayArg(payloads)); err != nil {
		return fmt.Errorf("failed to insert records: %w", err)
	}

	for _, t := range tables {
		metrics.SinkRecordsWritten.WithLabelValues(t).Inc()
	}
	return nil
}

func (s *Sink) arrayArg(v []string) any {
	if s.usePQArrays {
		return pq.Array(v)
	}
	return v
}

// Counts returns the number of stored records per logical table.
func (s *Sink) Counts(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Table string `db:"table_name"`
		Count int64  `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT table_name, COUNT(*) AS count FROM ingested_records GROUP BY table_name`); err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Table] = r.Count
	}
	return out, nil
}

func buildColumns(batch []domain.Record) (tables, keys, payloads []string, err error) {
	tables = make([]string, 0, len(batch))
	keys = make([]string, 0, len(batch))
	payloads = make([]string, 0, len(batch))

	for _, rec := range batch {
		data, err := json.Marshal(rec.Data)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal record for %s: %w", rec.Table, err)
		}
		tables = append(tables, rec.Table)
		keys = append(keys, recordKey(data))
		payloads = append(payloads, string(data))
	}
	return tables, keys, payloads, nil
}

// recordKey hashes the canonical JSON encoding (maps marshal with sorted keys).
func recordKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/ingestor/internal/core/config"
	"github.com/vietddude/ingestor/internal/infra/kv"
	"github.com/vietddude/ingestor/internal/infra/notify"
	redisclient "github.com/vietddude/ingestor/internal/infra/redis"
	"github.com/vietddude/ingestor/internal/infra/storage"
	"github.com/vietddude/ingestor/internal/infra/storage/memory"
	"github.com/vietddude/ingestor/internal/infra/storage/postgres"
)

// RecordSink is a storage sink that can also report how much it holds.
type RecordSink interface {
	storage.Sink
	Counts(ctx context.Context) (map[string]int64, error)
	Close()
}

// redisStore closes the connection it owns together with the store.
type redisStore struct {
	*redisclient.Store
	client *redisclient.Client
}

func (s redisStore) Close() error {
	return s.client.Close()
}

// OpenStore opens the task and retry store selected by cfg.Store.Driver.
func OpenStore(ctx context.Context, cfg *config.AppConfig) (kv.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreSQLite:
		s, err := kv.OpenSQLite(ctx, cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		slog.Info("Using SQLite task store", "path", cfg.Store.Path)
		return s, nil
	case config.StoreRedis:
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		slog.Info("Using Redis task store", "namespace", cfg.Store.Namespace)
		return redisStore{Store: redisclient.NewStore(client, cfg.Store.Namespace), client: client}, nil
	case config.StoreMemory, "":
		slog.Warn("Using in-memory task store, progress is lost on restart")
		return kv.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// memorySink adapts the in-process sink to RecordSink.
type memorySink struct {
	*memory.Sink
}

func (memorySink) Close() {}

// OpenSink connects the record sink. Without a database URL records are kept
// in memory. The returned DB is nil in that case.
func OpenSink(ctx context.Context, cfg *config.AppConfig, notifier notify.Notifier) (RecordSink, *postgres.DB, error) {
	if cfg.Database.URL == "" {
		slog.Info("Using Memory storage")
		return memorySink{memory.NewSink()}, nil, nil
	}

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init db: %w", err)
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	sink := postgres.NewSink(db, cfg.Database)
	sink.SetNotifier(notifier)
	sink.Start()
	slog.Info("Using PostgreSQL storage")
	return sink, db, nil
}

// NewNotifier fans out to every configured chat service plus the log, behind
// a bounded queue.
func NewNotifier(cfg config.NotifyConfig) *notify.Async {
	targets := notify.Multi{notify.NewLogNotifier()}
	if cfg.SlackWebhook != "" {
		targets = append(targets, notify.NewSlackNotifier(cfg.SlackWebhook))
	}
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != "" {
		targets = append(targets, notify.NewTelegramNotifier(cfg.Telegram))
	}
	return notify.NewAsync(targets, cfg.QueueSize)
}

// sendAlert delivers msg through n and logs a failed delivery.
func sendAlert(ctx context.Context, n notify.Notifier, log *slog.Logger, level notify.Level, msg string) {
	if err := n.Notify(ctx, level, msg); err != nil {
		log.Error("Failed to send notification", "level", level, "error", err)
	}
}

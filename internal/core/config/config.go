package config

import (
	"time"

	"github.com/vietddude/ingestor/internal/core/domain"
	"github.com/vietddude/ingestor/internal/indexing/filter"
	"github.com/vietddude/ingestor/internal/infra/notify"
	redisclient "github.com/vietddude/ingestor/internal/infra/redis"
	"github.com/vietddude/ingestor/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Store    StoreConfig        `yaml:"store"`
	Redis    redisclient.Config `yaml:"redis"`
	Database postgres.Config    `yaml:"database"`
	Notify   NotifyConfig       `yaml:"notify"`
	Defaults DefaultsConfig     `yaml:"defaults"`
	Tasks    []TaskConfig       `yaml:"tasks"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Store drivers for task and retry state.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// StoreConfig selects where task and retry state lives.
type StoreConfig struct {
	Driver    string `yaml:"driver"`    // memory, sqlite, redis
	Path      string `yaml:"path"`      // sqlite file
	Namespace string `yaml:"namespace"` // redis key namespace
}

// NotifyConfig holds operator notification channels. Empty channels are skipped.
type NotifyConfig struct {
	SlackWebhook string                `yaml:"slack_webhook"`
	Telegram     notify.TelegramConfig `yaml:"telegram"`
	QueueSize    int                   `yaml:"queue_size"`
}

// Filter modes.
const (
	FilterLegacy = "legacy"
	FilterStrict = "strict"
)

// DefaultsConfig applies to every task that does not override it.
type DefaultsConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	RetryCount     uint32        `yaml:"retry_count"`
	JobBatch       int           `yaml:"job_batch"` // jobs a job-driven task handles per tick
	RequestTimeout time.Duration `yaml:"request_timeout"`
	FilterMode     string        `yaml:"filter_mode"` // legacy, strict
}

// FilterOptions translates the filter mode.
func (d DefaultsConfig) FilterOptions() filter.Options {
	return filter.Options{DottedPathsOnly: d.FilterMode == FilterStrict}
}

// TaskConfig describes one sync task.
type TaskConfig struct {
	Chain        string            `yaml:"chain"`
	Name         string            `yaml:"name"`
	Kind         domain.TaskKind   `yaml:"kind"`
	StartIndex   uint64            `yaml:"start_idx"`
	Endpoints    []string          `yaml:"end_points"`
	Filter       string            `yaml:"filter"`
	PollInterval time.Duration     `yaml:"poll_interval"`
	RetryCount   uint32            `yaml:"retry_count"`
	JobBatch     int               `yaml:"job_batch"`
	Tables       map[string]string `yaml:"tables"`      // role -> table
	DispatchTo   string            `yaml:"dispatch_to"` // task id receiving follow-up jobs
}

// TaskID returns the durable id of the task.
func (t TaskConfig) TaskID() string {
	return domain.TaskID(t.Chain, t.Name)
}

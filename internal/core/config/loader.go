package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/ingestor/internal/core/domain"
)

// Defaults used when the file leaves a field empty.
const (
	DefaultPort           = 8080
	DefaultPollInterval   = time.Second
	DefaultRetryCount     = 3
	DefaultJobBatch       = 100
	DefaultRequestTimeout = 10 * time.Second
	DefaultSQLitePath     = "ingestor.db"
	DefaultNotifyQueue    = 100
	DefaultRedisNamespace = "ingestor"
)

// Load reads configuration from a YAML file, applies defaults and validates it.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content with ${ENV} references expanded.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreMemory
	}
	if c.Store.Driver == StoreSQLite && c.Store.Path == "" {
		c.Store.Path = DefaultSQLitePath
	}
	if c.Store.Namespace == "" {
		c.Store.Namespace = DefaultRedisNamespace
	}
	if c.Notify.QueueSize == 0 {
		c.Notify.QueueSize = DefaultNotifyQueue
	}

	d := &c.Defaults
	if d.PollInterval == 0 {
		d.PollInterval = DefaultPollInterval
	}
	if d.RetryCount == 0 {
		d.RetryCount = DefaultRetryCount
	}
	if d.JobBatch <= 0 {
		d.JobBatch = DefaultJobBatch
	}
	if d.RequestTimeout == 0 {
		d.RequestTimeout = DefaultRequestTimeout
	}
	if d.FilterMode == "" {
		d.FilterMode = FilterLegacy
	}

	for i := range c.Tasks {
		if c.Tasks[i].PollInterval == 0 {
			c.Tasks[i].PollInterval = d.PollInterval
		}
		if c.Tasks[i].RetryCount == 0 {
			c.Tasks[i].RetryCount = d.RetryCount
		}
		if c.Tasks[i].JobBatch <= 0 {
			c.Tasks[i].JobBatch = d.JobBatch
		}
	}
}

// Validate reports every problem found, joined.
func (c *AppConfig) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case StoreMemory, StoreSQLite:
	case StoreRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("store driver redis requires redis.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	if c.Defaults.FilterMode != FilterLegacy && c.Defaults.FilterMode != FilterStrict {
		errs = append(errs, fmt.Errorf("unknown filter mode %q", c.Defaults.FilterMode))
	}

	if len(c.Tasks) == 0 {
		errs = append(errs, errors.New("no tasks configured"))
	}

	kinds := make(map[string]domain.TaskKind, len(c.Tasks))
	for i, t := range c.Tasks {
		if t.Chain == "" || t.Name == "" {
			errs = append(errs, fmt.Errorf("tasks[%d]: chain and name are required", i))
			continue
		}
		id := t.TaskID()
		if _, dup := kinds[id]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate task", id))
		}
		kinds[id] = t.Kind

		if !slices.Contains(domain.KnownKinds, t.Kind) {
			errs = append(errs, fmt.Errorf("%s: unknown kind %q", id, t.Kind))
		}
		if len(t.Endpoints) == 0 {
			errs = append(errs, fmt.Errorf("%s: at least one end point is required", id))
		}
	}

	for _, t := range c.Tasks {
		if t.DispatchTo == "" {
			continue
		}
		target, ok := kinds[t.DispatchTo]
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("%s: dispatch_to %s is not a configured task", t.TaskID(), t.DispatchTo))
		case !target.IsJobDriven():
			errs = append(errs, fmt.Errorf("%s: dispatch_to %s has kind %s, which does not accept jobs", t.TaskID(), t.DispatchTo, target))
		}
	}

	return errors.Join(errs...)
}

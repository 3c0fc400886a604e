package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config aggregates the settings needed to run the controller process: the
// orchestrator's admission policy, the durable store, logging, and the
// outbox/dispatcher. A per-run RunConfig (see runconfig.go) is decoded
// separately from the document passed to RunManager.Submit.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
}

// AppConfig controls process-wide parameters.
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig controls the shared SQLite store backing RunStore, Outbox
// and the trade-log reporter.
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig controls zap output.
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// OrchestratorConfig bounds RunManager admission and cancellation.
type OrchestratorConfig struct {
	MaxConcurrentRuns int           `mapstructure:"max_concurrent_runs"`
	QueueCapacity     int           `mapstructure:"queue_capacity"`
	CancelGrace       time.Duration `mapstructure:"cancel_grace"`
	RingBufferSize    int           `mapstructure:"ring_buffer_size"`
	SubscriberBacklog int           `mapstructure:"subscriber_backlog"`
}

// OutboxConfig controls the notification outbox and dispatcher pool.
type OutboxConfig struct {
	DedupeTTL      time.Duration `mapstructure:"dedupe_ttl"`
	LeaseDuration  time.Duration `mapstructure:"lease_duration"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
	Workers        int           `mapstructure:"workers"`
	BatchSize      int           `mapstructure:"batch_size"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

// Validate performs basic sanity checks, aggregating every violation instead
// of bailing out on the first one.
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment must not be empty"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path must not be empty"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns must be > 0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns must not be negative"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level must not be empty"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding must not be empty"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths must list at least one sink"))
	}
	if c.Orchestrator.MaxConcurrentRuns <= 0 {
		err = multierr.Append(err, errors.New("orchestrator.max_concurrent_runs must be > 0"))
	}
	if c.Orchestrator.QueueCapacity < 0 {
		err = multierr.Append(err, errors.New("orchestrator.queue_capacity must not be negative"))
	}
	if c.Orchestrator.RingBufferSize <= 0 {
		err = multierr.Append(err, errors.New("orchestrator.ring_buffer_size must be > 0"))
	}
	if c.Outbox.DedupeTTL <= 0 {
		err = multierr.Append(err, errors.New("outbox.dedupe_ttl must be > 0"))
	}
	if c.Outbox.LeaseDuration <= 0 {
		err = multierr.Append(err, errors.New("outbox.lease_duration must be > 0"))
	}
	if c.Outbox.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("outbox.max_attempts must be > 0"))
	}
	if c.Outbox.Workers <= 0 {
		err = multierr.Append(err, errors.New("outbox.workers must be > 0"))
	}
	if c.Outbox.RetryBaseDelay <= 0 || c.Outbox.RetryMaxDelay <= 0 {
		err = multierr.Append(err, errors.New("outbox.retry_base_delay and retry_max_delay must be > 0"))
	}
	if c.Outbox.RetryBaseDelay > c.Outbox.RetryMaxDelay {
		err = multierr.Append(err, errors.New("outbox.retry_base_delay must not exceed retry_max_delay"))
	}

	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

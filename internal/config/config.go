package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "trades"
)

// Load reads the controller configuration file and overlays environment
// variables on top of it.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file %q not found: %w", path, err)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook(false)); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("database.path", "data/trades.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("orchestrator.max_concurrent_runs", 4)
	v.SetDefault("orchestrator.queue_capacity", 32)
	v.SetDefault("orchestrator.cancel_grace", "30s")
	v.SetDefault("orchestrator.ring_buffer_size", 256)
	v.SetDefault("orchestrator.subscriber_backlog", 128)

	v.SetDefault("outbox.dedupe_ttl", "300s")
	v.SetDefault("outbox.lease_duration", "30s")
	v.SetDefault("outbox.max_attempts", 8)
	v.SetDefault("outbox.retry_base_delay", "1s")
	v.SetDefault("outbox.retry_max_delay", "5m")
	v.SetDefault("outbox.workers", 2)
	v.SetDefault("outbox.batch_size", 20)
	v.SetDefault("outbox.poll_interval", "1s")
}

func decodeHook(strict bool) viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.ErrorUnused = strict
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// LoadRunConfig decodes a per-run configuration document (spec.md §6) from a
// generic map, e.g. as produced by unmarshalling a submitted run's YAML/JSON
// body. strict rejects unknown keys instead of ignoring them, matching the
// submit-time validation-mode option.
func LoadRunConfig(doc map[string]interface{}, strict bool) (*RunConfig, error) {
	var rc RunConfig
	decoder, err := mapstructure.NewDecoder(decoderConfigFor(&rc, strict))
	if err != nil {
		return nil, fmt.Errorf("failed to build run config decoder: %w", err)
	}
	if err := decoder.Decode(doc); err != nil {
		return nil, fmt.Errorf("failed to decode run config: %w", err)
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	return &rc, nil
}

func decoderConfigFor(out interface{}, strict bool) *mapstructure.DecoderConfig {
	dc := &mapstructure.DecoderConfig{
		Result:      out,
		TagName:     "mapstructure",
		ErrorUnused: strict,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}
	return dc
}

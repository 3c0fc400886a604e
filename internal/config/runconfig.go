package config

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// RunConfig is the opaque-to-the-orchestrator, typed-to-the-worker document
// submitted via RunManager.Submit (spec.md §6). Unknown top-level keys are
// either ignored or rejected depending on the submit-time validation mode;
// that choice is applied by the decoder (see config.LoadRunConfig), not here.
type RunConfig struct {
	Name          string               `mapstructure:"name"`
	DataFeed      DataFeedConfig       `mapstructure:"data_feed"`
	Strategies    []StrategyConfig     `mapstructure:"strategies"`
	Portfolio     PortfolioConfig      `mapstructure:"portfolio"`
	Execution     ExecutionConfig      `mapstructure:"execution"`
	Risk          []RiskRuleConfig     `mapstructure:"risk"`
	Reporters     []ReporterConfig     `mapstructure:"reporters"`
	Notifications NotificationsConfig  `mapstructure:"notifications"`
}

// DataFeedConfig selects one of {inmemory, local_csv, local_file, rest,
// websocket, push_stream, live_api} and carries the type-specific fields.
type DataFeedConfig struct {
	Type         string  `mapstructure:"type"`
	Path         string  `mapstructure:"path"`
	Symbol       string  `mapstructure:"symbol"`
	URL          string  `mapstructure:"url"`
	PollInterval string  `mapstructure:"poll_interval"`
	AuthToken    string  `mapstructure:"auth_token"`
	Heartbeat    string  `mapstructure:"heartbeat_interval"`
	MaxBackoff   string  `mapstructure:"max_backoff"`
}

// StrategyConfig describes one entry in the ordered strategies list.
type StrategyConfig struct {
	Type         string  `mapstructure:"type"` // moving_average | breakout | plugin
	Plugin       string  `mapstructure:"plugin"`
	Symbol       string  `mapstructure:"symbol"`
	ShortWindow  int     `mapstructure:"short_window"`
	LongWindow   int     `mapstructure:"long_window"`
	Lookback     int     `mapstructure:"lookback"`
	AllowShort   bool    `mapstructure:"allow_short"`
	MaxErrors    int     `mapstructure:"max_errors"`
	Params       map[string]interface{} `mapstructure:"params"`
}

// PortfolioConfig describes the portfolio stage (naive or weighted).
type PortfolioConfig struct {
	Type         string  `mapstructure:"type"` // naive | weighted
	LotSize      int     `mapstructure:"lot_size"`
	InitialCash  float64 `mapstructure:"initial_cash"`
	MaxLeverage  float64 `mapstructure:"max_leverage"`
	TwoSided     bool    `mapstructure:"two_sided"`
}

// ExecutionConfig describes the simulated execution handler.
type ExecutionConfig struct {
	Type                string  `mapstructure:"type"` // immediate
	Slippage            float64 `mapstructure:"slippage"`
	SlippageMode        string  `mapstructure:"slippage_mode"` // relative | absolute | bps
	CommissionPerShare  float64 `mapstructure:"commission_per_share"`
	CommissionPct       float64 `mapstructure:"commission_pct"`
	FillTiming          string  `mapstructure:"fill_timing"` // current_close | next_open
	VolumeCap           float64 `mapstructure:"volume_cap"`
	StalenessThreshold  string  `mapstructure:"staleness_threshold"`
}

// RiskRuleConfig describes one entry in the ordered risk chain.
type RiskRuleConfig struct {
	Type              string  `mapstructure:"type"` // max_position | buying_power | concentration | price_band
	MaxPosition       int     `mapstructure:"max_position"`
	MaxLeverage       float64 `mapstructure:"max_leverage"`
	ReserveCash       float64 `mapstructure:"reserve_cash"`
	MaxFraction       float64 `mapstructure:"max_fraction"`
	BandPct           float64 `mapstructure:"band_pct"`
}

// ReporterConfig describes one entry in the reporter chain.
type ReporterConfig struct {
	Type string `mapstructure:"type"` // equity | detailed | tradelog
	Sink string `mapstructure:"sink"` // not read by the registry; tradelog always uses the shared store
}

// NotificationsConfig is the optional bridge/outbox activation block.
type NotificationsConfig struct {
	Enabled     bool             `mapstructure:"enabled"`
	MinLevel    string           `mapstructure:"min_level"`
	DedupeTTLS  int              `mapstructure:"dedupe_ttl_seconds"`
	Channels    []ChannelConfig  `mapstructure:"channels"`
}

// ChannelConfig describes one destination for delivered intents.
type ChannelConfig struct {
	Type        string  `mapstructure:"type"`
	Credentials string  `mapstructure:"credentials_reference"`
	Destination string  `mapstructure:"destination"`
	MinSeverity string  `mapstructure:"min_severity"`
}

// Validate checks structural invariants that the engine assembler relies on
// (registry lookups assume non-empty type strings, etc.) without duplicating
// the deeper per-component validation each constructor performs.
func (rc *RunConfig) Validate() error {
	var err error

	if rc.Name == "" {
		err = multierr.Append(err, errors.New("name must not be empty"))
	}
	if rc.DataFeed.Type == "" {
		err = multierr.Append(err, errors.New("data_feed.type must not be empty"))
	}
	if len(rc.Strategies) == 0 {
		err = multierr.Append(err, errors.New("strategies must list at least one entry"))
	}
	for i, s := range rc.Strategies {
		if s.Type == "" {
			err = multierr.Append(err, fmt.Errorf("strategies[%d].type must not be empty", i))
		}
	}
	if rc.Portfolio.Type == "" {
		err = multierr.Append(err, errors.New("portfolio.type must not be empty"))
	}
	if rc.Portfolio.LotSize < 0 {
		err = multierr.Append(err, errors.New("portfolio.lot_size must not be negative"))
	}
	if rc.Execution.Type == "" {
		err = multierr.Append(err, errors.New("execution.type must not be empty"))
	}
	for i, r := range rc.Risk {
		if r.Type == "" {
			err = multierr.Append(err, fmt.Errorf("risk[%d].type must not be empty", i))
		}
	}
	for i, rp := range rc.Reporters {
		if rp.Type == "" {
			err = multierr.Append(err, fmt.Errorf("reporters[%d].type must not be empty", i))
		}
	}
	if rc.Notifications.Enabled {
		for i, ch := range rc.Notifications.Channels {
			if ch.Type == "" {
				err = multierr.Append(err, fmt.Errorf("notifications.channels[%d].type must not be empty", i))
			}
		}
	}

	if err != nil {
		return fmt.Errorf("run config validation failed: %w", err)
	}
	return nil
}

// Package registry assembles a kernel.Engine from a config.RunConfig by
// mapping each component's type string to a concrete constructor
// (spec.md §9's build-time plugin registration model). There is no
// runtime plugin loading: every type string this package accepts must be
// wired here at compile time.
package registry

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trades-ai/internal/config"
	"trades-ai/internal/execution"
	"trades-ai/internal/feed"
	"trades-ai/internal/kernel"
	"trades-ai/internal/portfolio"
	"trades-ai/internal/reporter"
	"trades-ai/internal/risk"
	"trades-ai/internal/strategy"
)

// Deps carries the shared infrastructure components need but RunConfig
// does not itself describe: the durable store, the run identity, and the
// logger every constructed component logs through.
type Deps struct {
	RunID string
	DB    *sql.DB
	Log   *zap.Logger
}

// Build assembles every pipeline stage named in rc and wires a ready
// kernel.Engine over a fresh kernel.Bus, discarding the bus. Callers that
// need to observe the run's full event stream (the run manager's fan-out
// and notification bridge both do) should call BuildEngineAndBus instead.
func Build(rc *config.RunConfig, engineCfg kernel.Config, deps Deps) (*kernel.Engine, error) {
	e, _, err := BuildEngineAndBus(rc, engineCfg, deps)
	return e, err
}

// BuildEngineAndBus is Build but also returns the kernel.Bus the engine
// was wired over, so a caller can Subscribe an observer to every Kind
// before running it.
func BuildEngineAndBus(rc *config.RunConfig, engineCfg kernel.Config, deps Deps) (*kernel.Engine, *kernel.Bus, error) {
	if err := rc.Validate(); err != nil {
		return nil, nil, err
	}

	f, err := BuildDataFeed(rc.DataFeed, deps)
	if err != nil {
		return nil, nil, fmt.Errorf("registry: data_feed: %w", err)
	}

	strategies := make([]kernel.Strategy, 0, len(rc.Strategies))
	for i, sc := range rc.Strategies {
		s, err := BuildStrategy(sc)
		if err != nil {
			return nil, nil, fmt.Errorf("registry: strategies[%d]: %w", i, err)
		}
		strategies = append(strategies, s)
	}

	rules := make([]kernel.RiskRule, 0, len(rc.Risk))
	for i, rrc := range rc.Risk {
		r, err := BuildRiskRule(rrc)
		if err != nil {
			return nil, nil, fmt.Errorf("registry: risk[%d]: %w", i, err)
		}
		rules = append(rules, r)
	}
	chain := risk.NewChain(rules...)

	p, err := BuildPortfolio(rc.Portfolio, chain)
	if err != nil {
		return nil, nil, fmt.Errorf("registry: portfolio: %w", err)
	}

	exec, err := BuildExecution(rc.Execution)
	if err != nil {
		return nil, nil, fmt.Errorf("registry: execution: %w", err)
	}

	reporters := make([]kernel.Reporter, 0, len(rc.Reporters))
	for i, rpc := range rc.Reporters {
		rp, err := BuildReporter(rpc, rc.Portfolio.InitialCash, deps)
		if err != nil {
			return nil, nil, fmt.Errorf("registry: reporters[%d]: %w", i, err)
		}
		reporters = append(reporters, rp)
	}

	bus := kernel.NewBus(deps.Log)
	engine, err := kernel.New(engineCfg, bus, f, strategies, p, exec, reporters, deps.Log)
	if err != nil {
		return nil, nil, err
	}
	return engine, bus, nil
}

// BuildDataFeed maps a DataFeedConfig to a concrete kernel.DataFeed.
func BuildDataFeed(c config.DataFeedConfig, deps Deps) (kernel.DataFeed, error) {
	switch c.Type {
	case "local_csv", "local_file":
		return feed.NewLocalCSV(c.Path, c.Symbol)
	case "rest", "live_api":
		poll, err := parseDurationOr(c.PollInterval, 5*time.Second)
		if err != nil {
			return nil, err
		}
		maxBackoff, err := parseDurationOr(c.MaxBackoff, 2*time.Minute)
		if err != nil {
			return nil, err
		}
		return feed.NewREST(feed.RESTOptions{
			URL: c.URL, Symbol: c.Symbol, PollInterval: poll, MaxBackoff: maxBackoff,
		}, deps.Log), nil
	case "websocket", "push_stream":
		heartbeat, err := parseDurationOr(c.Heartbeat, 30*time.Second)
		if err != nil {
			return nil, err
		}
		maxBackoff, err := parseDurationOr(c.MaxBackoff, 2*time.Minute)
		if err != nil {
			return nil, err
		}
		return feed.NewWebSocket(feed.WSOptions{
			URL: c.URL, Symbol: c.Symbol, HeartbeatTimeout: heartbeat, MaxBackoff: maxBackoff,
		}, deps.Log), nil
	case "inmemory":
		return feed.NewInMemory(nil), nil
	default:
		return nil, fmt.Errorf("unknown data_feed.type %q", c.Type)
	}
}

// BuildStrategy maps a StrategyConfig to a concrete kernel.Strategy.
func BuildStrategy(c config.StrategyConfig) (kernel.Strategy, error) {
	id := fmt.Sprintf("%s:%s", c.Type, c.Symbol)
	switch c.Type {
	case "moving_average":
		return strategy.NewMovingAverageCrossover(id, c.Symbol, c.ShortWindow, c.LongWindow, c.AllowShort)
	case "breakout":
		return strategy.NewBreakout(id, c.Symbol, c.Lookback, c.AllowShort)
	default:
		return nil, fmt.Errorf("unknown strategies[].type %q", c.Type)
	}
}

// BuildRiskRule maps a RiskRuleConfig to a concrete kernel.RiskRule.
func BuildRiskRule(c config.RiskRuleConfig) (kernel.RiskRule, error) {
	switch c.Type {
	case "max_position":
		return risk.MaxPosition{Limit: int64(c.MaxPosition)}, nil
	case "buying_power":
		return risk.BuyingPower{MaxLeverage: c.MaxLeverage, ReserveCash: c.ReserveCash}, nil
	case "concentration":
		return risk.Concentration{MaxFraction: c.MaxFraction}, nil
	case "price_band":
		return risk.PriceBand{BandPct: c.BandPct}, nil
	default:
		return nil, fmt.Errorf("unknown risk[].type %q", c.Type)
	}
}

// BuildPortfolio maps a PortfolioConfig to a concrete kernel.Portfolio.
func BuildPortfolio(c config.PortfolioConfig, chain *risk.Chain) (kernel.Portfolio, error) {
	lot := int64(c.LotSize)
	if lot <= 0 {
		lot = 1
	}
	switch c.Type {
	case "naive":
		return portfolio.NewNaive(lot, c.InitialCash, chain)
	case "weighted":
		return portfolio.NewWeighted(lot, c.InitialCash, c.MaxLeverage, c.TwoSided, chain)
	default:
		return nil, fmt.Errorf("unknown portfolio.type %q", c.Type)
	}
}

// BuildExecution maps an ExecutionConfig to a concrete kernel.ExecutionHandler.
func BuildExecution(c config.ExecutionConfig) (kernel.ExecutionHandler, error) {
	switch c.Type {
	case "", "immediate", "simulated":
		staleness, err := parseDurationOr(c.StalenessThreshold, 0)
		if err != nil {
			return nil, err
		}
		return execution.New(execution.Options{
			FillTiming:         execution.FillTiming(c.FillTiming),
			Slippage:           c.Slippage,
			SlippageMode:       execution.SlippageMode(c.SlippageMode),
			CommissionPerShare: c.CommissionPerShare,
			CommissionPct:      c.CommissionPct,
			VolumeCap:          c.VolumeCap,
			StalenessThreshold: staleness,
		}), nil
	default:
		return nil, fmt.Errorf("unknown execution.type %q", c.Type)
	}
}

// BuildReporter maps a ReporterConfig to a concrete kernel.Reporter.
// tradelog requires deps.DB for its default SQLite sink.
func BuildReporter(c config.ReporterConfig, initialCash float64, deps Deps) (kernel.Reporter, error) {
	switch c.Type {
	case "equity":
		return reporter.NewEquityCurve(), nil
	case "detailed":
		return reporter.NewDetailed(initialCash), nil
	case "tradelog":
		if deps.DB == nil {
			return nil, fmt.Errorf("tradelog reporter requires a database connection")
		}
		sink, err := reporter.NewSQLiteSink(deps.DB)
		if err != nil {
			return nil, err
		}
		return reporter.NewTradeLog(deps.RunID, sink), nil
	default:
		return nil, fmt.Errorf("unknown reporters[].type %q", c.Type)
	}
}

func parseDurationOr(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

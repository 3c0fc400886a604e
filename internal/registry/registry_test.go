package registry

import (
	"testing"

	"trades-ai/internal/config"
)

func TestBuildStrategyUnknownTypeErrors(t *testing.T) {
	if _, err := BuildStrategy(config.StrategyConfig{Type: "not_a_real_strategy"}); err == nil {
		t.Fatalf("expected error for unknown strategy type")
	}
}

func TestBuildStrategyMovingAverage(t *testing.T) {
	s, err := BuildStrategy(config.StrategyConfig{Type: "moving_average", Symbol: "AAPL", ShortWindow: 5, LongWindow: 20})
	if err != nil {
		t.Fatalf("BuildStrategy: %v", err)
	}
	if s.ID() == "" {
		t.Fatalf("expected a non-empty strategy id")
	}
}

func TestBuildStrategyBreakout(t *testing.T) {
	s, err := BuildStrategy(config.StrategyConfig{Type: "breakout", Symbol: "AAPL", Lookback: 20})
	if err != nil {
		t.Fatalf("BuildStrategy: %v", err)
	}
	if s.ID() == "" {
		t.Fatalf("expected a non-empty strategy id")
	}
}

func TestBuildRiskRuleKnownTypes(t *testing.T) {
	cases := []config.RiskRuleConfig{
		{Type: "max_position", MaxPosition: 100},
		{Type: "buying_power", MaxLeverage: 1},
		{Type: "concentration", MaxFraction: 0.5},
		{Type: "price_band", BandPct: 0.02},
	}
	for _, c := range cases {
		if _, err := BuildRiskRule(c); err != nil {
			t.Fatalf("BuildRiskRule(%s): %v", c.Type, err)
		}
	}
}

func TestBuildRiskRuleUnknownType(t *testing.T) {
	if _, err := BuildRiskRule(config.RiskRuleConfig{Type: "nonexistent"}); err == nil {
		t.Fatalf("expected error for unknown risk rule type")
	}
}

func TestBuildPortfolioNaiveAndWeighted(t *testing.T) {
	if _, err := BuildPortfolio(config.PortfolioConfig{Type: "naive", LotSize: 10, InitialCash: 1000}, nil); err != nil {
		t.Fatalf("BuildPortfolio naive: %v", err)
	}
	if _, err := BuildPortfolio(config.PortfolioConfig{Type: "weighted", LotSize: 1, InitialCash: 1000, MaxLeverage: 1}, nil); err != nil {
		t.Fatalf("BuildPortfolio weighted: %v", err)
	}
}

func TestBuildPortfolioUnknownType(t *testing.T) {
	if _, err := BuildPortfolio(config.PortfolioConfig{Type: "nonexistent"}, nil); err == nil {
		t.Fatalf("expected error for unknown portfolio type")
	}
}

func TestBuildExecutionDefaultsToImmediate(t *testing.T) {
	if _, err := BuildExecution(config.ExecutionConfig{}); err != nil {
		t.Fatalf("expected empty execution type to default to immediate: %v", err)
	}
}

func TestBuildExecutionRejectsBadDuration(t *testing.T) {
	if _, err := BuildExecution(config.ExecutionConfig{StalenessThreshold: "not-a-duration"}); err == nil {
		t.Fatalf("expected error for invalid staleness_threshold")
	}
}

func TestBuildReporterEquityAndDetailed(t *testing.T) {
	if _, err := BuildReporter(config.ReporterConfig{Type: "equity"}, 1000, Deps{}); err != nil {
		t.Fatalf("BuildReporter equity: %v", err)
	}
	if _, err := BuildReporter(config.ReporterConfig{Type: "detailed"}, 1000, Deps{}); err != nil {
		t.Fatalf("BuildReporter detailed: %v", err)
	}
}

func TestBuildReporterTradeLogRequiresDB(t *testing.T) {
	if _, err := BuildReporter(config.ReporterConfig{Type: "tradelog"}, 1000, Deps{}); err == nil {
		t.Fatalf("expected error when tradelog reporter has no database")
	}
}

func TestBuildDataFeedLocalCSVRequiresValidPath(t *testing.T) {
	if _, err := BuildDataFeed(config.DataFeedConfig{Type: "local_csv", Path: "/nonexistent/path.csv", Symbol: "AAPL"}, Deps{}); err == nil {
		t.Fatalf("expected error for missing csv file")
	}
}

func TestBuildDataFeedUnknownType(t *testing.T) {
	if _, err := BuildDataFeed(config.DataFeedConfig{Type: "nonexistent"}, Deps{}); err == nil {
		t.Fatalf("expected error for unknown data_feed type")
	}
}

// Package reporter implements the pipeline's pure-append observers:
// equity curve, detailed per-trade ledger, and the durable trade log
// (spec.md §4.3's ReporterChain canonical set).
package reporter

import (
	"context"
	"time"

	"trades-ai/internal/kernel"
)

// EquityPoint is one (timestamp, equity) sample.
type EquityPoint struct {
	Timestamp time.Time
	Equity    float64
	Cash      float64
}

// EquityCurve records one point per MetricsEvent. It is pure in-memory;
// callers read Points after the run for reporting.
type EquityCurve struct {
	Points []EquityPoint

	lastTimestamp time.Time
}

// NewEquityCurve builds an empty EquityCurve reporter.
func NewEquityCurve() *EquityCurve { return &EquityCurve{} }

func (r *EquityCurve) OnStart(ctx context.Context) error {
	r.Points = nil
	r.lastTimestamp = time.Time{}
	return nil
}

func (r *EquityCurve) OnFinish(ctx context.Context) error { return nil }

func (r *EquityCurve) OnMarket(ctx context.Context, bar kernel.Bar) error {
	r.lastTimestamp = bar.Timestamp
	return nil
}

func (r *EquityCurve) OnFill(ctx context.Context, fill kernel.FillPayload) error { return nil }

func (r *EquityCurve) OnMetrics(ctx context.Context, m kernel.MetricsPayload) error {
	r.Points = append(r.Points, EquityPoint{Timestamp: r.lastTimestamp, Equity: m.Equity, Cash: m.Cash})
	return nil
}

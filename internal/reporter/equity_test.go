package reporter

import (
	"context"
	"testing"
	"time"

	"trades-ai/internal/kernel"
)

func TestEquityCurveTracksLastBarTimestamp(t *testing.T) {
	r := NewEquityCurve()
	ctx := context.Background()
	r.OnStart(ctx)

	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	r.OnMarket(ctx, kernel.Bar{Symbol: "AAPL", Timestamp: ts, Close: 100})
	r.OnMetrics(ctx, kernel.MetricsPayload{Equity: 10500, Cash: 500})

	if len(r.Points) != 1 {
		t.Fatalf("expected one point, got %d", len(r.Points))
	}
	if !r.Points[0].Timestamp.Equal(ts) {
		t.Fatalf("expected point timestamped from the bar, got %v", r.Points[0].Timestamp)
	}
	if r.Points[0].Equity != 10500 || r.Points[0].Cash != 500 {
		t.Fatalf("unexpected point contents: %+v", r.Points[0])
	}
}

func TestEquityCurveResetsOnStart(t *testing.T) {
	r := NewEquityCurve()
	ctx := context.Background()
	r.OnStart(ctx)
	r.OnMarket(ctx, kernel.Bar{Timestamp: time.Now()})
	r.OnMetrics(ctx, kernel.MetricsPayload{Equity: 1})

	r.OnStart(ctx)
	if len(r.Points) != 0 {
		t.Fatalf("expected points cleared after OnStart, got %d", len(r.Points))
	}
}

func TestEquityCurveAppendsOnePointPerMetricsEvent(t *testing.T) {
	r := NewEquityCurve()
	ctx := context.Background()
	r.OnStart(ctx)
	for i := 0; i < 3; i++ {
		r.OnMetrics(ctx, kernel.MetricsPayload{Equity: float64(i)})
	}
	if len(r.Points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(r.Points))
	}
}

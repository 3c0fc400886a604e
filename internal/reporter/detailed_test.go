package reporter

import (
	"context"
	"testing"
	"time"

	"trades-ai/internal/kernel"
)

func TestDetailedRecordsRealizedPnLOnClosingTrade(t *testing.T) {
	r := NewDetailed(10000)
	ctx := context.Background()
	r.OnStart(ctx)
	r.OnMarket(ctx, kernel.Bar{Symbol: "AAPL", Timestamp: time.Now(), Close: 100})

	if err := r.OnFill(ctx, kernel.FillPayload{
		Symbol: "AAPL", Side: kernel.SideBuy, FilledQuantity: 10, FillPrice: 100,
	}); err != nil {
		t.Fatalf("OnFill open: %v", err)
	}
	if err := r.OnFill(ctx, kernel.FillPayload{
		Symbol: "AAPL", Side: kernel.SideSell, FilledQuantity: 10, FillPrice: 110,
	}); err != nil {
		t.Fatalf("OnFill close: %v", err)
	}

	if len(r.Trades) != 2 {
		t.Fatalf("expected 2 trade records, got %d", len(r.Trades))
	}
	closing := r.Trades[1]
	if closing.RealizedPnL != 100 {
		t.Fatalf("expected realized pnl 100 (10 shares * $10 gain), got %v", closing.RealizedPnL)
	}
	if closing.PositionAfter != 0 {
		t.Fatalf("expected flat position after close, got %d", closing.PositionAfter)
	}
}

func TestDetailedTracksWeightedAverageCostOnAdds(t *testing.T) {
	r := NewDetailed(10000)
	ctx := context.Background()
	r.OnStart(ctx)

	r.OnFill(ctx, kernel.FillPayload{Symbol: "AAPL", Side: kernel.SideBuy, FilledQuantity: 10, FillPrice: 100})
	r.OnFill(ctx, kernel.FillPayload{Symbol: "AAPL", Side: kernel.SideBuy, FilledQuantity: 10, FillPrice: 200})

	if got := r.costBasis["AAPL"]; got != 150 {
		t.Fatalf("expected weighted average cost 150, got %v", got)
	}
}

func TestDetailedDeductsCommissionFromCash(t *testing.T) {
	r := NewDetailed(1000)
	ctx := context.Background()
	r.OnStart(ctx)

	r.OnFill(ctx, kernel.FillPayload{Symbol: "AAPL", Side: kernel.SideBuy, FilledQuantity: 1, FillPrice: 100, Commission: 5})
	if r.cash != 1000-100-5 {
		t.Fatalf("expected cash to reflect price and commission, got %v", r.cash)
	}
}

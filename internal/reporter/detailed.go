package reporter

import (
	"context"
	"time"

	"trades-ai/internal/kernel"
)

// Trade is one recorded fill with the realized PnL computed against the
// prior position's cost basis (only meaningful for a closing trade).
type Trade struct {
	Timestamp      time.Time
	Symbol         string
	Side           kernel.OrderSide
	Quantity       int64
	Price          float64
	Commission     float64
	PositionAfter  int64
	CashAfter      float64
	EquityAfter    float64
	RealizedPnL    float64
}

// Detailed records every fill together with the realized PnL it closes and
// the cash and mark-to-market equity after it. Unrealized PnL is not
// reported as a separate figure, and no running drawdown is kept;
// Sharpe/CAGR/drawdown style aggregate statistics are left to the
// consuming reporting surface.
type Detailed struct {
	Trades []Trade

	costBasis map[string]float64
	positions map[string]int64
	cash      float64
	prices    map[string]float64
	lastTS    time.Time
}

// NewDetailed builds a Detailed reporter seeded with initialCash so
// EquityAfter reflects the run's true cash trajectory.
func NewDetailed(initialCash float64) *Detailed {
	return &Detailed{
		costBasis: make(map[string]float64),
		positions: make(map[string]int64),
		prices:    make(map[string]float64),
		cash:      initialCash,
	}
}

func (r *Detailed) OnStart(ctx context.Context) error {
	r.Trades = nil
	r.costBasis = make(map[string]float64)
	r.positions = make(map[string]int64)
	r.prices = make(map[string]float64)
	return nil
}

func (r *Detailed) OnFinish(ctx context.Context) error { return nil }

func (r *Detailed) OnMarket(ctx context.Context, bar kernel.Bar) error {
	r.prices[bar.Symbol] = bar.Close
	r.lastTS = bar.Timestamp
	return nil
}

func (r *Detailed) equity() float64 {
	total := r.cash
	for sym, qty := range r.positions {
		total += float64(qty) * r.prices[sym]
	}
	return total
}

func (r *Detailed) OnFill(ctx context.Context, fill kernel.FillPayload) error {
	signedQty := fill.FilledQuantity
	if fill.Side == kernel.SideSell {
		signedQty = -signedQty
	}

	oldPosition := r.positions[fill.Symbol]
	var pnl float64
	if oldPosition != 0 && ((oldPosition > 0 && signedQty < 0) || (oldPosition < 0 && signedQty > 0)) {
		closedQty := minInt64(absInt64(oldPosition), absInt64(signedQty))
		avgCost := r.costBasis[fill.Symbol]
		pnl = float64(closedQty) * (fill.FillPrice - avgCost)
		if oldPosition < 0 {
			pnl = -pnl
		}
	}

	newPosition := oldPosition + signedQty
	r.positions[fill.Symbol] = newPosition
	r.cash += -fill.FillPrice*float64(signedQty) - fill.Commission

	switch {
	case newPosition == 0:
		r.costBasis[fill.Symbol] = 0
	case absInt64(newPosition) > absInt64(oldPosition):
		oldCost := r.costBasis[fill.Symbol] * float64(absInt64(oldPosition))
		newCost := fill.FillPrice * float64(absInt64(signedQty))
		r.costBasis[fill.Symbol] = (oldCost + newCost) / float64(absInt64(newPosition))
	}

	r.Trades = append(r.Trades, Trade{
		Timestamp:     fill.Timestamp,
		Symbol:        fill.Symbol,
		Side:          fill.Side,
		Quantity:      fill.FilledQuantity,
		Price:         fill.FillPrice,
		Commission:    fill.Commission,
		PositionAfter: newPosition,
		CashAfter:     r.cash,
		EquityAfter:   r.equity(),
		RealizedPnL:   pnl - fill.Commission,
	})
	return nil
}

func (r *Detailed) OnMetrics(ctx context.Context, m kernel.MetricsPayload) error { return nil }

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Package portfolio implements the pipeline's sizing and bookkeeping
// stage: translating strategy signals into orders through a risk chain,
// then applying fills to cash and position state.
package portfolio

import (
	"context"
	"fmt"

	"trades-ai/internal/kernel"
	"trades-ai/internal/risk"
)

// Naive is a minimal portfolio: it targets a fixed lot size per symbol per
// signal direction and issues a market order for the delta between the
// current and target position. It owns the risk chain consulted before an
// order is allowed through.
type Naive struct {
	lotSize     int64
	initialCash float64
	chain       *risk.Chain

	cash      float64
	positions map[string]kernel.Position
}

// NewNaive builds a Naive portfolio. lotSize must be positive.
func NewNaive(lotSize int64, initialCash float64, chain *risk.Chain) (*Naive, error) {
	if lotSize <= 0 {
		return nil, fmt.Errorf("portfolio: lot_size must be positive, got %d", lotSize)
	}
	if chain == nil {
		chain = risk.NewChain()
	}
	return &Naive{
		lotSize:     lotSize,
		initialCash: initialCash,
		chain:       chain,
		positions:   make(map[string]kernel.Position),
	}, nil
}

func (p *Naive) OnStart(ctx context.Context) error {
	p.cash = p.initialCash
	p.positions = make(map[string]kernel.Position)
	return nil
}

func (p *Naive) OnFinish(ctx context.Context) error { return nil }

func (p *Naive) OnMarket(ctx context.Context, bar kernel.Bar) error {
	pos := p.positions[bar.Symbol]
	pos.Symbol = bar.Symbol
	pos.LastMark = bar.Close
	p.positions[bar.Symbol] = pos
	return nil
}

func (p *Naive) State() kernel.PortfolioState {
	return kernel.PortfolioState{
		Cash:      p.cash,
		Positions: p.positions,
	}
}

// OnSignal targets lotSize (long), -lotSize (short), or 0 (exit) for the
// signal's symbol and issues the order needed to close the gap, after
// passing it through the risk chain. A zero-strength signal is ignored, as
// is a signal that would not change the current target.
func (p *Naive) OnSignal(ctx context.Context, sig kernel.SignalPayload) (*kernel.OrderPayload, *kernel.RiskRejectPayload, error) {
	if sig.Strength <= 0 {
		return nil, nil, nil
	}

	current := p.positions[sig.Symbol].Quantity

	var target int64
	switch sig.Direction {
	case kernel.DirectionLong:
		if current >= p.lotSize {
			return nil, nil, nil
		}
		target = p.lotSize
	case kernel.DirectionShort:
		if current <= -p.lotSize {
			return nil, nil, nil
		}
		target = -p.lotSize
	case kernel.DirectionExit:
		target = 0
	default:
		return nil, nil, nil
	}

	delta := target - current
	if delta == 0 {
		return nil, nil, nil
	}

	side := kernel.SideBuy
	qty := delta
	if delta < 0 {
		side = kernel.SideSell
		qty = -delta
	}

	order := kernel.OrderPayload{
		OrderID:        fmt.Sprintf("%s-%d", sig.StrategyID, len(p.positions)),
		Symbol:         sig.Symbol,
		Side:           side,
		Quantity:       qty,
		Type:           kernel.OrderMarket,
		TIF:            kernel.TIFDay,
		OriginSignalID: sig.StrategyID,
	}

	approved, reject := p.chain.Review(order, p.State())
	if reject != nil {
		return nil, reject, nil
	}
	return approved, nil, nil
}

// OnFill applies a fill's cash and inventory effect and reports the
// resulting metrics snapshot.
func (p *Naive) OnFill(ctx context.Context, fill kernel.FillPayload) (kernel.MetricsPayload, error) {
	pos := p.positions[fill.Symbol]
	pos.Symbol = fill.Symbol

	signedQty := fill.FilledQuantity
	if fill.Side == kernel.SideSell {
		signedQty = -signedQty
	}

	if pos.Quantity+signedQty != 0 {
		totalCost := pos.AverageCost*float64(pos.Quantity) + fill.FillPrice*float64(signedQty)
		newQty := pos.Quantity + signedQty
		if sameSign(pos.Quantity, newQty) || pos.Quantity == 0 {
			pos.AverageCost = totalCost / float64(newQty)
		}
	}
	pos.Quantity += signedQty
	if pos.LastMark == 0 {
		pos.LastMark = fill.FillPrice
	}
	p.positions[fill.Symbol] = pos

	p.cash -= fill.FillPrice * float64(signedQty)
	p.cash -= fill.Commission

	state := p.State()
	holdings := make(map[string]float64, len(state.Positions))
	for sym, pp := range state.Positions {
		holdings[sym] = float64(pp.Quantity) * pp.LastMark
	}
	return kernel.MetricsPayload{
		Equity:   state.Equity(),
		Cash:     state.Cash,
		Holdings: holdings,
	}, nil
}

func sameSign(a, b int64) bool {
	return (a >= 0 && b >= 0) || (a <= 0 && b <= 0)
}

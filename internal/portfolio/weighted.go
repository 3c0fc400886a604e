package portfolio

import (
	"context"
	"fmt"
	"math"

	"trades-ai/internal/kernel"
	"trades-ai/internal/risk"
)

// Weighted targets a fractional exposure of total equity per symbol
// instead of a fixed lot count. A signal's TargetWeight (falling back to
// its Strength when unset) is clamped to [-MaxLeverage, MaxLeverage] and
// the resulting share count is rounded down to a whole LotSize multiple,
// mirroring the teacher's exposure-clamp-then-round arithmetic.
type Weighted struct {
	lotSize     int64
	initialCash float64
	maxLeverage float64
	twoSided    bool
	chain       *risk.Chain

	cash      float64
	positions map[string]kernel.Position
}

// NewWeighted builds a Weighted portfolio. maxLeverage bounds the absolute
// target weight; twoSided allows short targets when false the portfolio
// floors negative weights at zero.
func NewWeighted(lotSize int64, initialCash, maxLeverage float64, twoSided bool, chain *risk.Chain) (*Weighted, error) {
	if lotSize <= 0 {
		return nil, fmt.Errorf("portfolio: lot_size must be positive, got %d", lotSize)
	}
	if maxLeverage <= 0 {
		return nil, fmt.Errorf("portfolio: max_leverage must be positive, got %f", maxLeverage)
	}
	if chain == nil {
		chain = risk.NewChain()
	}
	return &Weighted{
		lotSize:     lotSize,
		initialCash: initialCash,
		maxLeverage: maxLeverage,
		twoSided:    twoSided,
		chain:       chain,
		positions:   make(map[string]kernel.Position),
	}, nil
}

func (p *Weighted) OnStart(ctx context.Context) error {
	p.cash = p.initialCash
	p.positions = make(map[string]kernel.Position)
	return nil
}

func (p *Weighted) OnFinish(ctx context.Context) error { return nil }

func (p *Weighted) OnMarket(ctx context.Context, bar kernel.Bar) error {
	pos := p.positions[bar.Symbol]
	pos.Symbol = bar.Symbol
	pos.LastMark = bar.Close
	p.positions[bar.Symbol] = pos
	return nil
}

func (p *Weighted) State() kernel.PortfolioState {
	return kernel.PortfolioState{Cash: p.cash, Positions: p.positions}
}

func (p *Weighted) OnSignal(ctx context.Context, sig kernel.SignalPayload) (*kernel.OrderPayload, *kernel.RiskRejectPayload, error) {
	if sig.TargetWeight == nil && sig.Strength <= 0 && sig.Direction != kernel.DirectionExit {
		return nil, nil, nil
	}

	weight := sig.Strength
	if sig.TargetWeight != nil {
		weight = *sig.TargetWeight
	}
	switch sig.Direction {
	case kernel.DirectionShort:
		weight = -weight
	case kernel.DirectionExit:
		weight = 0
	}
	if weight > p.maxLeverage {
		weight = p.maxLeverage
	}
	if weight < -p.maxLeverage {
		weight = -p.maxLeverage
	}
	if !p.twoSided && weight < 0 {
		weight = 0
	}

	pos := p.positions[sig.Symbol]
	price := pos.LastMark
	if price <= 0 {
		return nil, nil, nil
	}

	state := p.State()
	equity := state.Equity()
	targetValue := weight * equity
	targetQty := int64(math.Trunc(targetValue/price/float64(p.lotSize))) * p.lotSize

	delta := targetQty - pos.Quantity
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
		OrderID:        fmt.Sprintf("%s-w-%d", sig.StrategyID, len(p.positions)),
		Symbol:         sig.Symbol,
		Side:           side,
		Quantity:       qty,
		Type:           kernel.OrderMarket,
		TIF:            kernel.TIFDay,
		OriginSignalID: sig.StrategyID,
	}

	approved, reject := p.chain.Review(order, state)
	if reject != nil {
		return nil, reject, nil
	}
	return approved, nil, nil
}

func (p *Weighted) OnFill(ctx context.Context, fill kernel.FillPayload) (kernel.MetricsPayload, error) {
	pos := p.positions[fill.Symbol]
	pos.Symbol = fill.Symbol

	signedQty := fill.FilledQuantity
	if fill.Side == kernel.SideSell {
		signedQty = -signedQty
	}
	newQty := pos.Quantity + signedQty
	if newQty != 0 && (sameSign(pos.Quantity, newQty) || pos.Quantity == 0) {
		totalCost := pos.AverageCost*float64(pos.Quantity) + fill.FillPrice*float64(signedQty)
		pos.AverageCost = totalCost / float64(newQty)
	}
	pos.Quantity = newQty
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
	return kernel.MetricsPayload{Equity: state.Equity(), Cash: state.Cash, Holdings: holdings}, nil
}

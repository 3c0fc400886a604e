// Package execution implements the simulated broker: fill timing,
// slippage, commission, partial fills, staleness, and limit/stop matching
// (spec.md §4.3's ExecutionHandler contract), grounded on the immediate
// fill logic of the source implementation but generalized well beyond it.
package execution

import (
	"context"
	"fmt"
	"time"

	"trades-ai/internal/kernel"
)

// FillTiming selects when a market order prices against a bar.
type FillTiming string

const (
	FillCurrentClose FillTiming = "current_close"
	FillNextOpen     FillTiming = "next_open"
)

// SlippageMode selects how Slippage is interpreted.
type SlippageMode string

const (
	SlippageRelative SlippageMode = "relative"
	SlippageAbsolute SlippageMode = "absolute"
	SlippageBps      SlippageMode = "bps"
)

// Options configures a Simulated execution handler.
type Options struct {
	FillTiming         FillTiming
	Slippage           float64
	SlippageMode       SlippageMode
	CommissionPerShare float64
	CommissionPct      float64
	VolumeCap          float64 // fraction of bar volume a single fill may consume; 0 disables the cap
	StalenessThreshold time.Duration
}

type symbolState struct {
	lastBar     kernel.Bar
	prevBarTime time.Time // timestamp of the bar before lastBar; zero until a second bar arrives
	pending     []pendingOrder
}

// pendingOrder is a resting order awaiting a fill. tradingDay is the
// calendar day (UTC, truncated) of the bar the order was placed or last
// carried against, used to expire DAY-TIF residuals at the day boundary.
type pendingOrder struct {
	order      kernel.OrderPayload
	remaining  int64
	tradingDay time.Time
}

// Simulated is the reference ExecutionHandler.
type Simulated struct {
	opts Options
	seq  uint64

	symbols map[string]*symbolState
}

// New builds a Simulated execution handler. FillTiming defaults to
// next_open when left empty, per the spec's default recommendation.
func New(opts Options) *Simulated {
	if opts.FillTiming == "" {
		opts.FillTiming = FillNextOpen
	}
	if opts.SlippageMode == "" {
		opts.SlippageMode = SlippageRelative
	}
	return &Simulated{opts: opts, symbols: make(map[string]*symbolState)}
}

func (s *Simulated) OnStart(ctx context.Context) error {
	s.symbols = make(map[string]*symbolState)
	return nil
}

func (s *Simulated) OnFinish(ctx context.Context) error { return nil }

func (s *Simulated) state(symbol string) *symbolState {
	st, ok := s.symbols[symbol]
	if !ok {
		st = &symbolState{}
		s.symbols[symbol] = st
	}
	return st
}

// OnMarket updates the symbol's last-bar mark and, for next_open timing,
// fills any orders queued against the arrival of this bar.
func (s *Simulated) OnMarket(ctx context.Context, bar kernel.Bar) ([]kernel.FillPayload, error) {
	st := s.state(bar.Symbol)

	var fills []kernel.FillPayload
	if s.opts.FillTiming == FillNextOpen && len(st.pending) > 0 {
		pending := st.pending
		st.pending = nil
		for _, po := range pending {
			fill, carry := s.fillAgainstBar(po, bar, bar.Open)
			if fill != nil {
				fills = append(fills, *fill)
			}
			if carry != nil {
				st.pending = append(st.pending, *carry)
			}
		}
	}

	if !st.lastBar.Timestamp.IsZero() {
		st.prevBarTime = st.lastBar.Timestamp
	}
	st.lastBar = bar
	return fills, nil
}

// OnOrder either fills immediately (current_close) or queues the order for
// the next bar's open (next_open), applying the staleness guard first.
func (s *Simulated) OnOrder(ctx context.Context, order kernel.OrderPayload) (*kernel.FillPayload, error) {
	st := s.state(order.Symbol)
	if st.lastBar.Timestamp.IsZero() {
		return nil, fmt.Errorf("execution: no market data for symbol %s", order.Symbol)
	}
	if s.opts.StalenessThreshold > 0 && !st.prevBarTime.IsZero() {
		// Staleness is measured in event time — the gap between the two
		// most recent bars this symbol has seen — not wall-clock time, so
		// a historical replay's staleness guard behaves identically every
		// run instead of tripping on the years-old timestamps of the data
		// itself (spec.md §8's bit-for-bit replay law).
		age := st.lastBar.Timestamp.Sub(st.prevBarTime)
		if age > s.opts.StalenessThreshold {
			return nil, fmt.Errorf("execution: staleness guard rejected order for %s (bar gap %s exceeds threshold %s)", order.Symbol, age, s.opts.StalenessThreshold)
		}
	}

	day := tradingDayOf(st.lastBar.Timestamp)
	switch s.opts.FillTiming {
	case FillCurrentClose:
		fill, carry := s.fillAgainstBar(pendingOrder{order: order, remaining: order.Quantity, tradingDay: day}, st.lastBar, st.lastBar.Close)
		if carry != nil {
			st.pending = append(st.pending, *carry)
		}
		return fill, nil
	default: // next_open
		st.pending = append(st.pending, pendingOrder{order: order, remaining: order.Quantity, tradingDay: day})
		return nil, nil
	}
}

func (s *Simulated) fillAgainstBar(po pendingOrder, bar kernel.Bar, referencePrice float64) (*kernel.FillPayload, *pendingOrder) {
	order := po.order

	// A DAY order that has aged into a later trading day is gone before it
	// ever gets a chance to match this bar, not just when it fails to match.
	if order.TIF == kernel.TIFDay && !po.tradingDay.IsZero() && tradingDayOf(bar.Timestamp).After(po.tradingDay) {
		return nil, nil
	}

	if !matchesLimitOrStop(order, bar) {
		return nil, carryOrCancel(po, order, bar)
	}

	fillPrice := referencePrice
	if order.Type == kernel.OrderLimit && order.Price != nil {
		fillPrice = *order.Price
	}
	if order.Type == kernel.OrderStop && order.StopPrice != nil {
		fillPrice = *order.StopPrice
	}
	fillPrice = applySlippage(fillPrice, order.Side, s.opts.Slippage, s.opts.SlippageMode)

	qty := po.remaining
	if s.opts.VolumeCap > 0 {
		volCap := int64(s.opts.VolumeCap * bar.Volume)
		if volCap < qty {
			qty = volCap
		}
	}
	if qty <= 0 {
		return nil, carryOrCancel(po, order, bar)
	}

	commission := s.opts.CommissionPerShare*float64(qty) + s.opts.CommissionPct*fillPrice*float64(qty)
	s.seq++

	remaining := po.remaining - qty
	fill := &kernel.FillPayload{
		OrderID:           order.OrderID,
		Symbol:            order.Symbol,
		Side:              order.Side,
		FilledQuantity:    qty,
		FillPrice:         fillPrice,
		Commission:        commission,
		SlippageApplied:   fillPrice - referencePrice,
		RemainingQuantity: remaining,
		Timestamp:         bar.Timestamp,
	}

	if remaining <= 0 {
		return fill, nil
	}
	po.remaining = remaining
	return fill, carryOrCancel(po, order, bar)
}

// carryOrCancel decides whether a resting order survives past bar: IOC
// orders never carry past the bar they were evaluated against; DAY orders
// carry within their originating trading day but are dropped once a bar
// from a later trading day arrives (§4.3's DAY-expires-at-day-boundary
// rule); GTC orders carry indefinitely.
func carryOrCancel(po pendingOrder, order kernel.OrderPayload, bar kernel.Bar) *pendingOrder {
	if order.TIF == kernel.TIFIOC {
		return nil
	}
	if order.TIF == kernel.TIFDay && !po.tradingDay.IsZero() && tradingDayOf(bar.Timestamp).After(po.tradingDay) {
		return nil
	}
	return &po
}

// tradingDayOf truncates t to its calendar day, used only to detect the
// day boundary a DAY-TIF order expires at. Bars are assumed to carry
// timestamps in a single consistent location (UTC for every feed in this
// module), so a simple truncation is sufficient.
func tradingDayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func matchesLimitOrStop(order kernel.OrderPayload, bar kernel.Bar) bool {
	switch order.Type {
	case kernel.OrderMarket:
		return true
	case kernel.OrderLimit:
		if order.Price == nil {
			return true
		}
		limit := *order.Price
		if order.Side == kernel.SideBuy {
			return bar.Low <= limit
		}
		return bar.High >= limit
	case kernel.OrderStop:
		if order.StopPrice == nil {
			return true
		}
		stop := *order.StopPrice
		if order.Side == kernel.SideBuy {
			return bar.High >= stop
		}
		return bar.Low <= stop
	default:
		return true
	}
}

func applySlippage(price float64, side kernel.OrderSide, amount float64, mode SlippageMode) float64 {
	if amount == 0 {
		return price
	}
	sign := 1.0
	if side == kernel.SideSell {
		sign = -1.0
	}
	switch mode {
	case SlippageAbsolute:
		return price + sign*amount
	case SlippageBps:
		return price + sign*price*(amount/10000.0)
	default: // relative
		return price + sign*price*amount
	}
}

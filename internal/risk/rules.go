package risk

import (
	"fmt"

	"trades-ai/internal/kernel"
)

// MaxPosition caps the absolute position size per symbol, clamping the
// order's quantity down to whatever room remains under Limit rather than
// rejecting outright — an order that would only partially fit still goes
// through at the reduced size, matching the original's clamp-not-reject
// semantics (see MaxPositionRisk.review).
type MaxPosition struct {
	Limit int64
}

func (r MaxPosition) Type() string { return "max_position" }

func (r MaxPosition) Check(order kernel.OrderPayload, state kernel.PortfolioState) kernel.RiskVerdict {
	current := state.Positions[order.Symbol].Quantity
	isBuy := order.Side == kernel.SideBuy

	var available int64
	if isBuy {
		available = r.Limit - current
	} else {
		available = r.Limit + current // short exposure
	}
	if available <= 0 {
		return kernel.RiskVerdict{Approved: false, Reason: fmt.Sprintf("max_position: no room remaining under limit %d", r.Limit)}
	}

	adjusted := order.Quantity
	if adjusted > available {
		adjusted = available
	}
	if adjusted <= 0 {
		return kernel.RiskVerdict{Approved: false, Reason: fmt.Sprintf("max_position: no room remaining under limit %d", r.Limit)}
	}
	if adjusted == order.Quantity {
		return kernel.RiskVerdict{Approved: true}
	}
	modified := order
	modified.Quantity = adjusted
	return kernel.RiskVerdict{Approved: true, Modified: &modified}
}

// BuyingPower trims a buy order whose notional would exceed the remaining
// buying power (equity scaled by MaxLeverage, less current gross exposure
// and ReserveCash), and rejects it when not even one unit fits. Fees are not
// counted. Sell orders always pass; they reduce gross exposure.
type BuyingPower struct {
	MaxLeverage float64
	ReserveCash float64
}

func (r BuyingPower) Type() string { return "buying_power" }

func (r BuyingPower) Check(order kernel.OrderPayload, state kernel.PortfolioState) kernel.RiskVerdict {
	if order.Side == kernel.SideSell {
		return kernel.RiskVerdict{Approved: true}
	}

	price := state.Positions[order.Symbol].LastMark
	if price <= 0 {
		return kernel.RiskVerdict{Approved: false, Reason: "buying_power: no reference price for symbol"}
	}

	leverage := r.MaxLeverage
	if leverage <= 0 {
		leverage = 1.0
	}
	equity := state.Equity()
	maxGross := leverage * maxFloat(equity, 0)

	var gross float64
	for sym, p := range state.Positions {
		mark := p.LastMark
		gross += absFloat(float64(p.Quantity)) * mark
		_ = sym
	}
	available := maxGross - gross - r.ReserveCash
	if available <= 0 {
		return kernel.RiskVerdict{Approved: false, Reason: "buying_power: no remaining buying power"}
	}

	desired := price * float64(order.Quantity)
	if desired <= available {
		return kernel.RiskVerdict{Approved: true}
	}

	adjustedQty := int64(available / price)
	if adjustedQty <= 0 {
		return kernel.RiskVerdict{Approved: false, Reason: "buying_power: order notional exceeds available buying power"}
	}
	modified := order
	modified.Quantity = adjustedQty
	return kernel.RiskVerdict{Approved: true, Modified: &modified}
}

// Concentration rejects (or trims) a buy order that would push exposure to
// one symbol above MaxFraction of total equity.
type Concentration struct {
	MaxFraction float64
}

func (r Concentration) Type() string { return "concentration" }

func (r Concentration) Check(order kernel.OrderPayload, state kernel.PortfolioState) kernel.RiskVerdict {
	if order.Side == kernel.SideSell {
		return kernel.RiskVerdict{Approved: true}
	}

	pos := state.Positions[order.Symbol]
	price := pos.LastMark
	if price <= 0 {
		return kernel.RiskVerdict{Approved: false, Reason: "concentration: no reference price for symbol"}
	}

	equity := state.Equity()
	if equity <= 0 {
		return kernel.RiskVerdict{Approved: false, Reason: "concentration: non-positive equity"}
	}

	currentValue := float64(pos.Quantity) * price
	maxValue := r.MaxFraction * equity
	remaining := maxValue - currentValue
	if remaining <= 0 {
		return kernel.RiskVerdict{Approved: false, Reason: "concentration: symbol already at max exposure fraction"}
	}

	desired := price * float64(order.Quantity)
	if desired <= remaining {
		return kernel.RiskVerdict{Approved: true}
	}

	adjustedQty := int64(remaining / price)
	if adjustedQty <= 0 {
		return kernel.RiskVerdict{Approved: false, Reason: "concentration: order would exceed max exposure fraction"}
	}
	modified := order
	modified.Quantity = adjustedQty
	return kernel.RiskVerdict{Approved: true, Modified: &modified}
}

// PriceBand rejects an order whose reference price deviates from the
// symbol's last close by more than BandPct.
type PriceBand struct {
	BandPct float64
}

func (r PriceBand) Type() string { return "price_band" }

func (r PriceBand) Check(order kernel.OrderPayload, state kernel.PortfolioState) kernel.RiskVerdict {
	last := state.Positions[order.Symbol].LastMark
	if last <= 0 {
		return kernel.RiskVerdict{Approved: false, Reason: "price_band: no reference price for symbol"}
	}
	ref := last
	if order.Price != nil {
		ref = *order.Price
	}
	deviation := absFloat(ref-last) / last
	if deviation > r.BandPct {
		return kernel.RiskVerdict{Approved: false, Reason: fmt.Sprintf("price_band: reference price deviates %.4f from last close, band is %.4f", deviation, r.BandPct)}
	}
	return kernel.RiskVerdict{Approved: true}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Package strategy holds the built-in Strategy implementations the run
// worker's registry can construct from a run configuration document.
package strategy

import (
	"context"
	"fmt"

	talib "github.com/markcheno/go-talib"

	"trades-ai/internal/kernel"
)

// state tracks which side of the crossover a symbol currently sits on so
// repeat bars on the same side do not re-emit a signal.
type crossState int

const (
	stateFlat crossState = iota
	stateLong
	stateShort
)

// MovingAverageCrossover emits a long signal when the short SMA crosses
// above the long SMA and, when short-selling is allowed, a short signal on
// the reverse cross. It holds a rolling close-price window per symbol and
// recomputes both SMAs from talib on every bar; deterministic and free of
// I/O, per the strategy contract.
type MovingAverageCrossover struct {
	id          string
	symbol      string
	shortWindow int
	longWindow  int
	allowShort  bool

	closes []float64
	last   crossState
}

// NewMovingAverageCrossover builds the strategy for one symbol. shortWindow
// must be strictly less than longWindow.
func NewMovingAverageCrossover(id, symbol string, shortWindow, longWindow int, allowShort bool) (*MovingAverageCrossover, error) {
	if shortWindow <= 0 || longWindow <= 0 {
		return nil, fmt.Errorf("strategy: windows must be positive, got short=%d long=%d", shortWindow, longWindow)
	}
	if shortWindow >= longWindow {
		return nil, fmt.Errorf("strategy: short_window (%d) must be < long_window (%d)", shortWindow, longWindow)
	}
	return &MovingAverageCrossover{
		id:          id,
		symbol:      symbol,
		shortWindow: shortWindow,
		longWindow:  longWindow,
		allowShort:  allowShort,
		last:        stateFlat,
	}, nil
}

func (m *MovingAverageCrossover) ID() string { return m.id }

func (m *MovingAverageCrossover) OnStart(ctx context.Context) error  { return nil }
func (m *MovingAverageCrossover) OnFinish(ctx context.Context) error { return nil }

func (m *MovingAverageCrossover) OnMarket(ctx context.Context, bar kernel.Bar) ([]kernel.SignalPayload, error) {
	if bar.Symbol != m.symbol {
		return nil, nil
	}

	m.closes = append(m.closes, bar.Close)
	// Cap the window so long-running live feeds do not grow this slice
	// forever; talib only needs the trailing longWindow+1 closes.
	if keep := m.longWindow + 1; len(m.closes) > keep {
		m.closes = m.closes[len(m.closes)-keep:]
	}
	if len(m.closes) < m.longWindow {
		return nil, nil
	}

	shortSeries := talib.Sma(m.closes, m.shortWindow)
	longSeries := talib.Sma(m.closes, m.longWindow)
	shortMA := shortSeries[len(shortSeries)-1]
	longMA := longSeries[len(longSeries)-1]

	var next crossState
	switch {
	case shortMA > longMA:
		next = stateLong
	case shortMA < longMA && m.allowShort:
		next = stateShort
	default:
		next = stateFlat
	}

	if next == m.last {
		return nil, nil
	}
	m.last = next

	switch next {
	case stateLong:
		return []kernel.SignalPayload{{
			StrategyID: m.id,
			Symbol:     m.symbol,
			Direction:  kernel.DirectionLong,
			Strength:   1.0,
			Reason:     fmt.Sprintf("short_ma(%d)=%.4f crossed above long_ma(%d)=%.4f", m.shortWindow, shortMA, m.longWindow, longMA),
		}}, nil
	case stateShort:
		return []kernel.SignalPayload{{
			StrategyID: m.id,
			Symbol:     m.symbol,
			Direction:  kernel.DirectionShort,
			Strength:   1.0,
			Reason:     fmt.Sprintf("short_ma(%d)=%.4f crossed below long_ma(%d)=%.4f", m.shortWindow, shortMA, m.longWindow, longMA),
		}}, nil
	default:
		return []kernel.SignalPayload{{
			StrategyID: m.id,
			Symbol:     m.symbol,
			Direction:  kernel.DirectionExit,
			Strength:   1.0,
			Reason:     "moving averages converged",
		}}, nil
	}
}

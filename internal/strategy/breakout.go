package strategy

import (
	"context"
	"fmt"

	talib "github.com/markcheno/go-talib"

	"trades-ai/internal/kernel"
)

// Breakout is a Donchian-channel breakout strategy: it tracks the prior
// lookback bars' high/low (excluding the current bar) and emits a long
// signal when the close breaks above the prior high, a short signal (when
// allowed) on a break below the prior low, and an exit when an open long
// closes below the prior low or an open short closes above the prior high.
type Breakout struct {
	id         string
	symbol     string
	lookback   int
	allowShort bool

	highs, lows []float64
	position    crossState
}

// NewBreakout builds the strategy for one symbol. lookback must be >= 2.
func NewBreakout(id, symbol string, lookback int, allowShort bool) (*Breakout, error) {
	if lookback < 2 {
		return nil, fmt.Errorf("strategy: breakout lookback must be >= 2, got %d", lookback)
	}
	return &Breakout{id: id, symbol: symbol, lookback: lookback, allowShort: allowShort}, nil
}

func (b *Breakout) ID() string { return b.id }

func (b *Breakout) OnStart(ctx context.Context) error  { return nil }
func (b *Breakout) OnFinish(ctx context.Context) error { return nil }

func (b *Breakout) OnMarket(ctx context.Context, bar kernel.Bar) ([]kernel.SignalPayload, error) {
	if bar.Symbol != b.symbol {
		return nil, nil
	}

	var signals []kernel.SignalPayload
	if len(b.highs) >= b.lookback {
		priorHighs := talib.Max(b.highs[len(b.highs)-b.lookback:], b.lookback)
		priorLows := talib.Min(b.lows[len(b.lows)-b.lookback:], b.lookback)
		priorHigh := priorHighs[len(priorHighs)-1]
		priorLow := priorLows[len(priorLows)-1]

		switch b.position {
		case stateFlat:
			if bar.Close > priorHigh {
				b.position = stateLong
				signals = append(signals, b.signal(kernel.DirectionLong, fmt.Sprintf("close %.4f broke above prior %d-high %.4f", bar.Close, b.lookback, priorHigh)))
			} else if b.allowShort && bar.Close < priorLow {
				b.position = stateShort
				signals = append(signals, b.signal(kernel.DirectionShort, fmt.Sprintf("close %.4f broke below prior %d-low %.4f", bar.Close, b.lookback, priorLow)))
			}
		case stateLong:
			if bar.Close < priorLow {
				b.position = stateFlat
				signals = append(signals, b.signal(kernel.DirectionExit, fmt.Sprintf("close %.4f fell below prior %d-low %.4f, exiting long", bar.Close, b.lookback, priorLow)))
			}
		case stateShort:
			if bar.Close > priorHigh {
				b.position = stateFlat
				signals = append(signals, b.signal(kernel.DirectionExit, fmt.Sprintf("close %.4f rose above prior %d-high %.4f, exiting short", bar.Close, b.lookback, priorHigh)))
			}
		}
	}

	b.highs = append(b.highs, bar.High)
	b.lows = append(b.lows, bar.Low)
	if keep := b.lookback + 1; len(b.highs) > keep {
		b.highs = b.highs[len(b.highs)-keep:]
		b.lows = b.lows[len(b.lows)-keep:]
	}

	return signals, nil
}

func (b *Breakout) signal(dir kernel.SignalDirection, reason string) kernel.SignalPayload {
	return kernel.SignalPayload{
		StrategyID: b.id,
		Symbol:     b.symbol,
		Direction:  dir,
		Strength:   1.0,
		Reason:     reason,
	}
}

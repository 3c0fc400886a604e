package kernel

import "time"

// Bar is one OHLCV record for one symbol at one timestamp. Immutable once
// produced by a DataFeed.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Amount    float64
}

// Package feed implements the DataFeed contract's built-in sources:
// in-memory (for tests and seed scenarios), local CSV files, polling REST
// endpoints, and streaming websocket/push-stream connections.
package feed

import (
	"context"
	"sort"

	"trades-ai/internal/kernel"
)

// InMemory replays a fixed, pre-sorted slice of bars. Used by tests and by
// the `inmemory` data_feed type for scripted scenarios.
type InMemory struct {
	bars []kernel.Bar
	idx  int
}

// NewInMemory sorts bars by timestamp (stable, to preserve caller order for
// ties across symbols) and returns a feed over them.
func NewInMemory(bars []kernel.Bar) *InMemory {
	sorted := append([]kernel.Bar(nil), bars...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	return &InMemory{bars: sorted}
}

func (f *InMemory) OnStart(ctx context.Context) error {
	f.idx = 0
	return nil
}

func (f *InMemory) OnFinish(ctx context.Context) error { return nil }

func (f *InMemory) Next(ctx context.Context) (kernel.Bar, kernel.FeedStatus, *kernel.FeedAlertPayload, error) {
	if f.idx >= len(f.bars) {
		return kernel.Bar{}, kernel.FeedEnd, nil, nil
	}
	bar := f.bars[f.idx]
	f.idx++
	return bar, kernel.FeedBar, nil, nil
}

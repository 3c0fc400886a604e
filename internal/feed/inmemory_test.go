package feed

import (
	"context"
	"testing"
	"time"

	"trades-ai/internal/kernel"
)

func TestInMemorySortsBarsByTimestamp(t *testing.T) {
	t2 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewInMemory([]kernel.Bar{
		{Symbol: "AAPL", Timestamp: t2, Close: 2},
		{Symbol: "AAPL", Timestamp: t1, Close: 1},
	})

	ctx := context.Background()
	f.OnStart(ctx)

	bar, status, _, err := f.Next(ctx)
	if err != nil || status != kernel.FeedBar {
		t.Fatalf("expected first bar, got status=%v err=%v", status, err)
	}
	if !bar.Timestamp.Equal(t1) {
		t.Fatalf("expected earliest bar first, got %v", bar.Timestamp)
	}
}

func TestInMemoryReportsFeedEndWhenExhausted(t *testing.T) {
	f := NewInMemory([]kernel.Bar{{Symbol: "AAPL", Timestamp: time.Now()}})
	ctx := context.Background()
	f.OnStart(ctx)

	if _, _, _, err := f.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	_, status, _, err := f.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if status != kernel.FeedEnd {
		t.Fatalf("expected FeedEnd once bars exhausted, got %v", status)
	}
}

func TestInMemoryOnStartResetsCursor(t *testing.T) {
	f := NewInMemory([]kernel.Bar{{Symbol: "AAPL", Timestamp: time.Now()}})
	ctx := context.Background()
	f.OnStart(ctx)
	f.Next(ctx)
	f.OnStart(ctx)

	_, status, _, err := f.Next(ctx)
	if err != nil || status != kernel.FeedBar {
		t.Fatalf("expected replay from the start after OnStart, got status=%v err=%v", status, err)
	}
}

package feed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"trades-ai/internal/kernel"
)

func writeCSV(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bars.csv")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

func TestLoadCSVParsesRowsInOrder(t *testing.T) {
	path := writeCSV(t, "date,open,high,low,close,volume\n"+
		"2024-01-01,10,11,9,10.5,1000\n"+
		"2024-01-02,10.5,12,10,11.5,1200\n")

	bars, err := LoadCSV(path, "AAPL")
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if bars[0].Close != 10.5 || bars[1].Close != 11.5 {
		t.Fatalf("unexpected bar contents: %+v", bars)
	}
	if bars[0].Symbol != "AAPL" {
		t.Fatalf("expected symbol stamped on every bar, got %q", bars[0].Symbol)
	}
}

func TestLoadCSVRejectsMissingRequiredColumn(t *testing.T) {
	path := writeCSV(t, "date,open,high,low,volume\n2024-01-01,10,11,9,1000\n")
	if _, err := LoadCSV(path, "AAPL"); err == nil {
		t.Fatalf("expected error for missing close column")
	}
}

func TestLoadCSVSortsUnsortedTimestamps(t *testing.T) {
	path := writeCSV(t, "date,open,high,low,close,volume\n"+
		"2024-01-02,10,11,9,10.5,1000\n"+
		"2024-01-01,10.5,12,10,11.5,1200\n")
	bars, err := LoadCSV(path, "AAPL")
	if err != nil {
		t.Fatalf("LoadCSV should sort rather than fail: %v", err)
	}
	if bars[0].Close != 11.5 {
		t.Fatalf("expected rows re-sorted by timestamp, got %+v", bars)
	}
}

func TestNewLocalCSVFeedReplaysBars(t *testing.T) {
	path := writeCSV(t, "date,open,high,low,close,volume\n2024-01-01,10,11,9,10.5,1000\n")
	f, err := NewLocalCSV(path, "AAPL")
	if err != nil {
		t.Fatalf("NewLocalCSV: %v", err)
	}
	ctx := context.Background()
	f.OnStart(ctx)

	bar, status, _, err := f.Next(ctx)
	if err != nil || status != kernel.FeedBar {
		t.Fatalf("expected a bar, got status=%v err=%v", status, err)
	}
	if bar.Symbol != "AAPL" {
		t.Fatalf("expected symbol AAPL, got %q", bar.Symbol)
	}

	_, status, _, err = f.Next(ctx)
	if err != nil || status != kernel.FeedEnd {
		t.Fatalf("expected FeedEnd after single row, got status=%v err=%v", status, err)
	}
}

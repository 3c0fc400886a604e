package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"trades-ai/internal/kernel"
)

// LocalCSV is a deterministic, finite DataFeed backed by a CSV file with
// columns date, open, high, low, close, volume[, amount], one row per bar
// for a single symbol.
type LocalCSV struct {
	symbol string
	bars   []kernel.Bar
	idx    int
}

// LoadCSV reads and validates a bar file for symbol, sorted by timestamp.
func LoadCSV(path, symbol string) ([]kernel.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("feed: failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("feed: failed to read header from %s: %w", path, err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"date", "open", "high", "low", "close", "volume"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("feed: %s missing required column %q", path, required)
		}
	}

	var bars []kernel.Bar
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("feed: failed to read row from %s: %w", path, err)
		}

		ts, err := parseTimestamp(row[col["date"]])
		if err != nil {
			return nil, fmt.Errorf("feed: %s: %w", path, err)
		}
		bar := kernel.Bar{Symbol: symbol, Timestamp: ts}
		if bar.Open, err = strconv.ParseFloat(row[col["open"]], 64); err != nil {
			return nil, fmt.Errorf("feed: %s: invalid open: %w", path, err)
		}
		if bar.High, err = strconv.ParseFloat(row[col["high"]], 64); err != nil {
			return nil, fmt.Errorf("feed: %s: invalid high: %w", path, err)
		}
		if bar.Low, err = strconv.ParseFloat(row[col["low"]], 64); err != nil {
			return nil, fmt.Errorf("feed: %s: invalid low: %w", path, err)
		}
		if bar.Close, err = strconv.ParseFloat(row[col["close"]], 64); err != nil {
			return nil, fmt.Errorf("feed: %s: invalid close: %w", path, err)
		}
		if bar.Volume, err = strconv.ParseFloat(row[col["volume"]], 64); err != nil {
			return nil, fmt.Errorf("feed: %s: invalid volume: %w", path, err)
		}
		if idx, ok := col["amount"]; ok && row[idx] != "" {
			if bar.Amount, err = strconv.ParseFloat(row[idx], 64); err != nil {
				return nil, fmt.Errorf("feed: %s: invalid amount: %w", path, err)
			}
		}
		bars = append(bars, bar)
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

func parseTimestamp(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format %q", v)
}

// NewLocalCSV loads path for symbol and returns a ready feed.
func NewLocalCSV(path, symbol string) (*LocalCSV, error) {
	bars, err := LoadCSV(path, symbol)
	if err != nil {
		return nil, err
	}
	return &LocalCSV{symbol: symbol, bars: bars}, nil
}

func (f *LocalCSV) OnStart(ctx context.Context) error {
	f.idx = 0
	return nil
}

func (f *LocalCSV) OnFinish(ctx context.Context) error { return nil }

func (f *LocalCSV) Next(ctx context.Context) (kernel.Bar, kernel.FeedStatus, *kernel.FeedAlertPayload, error) {
	if f.idx >= len(f.bars) {
		return kernel.Bar{}, kernel.FeedEnd, nil, nil
	}
	bar := f.bars[f.idx]
	f.idx++
	return bar, kernel.FeedBar, nil, nil
}

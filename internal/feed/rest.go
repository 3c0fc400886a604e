package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"trades-ai/internal/kernel"
)

// BarDecoder turns one poll response body into the bars it carries. Kept
// pluggable so a given REST venue's JSON shape does not leak into the
// polling loop itself.
type BarDecoder func(body []byte) ([]kernel.Bar, error)

// JSONArrayDecoder decodes a response body as a JSON array of bars with
// fields matching kernel.Bar's JSON tags; suitable for simple REST mocks
// and test fixtures.
func JSONArrayDecoder(body []byte) ([]kernel.Bar, error) {
	var raw []struct {
		Symbol    string    `json:"symbol"`
		Timestamp time.Time `json:"timestamp"`
		Open      float64   `json:"open"`
		High      float64   `json:"high"`
		Low       float64   `json:"low"`
		Close     float64   `json:"close"`
		Volume    float64   `json:"volume"`
		Amount    float64   `json:"amount"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("feed: failed to decode bar array: %w", err)
	}
	bars := make([]kernel.Bar, len(raw))
	for i, r := range raw {
		bars[i] = kernel.Bar{
			Symbol: r.Symbol, Timestamp: r.Timestamp,
			Open: r.Open, High: r.High, Low: r.Low, Close: r.Close,
			Volume: r.Volume, Amount: r.Amount,
		}
	}
	return bars, nil
}

// RESTOptions configures a REST polling feed.
type RESTOptions struct {
	URL          string
	Symbol       string
	PollInterval time.Duration
	Decode       BarDecoder
	Client       *http.Client
	MaxBackoff   time.Duration
}

// REST polls a URL on an interval, decoding each response into bars and
// deduping already-seen timestamps per symbol. On repeated failure it
// backs off exponentially, capped at MaxBackoff, and emits a FeedAlert
// once the retry streak crosses a small threshold rather than treating
// transient I/O errors as fatal.
type REST struct {
	opts    RESTOptions
	log     *zap.Logger
	lastTS  map[string]time.Time
	pending []kernel.Bar
	failures int
}

// NewREST builds a REST feed. log may be nil.
func NewREST(opts RESTOptions, log *zap.Logger) *REST {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 2 * time.Minute
	}
	if opts.Decode == nil {
		opts.Decode = JSONArrayDecoder
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &REST{opts: opts, log: log, lastTS: make(map[string]time.Time)}
}

func (f *REST) OnStart(ctx context.Context) error {
	f.lastTS = make(map[string]time.Time)
	f.pending = nil
	f.failures = 0
	return nil
}

func (f *REST) OnFinish(ctx context.Context) error { return nil }

// Next blocks for PollInterval (backed off on repeated failure) before
// each fetch, unless bars are already buffered from a prior poll.
func (f *REST) Next(ctx context.Context) (kernel.Bar, kernel.FeedStatus, *kernel.FeedAlertPayload, error) {
	if len(f.pending) > 0 {
		bar := f.pending[0]
		f.pending = f.pending[1:]
		return bar, kernel.FeedBar, nil, nil
	}

	wait := f.opts.PollInterval
	if f.failures > 0 {
		backoff := f.opts.PollInterval << uint(f.failures)
		if backoff > f.opts.MaxBackoff || backoff <= 0 {
			backoff = f.opts.MaxBackoff
		}
		wait = backoff
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return kernel.Bar{}, kernel.FeedEnd, nil, ctx.Err()
	case <-timer.C:
	}

	bars, err := f.poll(ctx)
	if err != nil {
		f.failures++
		if f.failures >= 3 {
			return kernel.Bar{}, kernel.FeedGap, &kernel.FeedAlertPayload{
				Symbol:    f.opts.Symbol,
				AlertType: "reconnect",
				Detail:    err.Error(),
			}, nil
		}
		f.log.Warn("rest feed poll failed, retrying", zap.Error(err), zap.Int("failures", f.failures))
		return kernel.Bar{}, kernel.FeedGap, nil, nil
	}
	f.failures = 0

	var fresh []kernel.Bar
	for _, b := range bars {
		if last, ok := f.lastTS[b.Symbol]; ok && !b.Timestamp.After(last) {
			continue
		}
		f.lastTS[b.Symbol] = b.Timestamp
		fresh = append(fresh, b)
	}
	if len(fresh) == 0 {
		return kernel.Bar{}, kernel.FeedHeartbeat, nil, nil
	}

	f.pending = fresh[1:]
	return fresh[0], kernel.FeedBar, nil, nil
}

func (f *REST) poll(ctx context.Context) ([]kernel.Bar, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: failed to build request: %w", err)
	}
	resp, err := f.opts.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("feed: failed to read response: %w", err)
	}
	return f.opts.Decode(body)
}

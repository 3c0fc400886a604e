package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"trades-ai/internal/kernel"
)

// WSOptions configures a streaming websocket/push-stream feed.
type WSOptions struct {
	URL              string
	Symbol           string
	HeartbeatTimeout time.Duration
	MaxBackoff       time.Duration
}

type wsBarMessage struct {
	Seq       uint64    `json:"seq"`
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Amount    float64   `json:"amount"`
}

// WebSocket is a client-side DataFeed dialing a push-stream endpoint. It
// owns a single reader goroutine per connection; Next multiplexes the
// reader's channel against a heartbeat timer and reconnects with the same
// exponential-backoff-with-cap idiom the REST feed uses. Per-symbol
// sequence numbers on the wire let it detect and surface gaps rather than
// silently accepting drops.
type WebSocket struct {
	opts WSOptions
	log  *zap.Logger

	conn    *websocket.Conn
	bars    chan wsBarMessage
	connErr chan error
	lastSeq map[string]uint64
	backoff int
}

// NewWebSocket builds a WebSocket feed. log may be nil.
func NewWebSocket(opts WSOptions, log *zap.Logger) *WebSocket {
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 30 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 2 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WebSocket{opts: opts, log: log, lastSeq: make(map[string]uint64)}
}

func (f *WebSocket) OnStart(ctx context.Context) error {
	f.lastSeq = make(map[string]uint64)
	f.backoff = 0
	return f.dial(ctx)
}

func (f *WebSocket) OnFinish(ctx context.Context) error {
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *WebSocket) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("feed: websocket dial failed: %w", err)
	}
	f.conn = conn
	f.bars = make(chan wsBarMessage, 64)
	f.connErr = make(chan error, 1)
	go f.readLoop(conn, f.bars, f.connErr)
	return nil
}

func (f *WebSocket) readLoop(conn *websocket.Conn, bars chan<- wsBarMessage, errs chan<- error) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			errs <- err
			return
		}
		var msg wsBarMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			f.log.Warn("websocket feed: dropping malformed message", zap.Error(err))
			continue
		}
		bars <- msg
	}
}

func (f *WebSocket) reconnectWait() time.Duration {
	wait := time.Second << uint(f.backoff)
	if wait > f.opts.MaxBackoff || wait <= 0 {
		wait = f.opts.MaxBackoff
	}
	return wait
}

// Next returns the next bar, a heartbeat if the stream is idle past
// HeartbeatTimeout, or a gap alert once a sequence discontinuity or
// reconnect occurs.
func (f *WebSocket) Next(ctx context.Context) (kernel.Bar, kernel.FeedStatus, *kernel.FeedAlertPayload, error) {
	timer := time.NewTimer(f.opts.HeartbeatTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return kernel.Bar{}, kernel.FeedEnd, nil, ctx.Err()

	case err := <-f.connErr:
		f.log.Warn("websocket feed: connection lost, reconnecting", zap.Error(err))
		wait := f.reconnectWait()
		f.backoff++
		select {
		case <-ctx.Done():
			return kernel.Bar{}, kernel.FeedEnd, nil, ctx.Err()
		case <-time.After(wait):
		}
		if dialErr := f.dial(ctx); dialErr != nil {
			return kernel.Bar{}, kernel.FeedGap, &kernel.FeedAlertPayload{
				Symbol:    f.opts.Symbol,
				AlertType: "reconnect",
				Detail:    dialErr.Error(),
			}, nil
		}
		return kernel.Bar{}, kernel.FeedGap, &kernel.FeedAlertPayload{
			Symbol:    f.opts.Symbol,
			AlertType: "reconnect",
			Detail:    "reconnected after " + err.Error(),
		}, nil

	case msg := <-f.bars:
		f.backoff = 0
		var alert *kernel.FeedAlertPayload
		if last, ok := f.lastSeq[msg.Symbol]; ok && msg.Seq > last+1 {
			alert = &kernel.FeedAlertPayload{
				Symbol:    msg.Symbol,
				AlertType: "sequence_gap",
				Detail:    fmt.Sprintf("expected seq %d, got %d", last+1, msg.Seq),
			}
		}
		f.lastSeq[msg.Symbol] = msg.Seq
		bar := kernel.Bar{
			Symbol: msg.Symbol, Timestamp: msg.Timestamp,
			Open: msg.Open, High: msg.High, Low: msg.Low, Close: msg.Close,
			Volume: msg.Volume, Amount: msg.Amount,
		}
		return bar, kernel.FeedBar, alert, nil

	case <-timer.C:
		return kernel.Bar{}, kernel.FeedHeartbeat, &kernel.FeedAlertPayload{
			Symbol:    f.opts.Symbol,
			AlertType: "heartbeat_timeout",
			Detail:    fmt.Sprintf("no message within %s", f.opts.HeartbeatTimeout),
		}, nil
	}
}

package reporter

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"trades-ai/internal/kernel"
)

// TradeLogSink is the durable append-only destination for fill records,
// implemented by the SQLite-backed store shared with RunStore and Outbox.
// Line-oriented file sinks can satisfy the same interface for the
// alternative persisted layout spec.md §6 allows.
type TradeLogSink interface {
	AppendTrade(ctx context.Context, entry TradeLogEntry) error
}

// TradeLogEntry is one line of the trade log format from spec.md §6.
type TradeLogEntry struct {
	RunID       string
	Timestamp   time.Time
	Symbol      string
	Side        kernel.OrderSide
	Quantity    int64
	Price       float64
	Commission  float64
	RealizedPnL float64
}

// TradeLog appends every FillEvent to a durable sink. It is pure-append:
// it holds no aggregate state of its own beyond what is needed to compute
// realized PnL on a closing trade.
type TradeLog struct {
	runID string
	sink  TradeLogSink

	costBasis map[string]float64
	positions map[string]int64
}

// NewTradeLog builds a TradeLog reporter writing to sink under runID.
func NewTradeLog(runID string, sink TradeLogSink) *TradeLog {
	return &TradeLog{
		runID:     runID,
		sink:      sink,
		costBasis: make(map[string]float64),
		positions: make(map[string]int64),
	}
}

func (r *TradeLog) OnStart(ctx context.Context) error {
	r.costBasis = make(map[string]float64)
	r.positions = make(map[string]int64)
	return nil
}

func (r *TradeLog) OnFinish(ctx context.Context) error { return nil }

func (r *TradeLog) OnMarket(ctx context.Context, bar kernel.Bar) error { return nil }

func (r *TradeLog) OnMetrics(ctx context.Context, m kernel.MetricsPayload) error { return nil }

func (r *TradeLog) OnFill(ctx context.Context, fill kernel.FillPayload) error {
	signedQty := fill.FilledQuantity
	if fill.Side == kernel.SideSell {
		signedQty = -signedQty
	}

	oldPosition := r.positions[fill.Symbol]
	var pnl float64
	if oldPosition != 0 && ((oldPosition > 0 && signedQty < 0) || (oldPosition < 0 && signedQty > 0)) {
		closedQty := minInt64(absInt64(oldPosition), absInt64(signedQty))
		pnl = float64(closedQty) * (fill.FillPrice - r.costBasis[fill.Symbol])
		if oldPosition < 0 {
			pnl = -pnl
		}
	}

	newPosition := oldPosition + signedQty
	r.positions[fill.Symbol] = newPosition
	switch {
	case newPosition == 0:
		r.costBasis[fill.Symbol] = 0
	case absInt64(newPosition) > absInt64(oldPosition):
		oldCost := r.costBasis[fill.Symbol] * float64(absInt64(oldPosition))
		newCost := fill.FillPrice * float64(absInt64(signedQty))
		r.costBasis[fill.Symbol] = (oldCost + newCost) / float64(absInt64(newPosition))
	}

	return r.sink.AppendTrade(ctx, TradeLogEntry{
		RunID:       r.runID,
		Timestamp:   fill.Timestamp,
		Symbol:      fill.Symbol,
		Side:        fill.Side,
		Quantity:    fill.FilledQuantity,
		Price:       fill.FillPrice,
		Commission:  fill.Commission,
		RealizedPnL: pnl,
	})
}

// SQLiteSink is the reference TradeLogSink, backed by the same *sql.DB the
// controller uses for RunStore and Outbox.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink wraps db, creating the trades table if absent.
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	ts TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	price REAL NOT NULL,
	commission REAL NOT NULL,
	realized_pnl REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_run_id ON trades(run_id);
`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("reporter: failed to create trades table: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) AppendTrade(ctx context.Context, entry TradeLogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (run_id, ts, symbol, side, quantity, price, commission, realized_pnl) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID, entry.Timestamp.Format(time.RFC3339), entry.Symbol, string(entry.Side), entry.Quantity, entry.Price, entry.Commission, entry.RealizedPnL,
	)
	if err != nil {
		return fmt.Errorf("reporter: failed to append trade: %w", err)
	}
	return nil
}

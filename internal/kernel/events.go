package kernel

import "time"

// Kind discriminates the payload carried by an Event envelope.
type Kind string

const (
	KindMarket        Kind = "Market"
	KindSignal        Kind = "Signal"
	KindOrder         Kind = "Order"
	KindFill          Kind = "Fill"
	KindMetrics       Kind = "Metrics"
	KindRiskReject    Kind = "RiskReject"
	KindFeedAlert     Kind = "FeedAlert"
	KindStrategyError Kind = "StrategyError"
)

// SignalDirection is the exposure change a strategy requests.
type SignalDirection string

const (
	DirectionLong  SignalDirection = "long"
	DirectionShort SignalDirection = "short"
	DirectionExit  SignalDirection = "exit"
)

// OrderSide is the trading side of an order or fill.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType selects the matching semantics an ExecutionHandler applies.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
	OrderStop   OrderType = "stop"
)

// TimeInForce is the lifetime policy of an unfilled order remainder.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
)

// Event is the envelope every message riding the bus carries. Payload holds
// one of the Kind-specific structs below; callers type-assert on Kind before
// reading it, mirroring the sum-type shape the source events module used.
type Event struct {
	Kind       Kind
	Seq        uint64
	OccurredAt time.Time
	RunID      string
	SymbolSeq  uint64
	TraceID    string
	Payload    interface{}
}

// MarketPayload wraps a Bar.
type MarketPayload struct {
	Bar Bar
}

// SignalPayload is a strategy's request for an exposure change.
type SignalPayload struct {
	StrategyID   string
	Symbol       string
	Direction    SignalDirection
	Strength     float64
	Reason       string
	TargetWeight *float64
}

// OrderPayload is a portfolio instruction for the execution handler.
type OrderPayload struct {
	OrderID        string
	Symbol         string
	Side           OrderSide
	Quantity       int64
	Type           OrderType
	Price          *float64
	StopPrice      *float64
	TIF            TimeInForce
	OriginSignalID string
	ExpiresAt      *time.Time
}

// FillPayload is an execution report.
type FillPayload struct {
	OrderID           string
	Symbol            string
	Side              OrderSide
	FilledQuantity    int64
	FillPrice         float64
	Commission        float64
	SlippageApplied   float64
	RemainingQuantity int64
	Timestamp         time.Time
}

// MetricsPayload is a point-in-time performance snapshot.
type MetricsPayload struct {
	Equity       float64
	Cash         float64
	RealizedPnL  float64
	UnrealizedPnL float64
	Holdings     map[string]float64
}

// RiskRejectPayload records a chain rejection, published so notifications
// and reporters can observe it without the risk chain depending on them.
type RiskRejectPayload struct {
	RuleType string
	Symbol   string
	Order    OrderPayload
	Reason   string
}

// FeedAlertPayload covers heartbeat timeouts, sequence gaps, and reconnects
// a live DataFeed surfaces without terminating the run.
type FeedAlertPayload struct {
	Symbol   string
	AlertType string // heartbeat_timeout | sequence_gap | reconnect
	Detail   string
}

// StrategyErrorPayload records a recovered panic or returned error from a
// strategy's on_market handler.
type StrategyErrorPayload struct {
	StrategyID string
	Symbol     string
	Err        string
}

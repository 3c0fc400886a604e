// Package notify implements the notification plane: mapping pipeline
// events to intents (SignalBridge), durably queuing them (Outbox),
// delivering them through pluggable transports (Dispatcher,
// ChannelAdapter) — spec.md §4.5-§4.8.
package notify

import "time"

// IntentType discriminates the notification templates a ChannelAdapter
// renders through.
type IntentType string

const (
	IntentStrategySignal IntentType = "strategy_signal"
	IntentFillReport     IntentType = "fill_report"
	IntentRiskAlert      IntentType = "risk_alert"
	IntentSystemAlert    IntentType = "system_alert"
)

// Intent is one notification-worthy fact extracted from the pipeline,
// independent of run outcome and independent of the outbox row it will
// eventually occupy.
type Intent struct {
	Type       IntentType
	RunID      string
	StrategyID string
	Symbol     string
	Direction  string
	OccurredAt time.Time
	DedupeKey  string
	Message    string
	Meta       map[string]interface{}
}

package notify

import (
	"fmt"
	"time"

	"trades-ai/internal/kernel"
)

// Severity orders the min_level/min_severity filters applied at the
// bridge and per-channel.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func ParseSeverity(s string) Severity {
	switch s {
	case "warning":
		return SeverityWarning
	case "critical":
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

func severityOf(t IntentType) Severity {
	switch t {
	case IntentRiskAlert, IntentSystemAlert:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Bridge is the pure, stateless kernel-event-to-Intent mapper (spec.md
// §4.5). It holds no per-run state beyond its configured filters and
// dedupe bucket width, so one Bridge can serve every concurrent run.
type Bridge struct {
	minLevel  Severity
	dedupeTTL time.Duration
}

// NewBridge builds a Bridge. dedupeTTL buckets signal dedupe keys; a zero
// or negative TTL disables bucketing (the key uses the exact occurred-at
// timestamp, so only signals sharing that timestamp share a key).
func NewBridge(minLevel Severity, dedupeTTL time.Duration) *Bridge {
	return &Bridge{minLevel: minLevel, dedupeTTL: dedupeTTL}
}

// FromSignal maps a SignalEvent to a strategy_signal intent, or nil if
// filtered by min_level. The dedupe key buckets on occurred-at (see
// DESIGN.md's Open Question resolution #4), not on enqueue time, so
// bucketing is stable under exact replay of the same run.
func (b *Bridge) FromSignal(runID string, sig kernel.SignalPayload, occurredAt time.Time) *Intent {
	if severityOf(IntentStrategySignal) < b.minLevel {
		return nil
	}
	bucket := occurredAt
	if b.dedupeTTL > 0 {
		bucket = time.Unix(0, (occurredAt.UnixNano()/int64(b.dedupeTTL))*int64(b.dedupeTTL))
	}
	dedupeKey := fmt.Sprintf("%s:%s:%s:%d:%s", runID, sig.StrategyID, sig.Symbol, bucket.UnixNano(), sig.Direction)
	return &Intent{
		Type:       IntentStrategySignal,
		RunID:      runID,
		StrategyID: sig.StrategyID,
		Symbol:     sig.Symbol,
		Direction:  string(sig.Direction),
		OccurredAt: occurredAt,
		DedupeKey:  dedupeKey,
		Message:    fmt.Sprintf("SIGNAL %s %s strength=%.6g strategy=%s", sig.Symbol, sig.Direction, sig.Strength, sig.StrategyID),
		Meta:       map[string]interface{}{"strength": sig.Strength, "reason": sig.Reason},
	}
}

// FromFill maps a FillEvent to a fill_report intent. Fill events have no
// natural bucketing dimension, so the dedupe key is the fill's own stable
// identity: (run, order id, filled quantity, price) — repeated identical
// fills within the same run collapse to one intent.
func (b *Bridge) FromFill(runID string, fill kernel.FillPayload) *Intent {
	if severityOf(IntentFillReport) < b.minLevel {
		return nil
	}
	dedupeKey := fmt.Sprintf("%s:%s:%d:%.10f", runID, fill.OrderID, fill.FilledQuantity, fill.FillPrice)
	return &Intent{
		Type:       IntentFillReport,
		RunID:      runID,
		Symbol:     fill.Symbol,
		Direction:  string(fill.Side),
		OccurredAt: fill.Timestamp,
		DedupeKey:  dedupeKey,
		Message:    fmt.Sprintf("FILL %s %s %d @ %.4f (commission %.4f)", fill.Symbol, fill.Side, fill.FilledQuantity, fill.FillPrice, fill.Commission),
		Meta:       map[string]interface{}{"order_id": fill.OrderID, "remaining": fill.RemainingQuantity},
	}
}

// FromRiskReject maps a risk chain rejection to a risk_alert intent.
func (b *Bridge) FromRiskReject(runID string, reject kernel.RiskRejectPayload, occurredAt time.Time) *Intent {
	if severityOf(IntentRiskAlert) < b.minLevel {
		return nil
	}
	dedupeKey := fmt.Sprintf("%s:%s:%s:%s:%d", runID, reject.RuleType, reject.Symbol, reject.Order.OrderID, occurredAt.UnixNano())
	return &Intent{
		Type:       IntentRiskAlert,
		RunID:      runID,
		Symbol:     reject.Symbol,
		OccurredAt: occurredAt,
		DedupeKey:  dedupeKey,
		Message:    fmt.Sprintf("RISK REJECT %s: %s (%s)", reject.Symbol, reject.Reason, reject.RuleType),
		Meta:       map[string]interface{}{"rule_type": reject.RuleType},
	}
}

// FromFeedAlert maps a feed gap/heartbeat/reconnect alert to a
// system_alert intent.
func (b *Bridge) FromFeedAlert(runID string, alert kernel.FeedAlertPayload, occurredAt time.Time) *Intent {
	if severityOf(IntentSystemAlert) < b.minLevel {
		return nil
	}
	dedupeKey := fmt.Sprintf("%s:%s:%s:%d", runID, alert.Symbol, alert.AlertType, occurredAt.UnixNano())
	return &Intent{
		Type:       IntentSystemAlert,
		RunID:      runID,
		Symbol:     alert.Symbol,
		OccurredAt: occurredAt,
		DedupeKey:  dedupeKey,
		Message:    fmt.Sprintf("FEED ALERT %s: %s (%s)", alert.Symbol, alert.AlertType, alert.Detail),
		Meta:       map[string]interface{}{"alert_type": alert.AlertType},
	}
}

package notify

import (
	"testing"
	"time"

	"trades-ai/internal/kernel"
)

func TestFromSignalFiltersBelowMinLevel(t *testing.T) {
	b := NewBridge(SeverityWarning, time.Minute)
	got := b.FromSignal("run-1", kernel.SignalPayload{StrategyID: "s1", Symbol: "AAPL", Direction: kernel.DirectionLong}, time.Now())
	if got != nil {
		t.Fatalf("expected strategy_signal (info severity) to be filtered under min level warning, got %+v", got)
	}
}

func TestFromSignalBucketsDedupeKeyByOccurredAt(t *testing.T) {
	b := NewBridge(SeverityInfo, time.Minute)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	sig := kernel.SignalPayload{StrategyID: "s1", Symbol: "AAPL", Direction: kernel.DirectionLong, Strength: 1}

	a := b.FromSignal("run-1", sig, base)
	c := b.FromSignal("run-1", sig, base.Add(30*time.Second))
	d := b.FromSignal("run-1", sig, base.Add(90*time.Second))

	if a.DedupeKey != c.DedupeKey {
		t.Fatalf("expected signals within the same minute bucket to share a dedupe key: %q vs %q", a.DedupeKey, c.DedupeKey)
	}
	if a.DedupeKey == d.DedupeKey {
		t.Fatalf("expected signals in different minute buckets to have distinct dedupe keys")
	}
}

func TestFromFillDedupeKeyIsStableForIdenticalFills(t *testing.T) {
	b := NewBridge(SeverityInfo, time.Minute)
	fill := kernel.FillPayload{OrderID: "o1", Symbol: "AAPL", Side: kernel.SideBuy, FilledQuantity: 10, FillPrice: 100.5, Timestamp: time.Now()}

	a := b.FromFill("run-1", fill)
	c := b.FromFill("run-1", fill)
	if a.DedupeKey != c.DedupeKey {
		t.Fatalf("expected identical fills to produce the same dedupe key")
	}
}

func TestFromRiskRejectAndFeedAlertProduceWarningSeverity(t *testing.T) {
	b := NewBridge(SeverityWarning, time.Minute)
	now := time.Now()

	reject := b.FromRiskReject("run-1", kernel.RiskRejectPayload{RuleType: "max_position", Symbol: "AAPL", Reason: "over limit"}, now)
	if reject == nil {
		t.Fatalf("expected risk_alert to pass min level warning")
	}
	alert := b.FromFeedAlert("run-1", kernel.FeedAlertPayload{Symbol: "AAPL", AlertType: "reconnect", Detail: "3 failures"}, now)
	if alert == nil {
		t.Fatalf("expected system_alert to pass min level warning")
	}
}

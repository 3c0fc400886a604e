package runmanager

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trades-ai/internal/config"
	"trades-ai/internal/kernel"
	"trades-ai/internal/notify"
	"trades-ai/internal/registry"
	"trades-ai/internal/runstore"
)

// observedKinds lists every kernel.Kind the worker forwards to fan-out,
// RunStore, and the notification bridge. Market/Signal/Order/Fill/Metrics
// drive the pipeline itself; RiskReject/FeedAlert/StrategyError are
// published for observers only — the engine never subscribes handlers to
// them, so without this list they would be silently dequeued and dropped.
var observedKinds = []kernel.Kind{
	kernel.KindMarket, kernel.KindSignal, kernel.KindOrder, kernel.KindFill,
	kernel.KindMetrics, kernel.KindRiskReject, kernel.KindFeedAlert, kernel.KindStrategyError,
}

// worker is RunWorker (spec.md §4.4) realized as a goroutine: assemble an
// Engine from the registry, run it to completion, forwarding every
// pipeline event to the parent Manager's fan-out and durable stores. A
// top-level recover() converts a strategy/engine panic into a failed
// terminal status instead of taking the controller down with it.
type worker struct {
	manager *Manager
	runID   string
	fanOut  *FanOut
}

func (w *worker) run(ctx context.Context, rc *config.RunConfig) {
	defer func() {
		if r := recover(); r != nil {
			w.manager.log.Error("run worker panicked", zap.String("run_id", w.runID), zap.Any("panic", r))
			_ = w.manager.store.Transition(context.Background(), w.runID, runstore.StatusFailed, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := w.manager.store.Transition(ctx, w.runID, runstore.StatusRunning, ""); err != nil {
		w.manager.log.Warn("failed to transition run to running", zap.Error(err))
	}

	engineCfg := kernel.Config{
		RunID:               w.runID,
		StrategyErrorBudget: strategyErrorBudget(rc),
		OnProgress: func(fraction float64, barsConsumed uint64) {
			_ = w.manager.store.UpdateProgress(context.Background(), w.runID, fraction)
		},
	}

	deps := registry.Deps{RunID: w.runID, DB: w.manager.db, Log: w.manager.log}
	engine, bus, err := registry.BuildEngineAndBus(rc, engineCfg, deps)
	if err != nil {
		_ = w.manager.store.Transition(ctx, w.runID, runstore.StatusFailed, err.Error())
		return
	}

	for _, kind := range observedKinds {
		kind := kind
		_ = bus.Subscribe(kind, func(ev kernel.Event) error {
			w.observe(ev)
			return nil
		})
	}

	result := engine.Run(ctx)

	status := runstore.StatusSucceeded
	lastErr := ""
	switch result.Reason {
	case kernel.ExitSuccess:
		status = runstore.StatusSucceeded
	case kernel.ExitCanceled:
		status = runstore.StatusCanceled
		if result.Err != nil {
			lastErr = result.Err.Error()
		}
	default:
		status = runstore.StatusFailed
		if result.Err != nil {
			lastErr = result.Err.Error()
		}
	}
	if err := w.manager.store.Transition(context.Background(), w.runID, status, lastErr); err != nil {
		w.manager.log.Warn("failed to transition run to terminal status", zap.Error(err))
	}
}

// observe forwards one pipeline event to fan-out, the run's durable event
// ring, and — where the event is notification-worthy — the SignalBridge
// and outbox.
func (w *worker) observe(ev kernel.Event) {
	if ev.RunID == "" {
		ev.RunID = w.runID
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	w.fanOut.Push(ev)

	if err := w.manager.store.AppendEvent(context.Background(), w.runID, ev); err != nil {
		w.manager.log.Warn("failed to append run event", zap.Error(err))
	}

	if w.manager.outbox == nil || w.manager.bridge == nil {
		return
	}
	intent := w.intentFor(ev)
	if intent == nil {
		return
	}
	if _, _, err := w.manager.outbox.Enqueue(context.Background(), *intent, w.manager.dedupeTTL); err != nil {
		w.manager.log.Warn("failed to enqueue notification intent", zap.Error(err))
	}
}

// intentFor maps one observed pipeline event to a notify.Intent through
// the manager's SignalBridge, or nil for kinds the bridge does not cover
// or that the bridge's own severity filter drops.
func (w *worker) intentFor(ev kernel.Event) *notify.Intent {
	switch ev.Kind {
	case kernel.KindSignal:
		return w.manager.bridge.FromSignal(w.runID, ev.Payload.(kernel.SignalPayload), ev.OccurredAt)
	case kernel.KindFill:
		return w.manager.bridge.FromFill(w.runID, ev.Payload.(kernel.FillPayload))
	case kernel.KindRiskReject:
		return w.manager.bridge.FromRiskReject(w.runID, ev.Payload.(kernel.RiskRejectPayload), ev.OccurredAt)
	case kernel.KindFeedAlert:
		return w.manager.bridge.FromFeedAlert(w.runID, ev.Payload.(kernel.FeedAlertPayload), ev.OccurredAt)
	default:
		return nil
	}
}

func strategyErrorBudget(rc *config.RunConfig) int {
	budget := 0
	for _, sc := range rc.Strategies {
		if sc.MaxErrors <= 0 {
			continue
		}
		if budget == 0 || sc.MaxErrors < budget {
			budget = sc.MaxErrors
		}
	}
	if budget == 0 {
		budget = 5
	}
	return budget
}

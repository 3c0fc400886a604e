package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ExitReason classifies why Run returned, mirroring the run worker's exit
// code taxonomy.
type ExitReason string

const (
	ExitSuccess      ExitReason = "success"
	ExitFeedError    ExitReason = "feed_error"
	ExitInternalError ExitReason = "internal_error"
	ExitCanceled     ExitReason = "canceled"
)

// RunResult is the terminal outcome an Engine.Run call surfaces.
type RunResult struct {
	Reason      ExitReason
	Err         error
	BarsConsumed uint64
}

// ProgressFunc is invoked after every drained bar with the fraction of
// consumed feed progress, when known (0 if the feed cannot estimate it).
type ProgressFunc func(fraction float64, barsConsumed uint64)

// Config bundles the tunables an Engine needs beyond its wired components.
type Config struct {
	RunID string
	// StrategyErrorBudget is the number of recoverable strategy errors,
	// per strategy id, tolerated before the run is aborted as
	// internal_error. Zero disables the budget (errors never abort).
	StrategyErrorBudget int
	// TotalBars, when known ahead of time (historical feeds), lets the
	// engine report an exact progress fraction; zero means unknown.
	TotalBars uint64
	OnProgress ProgressFunc
}

// Engine owns the bus and the wired pipeline: DataFeed drives the outer
// loop, strategies react to bars, portfolio turns signals into orders
// (consulting its own risk chain), execution turns orders into fills, and
// reporters observe the resulting stream.
type Engine struct {
	cfg        Config
	bus        *Bus
	feed       DataFeed
	strategies []Strategy
	portfolio  Portfolio
	execution  ExecutionHandler
	reporters  []Reporter
	log        *zap.Logger

	strategyErrors map[string]int
	fatalErr       error

	// currentBarTime is the timestamp of the most recently drained bar. Every
	// event published while reacting to that bar (or after it, before the
	// next one) is stamped with it, so OccurredAt is event time rather than
	// wall-clock time: replaying a historical run through the same feed
	// produces identical timestamps and therefore identical dedupe bucketing
	// downstream (spec.md §3, §4.5).
	currentBarTime time.Time
}

// New wires every stage's subscriptions on the bus and returns an Engine
// ready to Run. Order of strategies and reporters is preserved for
// deterministic handler registration order.
func New(cfg Config, bus *Bus, feed DataFeed, strategies []Strategy, portfolio Portfolio, execution ExecutionHandler, reporters []Reporter, log *zap.Logger) (*Engine, error) {
	if feed == nil {
		return nil, errors.New("kernel: engine requires a DataFeed")
	}
	if portfolio == nil {
		return nil, errors.New("kernel: engine requires a Portfolio")
	}
	if execution == nil {
		return nil, errors.New("kernel: engine requires an ExecutionHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}

	e := &Engine{
		cfg:            cfg,
		bus:            bus,
		feed:           feed,
		strategies:     strategies,
		portfolio:      portfolio,
		execution:      execution,
		reporters:      reporters,
		log:            log,
		strategyErrors: make(map[string]int),
	}
	e.registerRoutes()
	return e, nil
}

func (e *Engine) registerRoutes() {
	_ = e.bus.Subscribe(KindMarket, e.routeMarket)
	_ = e.bus.Subscribe(KindSignal, e.routeSignal)
	_ = e.bus.Subscribe(KindOrder, e.routeOrder)
	_ = e.bus.Subscribe(KindFill, e.routeFill)
	_ = e.bus.Subscribe(KindMetrics, e.routeMetrics)
}

// publish appends event kind/payload to the bus, stamping RunID and
// OccurredAt (the current bar's event time) so every downstream consumer —
// notably SignalBridge's dedupe bucketing — reasons about event time
// instead of wall-clock time.
func (e *Engine) publish(kind Kind, payload interface{}) {
	e.bus.Publish(Event{Kind: kind, RunID: e.cfg.RunID, OccurredAt: e.currentBarTime, Payload: payload})
}

func (e *Engine) lifecycles() []Lifecycle {
	var out []Lifecycle
	for _, s := range e.strategies {
		out = append(out, s)
	}
	out = append(out, e.portfolio, e.execution)
	for _, r := range e.reporters {
		out = append(out, r)
	}
	return out
}

// Run drives the feed to exhaustion or cancellation, dispatching the bus
// after every bar. It returns once the run reaches a terminal outcome.
func (e *Engine) Run(ctx context.Context) RunResult {
	for _, lc := range e.lifecycles() {
		if err := lc.OnStart(ctx); err != nil {
			return e.finish(ctx, ExitInternalError, fmt.Errorf("kernel: on_start failed: %w", err), 0)
		}
	}

	var consumed uint64
	for {
		select {
		case <-ctx.Done():
			return e.finish(ctx, ExitCanceled, ctx.Err(), consumed)
		default:
		}

		bar, status, alert, err := e.feed.Next(ctx)
		if err != nil {
			return e.finish(ctx, ExitFeedError, fmt.Errorf("kernel: feed error: %w", err), consumed)
		}

		switch status {
		case FeedEnd:
			return e.finish(ctx, ExitSuccess, nil, consumed)
		case FeedHeartbeat, FeedGap:
			if alert != nil {
				e.publish(KindFeedAlert, *alert)
				if err := e.bus.Drain(); err != nil {
					return e.finish(ctx, ExitInternalError, err, consumed)
				}
			}
			continue
		case FeedBar:
			e.currentBarTime = bar.Timestamp
			if alert != nil {
				e.publish(KindFeedAlert, *alert)
			}
			e.publish(KindMarket, MarketPayload{Bar: bar})
			if err := e.bus.Drain(); err != nil {
				return e.finish(ctx, ExitInternalError, err, consumed)
			}
			if e.fatalErr != nil {
				return e.finish(ctx, ExitInternalError, e.fatalErr, consumed)
			}
			consumed++
			if e.cfg.OnProgress != nil {
				fraction := 0.0
				if e.cfg.TotalBars > 0 {
					fraction = float64(consumed) / float64(e.cfg.TotalBars)
				}
				e.cfg.OnProgress(fraction, consumed)
			}
		}
	}
}

func (e *Engine) finish(ctx context.Context, reason ExitReason, err error, consumed uint64) RunResult {
	final := e.portfolio.State()
	e.publish(KindMetrics, MetricsPayload{
		Equity: final.Equity(),
		Cash:   final.Cash,
	})
	_ = e.bus.Drain()

	for _, lc := range e.lifecycles() {
		if fErr := lc.OnFinish(ctx); fErr != nil {
			e.log.Warn("on_finish failed", zap.Error(fErr))
		}
	}

	return RunResult{Reason: reason, Err: err, BarsConsumed: consumed}
}

func (e *Engine) routeMarket(ev Event) error {
	bar := ev.Payload.(MarketPayload).Bar

	if err := e.portfolio.OnMarket(context.Background(), bar); err != nil {
		return Fatal(fmt.Errorf("kernel: portfolio on_market: %w", err))
	}
	fills, err := e.execution.OnMarket(context.Background(), bar)
	if err != nil {
		return Fatal(fmt.Errorf("kernel: execution on_market: %w", err))
	}
	for _, fill := range fills {
		e.publish(KindFill, fill)
	}
	for _, r := range e.reporters {
		if err := r.OnMarket(context.Background(), bar); err != nil {
			e.log.Warn("reporter on_market failed", zap.Error(err))
		}
	}
	for _, s := range e.strategies {
		sigs, err := s.OnMarket(context.Background(), bar)
		if err != nil {
			e.publish(KindStrategyError, StrategyErrorPayload{
				StrategyID: s.ID(),
				Symbol:     bar.Symbol,
				Err:        err.Error(),
			})
			e.strategyErrors[s.ID()]++
			if e.cfg.StrategyErrorBudget > 0 && e.strategyErrors[s.ID()] > e.cfg.StrategyErrorBudget {
				e.fatalErr = fmt.Errorf("kernel: strategy %s exceeded error budget: %w", s.ID(), err)
			}
			continue
		}
		for _, sig := range sigs {
			e.publish(KindSignal, sig)
		}
	}
	return nil
}

func (e *Engine) routeSignal(ev Event) error {
	sig := ev.Payload.(SignalPayload)
	order, reject, err := e.portfolio.OnSignal(context.Background(), sig)
	if err != nil {
		return Fatal(fmt.Errorf("kernel: portfolio on_signal: %w", err))
	}
	if reject != nil {
		e.publish(KindRiskReject, *reject)
		return nil
	}
	if order != nil {
		e.publish(KindOrder, *order)
	}
	return nil
}

func (e *Engine) routeOrder(ev Event) error {
	order := ev.Payload.(OrderPayload)
	fill, err := e.execution.OnOrder(context.Background(), order)
	if err != nil {
		return Fatal(fmt.Errorf("kernel: execution on_order: %w", err))
	}
	if fill != nil {
		e.publish(KindFill, *fill)
	}
	return nil
}

func (e *Engine) routeFill(ev Event) error {
	fill := ev.Payload.(FillPayload)
	metrics, err := e.portfolio.OnFill(context.Background(), fill)
	if err != nil {
		return Fatal(fmt.Errorf("kernel: portfolio on_fill: %w", err))
	}
	for _, r := range e.reporters {
		if err := r.OnFill(context.Background(), fill); err != nil {
			e.log.Warn("reporter on_fill failed", zap.Error(err))
		}
	}
	e.publish(KindMetrics, metrics)
	return nil
}

func (e *Engine) routeMetrics(ev Event) error {
	metrics := ev.Payload.(MetricsPayload)
	for _, r := range e.reporters {
		if err := r.OnMetrics(context.Background(), metrics); err != nil {
			e.log.Warn("reporter on_metrics failed", zap.Error(err))
		}
	}
	return nil
}

package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Route pairs a ChannelAdapter with the minimum severity it accepts, so
// one Dispatcher can fan an intent out to every channel configured to
// receive it (spec.md §6's `channels: list of { type, ..., min_severity }`).
type Route struct {
	Adapter     ChannelAdapter
	MinSeverity Severity
}

// Dispatcher runs one or more worker loops leasing batches from an Outbox
// and delivering them through the configured routes (spec.md §4.7).
type Dispatcher struct {
	outbox       *Outbox
	routes       []Route
	workers      int
	batchSize    int
	pollInterval time.Duration
	leaseDuration time.Duration
	log          *zap.Logger
}

// NewDispatcher builds a Dispatcher. log may be nil.
func NewDispatcher(outbox *Outbox, routes []Route, workers, batchSize int, pollInterval, leaseDuration time.Duration, log *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		outbox: outbox, routes: routes, workers: workers, batchSize: batchSize,
		pollInterval: pollInterval, leaseDuration: leaseDuration, log: log,
	}
}

// Run leases and delivers batches on pollInterval until ctx is canceled.
// Concurrency within a batch is bounded by workers via errgroup.SetLimit,
// mirroring the source's OutboxNotifierWorker.process_once loop widened
// to run its sends in parallel instead of sequentially.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	if err := d.recoverAndProcessOnce(ctx); err != nil {
		d.log.Warn("dispatcher: initial pass failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.processOnce(ctx); err != nil {
				d.log.Warn("dispatcher: pass failed", zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) recoverAndProcessOnce(ctx context.Context) error {
	if _, err := d.outbox.Recover(ctx); err != nil {
		return fmt.Errorf("recover expired leases: %w", err)
	}
	return d.processOnce(ctx)
}

func (d *Dispatcher) processOnce(ctx context.Context) error {
	leased, err := d.outbox.Lease(ctx, d.batchSize, d.leaseDuration)
	if err != nil {
		return fmt.Errorf("lease: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, li := range leased {
		li := li
		g.Go(func() error {
			d.deliverOne(gctx, li)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) deliverOne(ctx context.Context, li LeasedIntent) {
	severity := severityOf(li.Intent.Type)
	var deadLetterImmediately bool
	var lastReason string
	var retryHint time.Duration
	delivered := false

	for _, route := range d.routes {
		if severity < route.MinSeverity {
			continue
		}
		result := route.Adapter.Send(ctx, li.Intent)
		switch result.Kind {
		case ResultOK:
			delivered = true
		case ResultRetryable:
			lastReason = result.Reason
			if result.RetryHint > retryHint {
				retryHint = result.RetryHint
			}
		case ResultPermanent:
			deadLetterImmediately = true
			lastReason = result.Reason
		}
	}

	if len(d.routes) == 0 || delivered {
		if err := d.outbox.MarkSent(ctx, li.ID); err != nil {
			d.log.Warn("dispatcher: failed to mark sent", zap.String("intent_id", li.ID), zap.Error(err))
		}
		return
	}

	attempt := li.AttemptCount + 1
	if deadLetterImmediately {
		attempt = d.outbox.maxAttempts // force dead_letter regardless of remaining budget
	}
	if err := d.outbox.MarkFailed(ctx, li.ID, attempt, retryHint, fmt.Errorf("%s", lastReason)); err != nil {
		d.log.Warn("dispatcher: failed to mark failed", zap.String("intent_id", li.ID), zap.Error(err))
	}
}

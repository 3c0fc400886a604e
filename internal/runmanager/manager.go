// Package runmanager implements RunManager and RunWorker (spec.md §4.4):
// admission-controlled submission of run configs, isolated execution of
// each run's kernel.Engine, and a bounded, non-blocking fan-out of each
// run's event stream to any number of live subscribers.
package runmanager

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"trades-ai/internal/config"
	"trades-ai/internal/idgen"
	"trades-ai/internal/kernel"
	"trades-ai/internal/notify"
	"trades-ai/internal/runstore"
)

// ErrQueueFull is returned by Submit when the bounded pending queue is
// already at capacity (spec.md §4.4's `resource_exhausted`).
var ErrQueueFull = errors.New("runmanager: pending queue is at capacity")

// ErrUnknownRun is returned by Cancel and Stream for a run id the manager
// has no record of.
var ErrUnknownRun = errors.New("runmanager: unknown run id")

// runState is the manager's live bookkeeping for one admitted or queued run.
type runState struct {
	cancel context.CancelFunc
	fanOut *FanOut
	done   chan struct{}
}

// Manager admits, schedules, and supervises runs, bounding concurrency at
// cfg.MaxConcurrentRuns and queue depth at cfg.QueueCapacity. Runs execute
// as goroutines rather than OS processes — see DESIGN.md's "Process
// isolation realization" for why that satisfies spec.md §4.4's isolation
// intent without a cross-process IPC boundary.
type Manager struct {
	cfg   config.OrchestratorConfig
	store *runstore.Store
	db    *sql.DB
	log   *zap.Logger

	outbox    *notify.Outbox
	bridge    *notify.Bridge
	dedupeTTL time.Duration

	sem *semaphore.Weighted

	mu       sync.Mutex
	queue    []queued
	runs     map[string]*runState
}

type queued struct {
	runID string
	rc    *config.RunConfig
}

// New builds a Manager. outbox and bridge may be nil to run without the
// notification plane wired; dedupeTTL is the outbox enqueue window applied
// to every intent the bridge derives (config.OutboxConfig.DedupeTTL).
func New(cfg config.OrchestratorConfig, store *runstore.Store, db *sql.DB, outbox *notify.Outbox, bridge *notify.Bridge, dedupeTTL time.Duration, log *zap.Logger) *Manager {
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		cfg: cfg, store: store, db: db, outbox: outbox, bridge: bridge, dedupeTTL: dedupeTTL, log: log,
		sem:  semaphore.NewWeighted(int64(cfg.MaxConcurrentRuns)),
		runs: make(map[string]*runState),
	}
}

// Submit validates rc, assigns it a fresh run id, persists it as a pending
// Run, then either starts it immediately (capacity available) or enqueues
// it in the bounded FIFO queue. Returns ErrQueueFull once the queue is at
// cfg.QueueCapacity, matching spec.md §4.4's
// overflow-fails-with-resource_exhausted contract.
func (m *Manager) Submit(ctx context.Context, rc *config.RunConfig) (runID string, err error) {
	if err := rc.Validate(); err != nil {
		return "", fmt.Errorf("runmanager: invalid config: %w", err)
	}

	runID = idgen.New()
	configJSON, err := json.Marshal(rc)
	if err != nil {
		return "", fmt.Errorf("runmanager: failed to marshal config: %w", err)
	}
	if _, err := m.store.Create(ctx, runID, rc.Name, string(configJSON)); err != nil {
		return "", fmt.Errorf("runmanager: failed to persist run: %w", err)
	}

	if m.sem.TryAcquire(1) {
		m.startRun(runID, rc)
		return runID, nil
	}

	m.mu.Lock()
	if m.cfg.QueueCapacity > 0 && len(m.queue) >= m.cfg.QueueCapacity {
		m.mu.Unlock()
		_ = m.store.Transition(ctx, runID, runstore.StatusFailed, "resource_exhausted: pending queue at capacity")
		return runID, ErrQueueFull
	}
	m.queue = append(m.queue, queued{runID: runID, rc: rc})
	m.mu.Unlock()
	return runID, nil
}

// Cancel delivers a cooperative cancellation to a running run's context.
// If the run has not terminated within cfg.CancelGrace, the run is marked
// canceled anyway — goroutine isolation means there is no OS process to
// force-kill, so the grace period bounds how long a misbehaving strategy
// can keep Cancel from returning rather than how long it can keep running.
func (m *Manager) Cancel(ctx context.Context, runID string) error {
	m.mu.Lock()
	st, ok := m.runs[runID]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownRun
	}

	st.cancel()

	grace := m.cfg.CancelGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	select {
	case <-st.done:
		return nil
	case <-time.After(grace):
		_ = m.store.Transition(ctx, runID, runstore.StatusCanceled, "canceled: grace period elapsed before worker acknowledged")
		return nil
	}
}

// Stream returns the run's ring-buffered history followed by its live
// event channel, and an unsubscribe func the caller must call when done.
// The channel closes when the run terminates or the subscriber is dropped
// for a stalled backlog.
func (m *Manager) Stream(runID string) (replay []kernel.Event, live <-chan kernel.Event, unsubscribe func(), err error) {
	m.mu.Lock()
	st, ok := m.runs[runID]
	m.mu.Unlock()
	if !ok {
		return nil, nil, nil, ErrUnknownRun
	}

	id, ch, hist := st.fanOut.Subscribe()
	return hist, ch, func() { st.fanOut.Unsubscribe(id) }, nil
}

func (m *Manager) startRun(runID string, rc *config.RunConfig) {
	runCtx, cancel := context.WithCancel(context.Background())
	st := &runState{cancel: cancel, fanOut: NewFanOut(m.cfg.RingBufferSize, m.cfg.SubscriberBacklog), done: make(chan struct{})}

	m.mu.Lock()
	m.runs[runID] = st
	m.mu.Unlock()

	go func() {
		defer close(st.done)
		defer st.fanOut.Close()
		defer cancel()
		defer m.onRunFinished()

		w := &worker{
			manager: m,
			runID:   runID,
			fanOut:  st.fanOut,
		}
		w.run(runCtx, rc)
	}()
}

// onRunFinished releases a concurrency slot and admits the next queued run,
// if any — spec.md §8's "upon each completion, the next pending starts".
func (m *Manager) onRunFinished() {
	m.sem.Release(1)

	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return
	}
	next := m.queue[0]
	m.queue = m.queue[1:]
	m.mu.Unlock()

	if !m.sem.TryAcquire(1) {
		// Lost a race with another Submit; put it back at the front.
		m.mu.Lock()
		m.queue = append([]queued{next}, m.queue...)
		m.mu.Unlock()
		return
	}
	m.startRun(next.runID, next.rc)
}

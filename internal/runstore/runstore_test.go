package runstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trades-ai/internal/kernel"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := New(db, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.Create(ctx, "run-1", "demo", `{"name":"demo"}`)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if run.Status != StatusPending {
		t.Fatalf("expected new run to be pending, got %s", run.Status)
	}

	got, err := s.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != "run-1" || got.Name != "demo" {
		t.Fatalf("unexpected run: %+v", got)
	}
}

func TestTransitionStampsTimestamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Create(ctx, "run-1", "demo", "{}")

	if err := s.Transition(ctx, "run-1", StatusRunning, ""); err != nil {
		t.Fatalf("Transition to running: %v", err)
	}
	run, _ := s.Get(ctx, "run-1")
	if run.Status != StatusRunning || run.StartedAt == nil {
		t.Fatalf("expected running status with started_at set, got %+v", run)
	}

	if err := s.Transition(ctx, "run-1", StatusFailed, "boom"); err != nil {
		t.Fatalf("Transition to failed: %v", err)
	}
	run, _ = s.Get(ctx, "run-1")
	if run.Status != StatusFailed || run.FinishedAt == nil || run.LastError != "boom" {
		t.Fatalf("expected failed status with error recorded, got %+v", run)
	}
}

func TestAppendEventTrimsRingBuffer(t *testing.T) {
	s := newTestStore(t) // ring buffer size 3
	ctx := context.Background()
	s.Create(ctx, "run-1", "demo", "{}")

	for i := uint64(1); i <= 5; i++ {
		e := kernel.Event{Kind: kernel.KindMarket, Seq: i, OccurredAt: time.Now(), Payload: map[string]int{"seq": int(i)}}
		if err := s.AppendEvent(ctx, "run-1", e); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	events, err := s.RecentEvents(ctx, "run-1")
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected ring buffer trimmed to 3, got %d", len(events))
	}
	if events[0].Seq != 3 || events[2].Seq != 5 {
		t.Fatalf("expected the 3 most recent events (seq 3-5), got seqs %d..%d", events[0].Seq, events[len(events)-1].Seq)
	}
}

func TestRecoverOrphanedMarksRunningAsFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Create(ctx, "run-1", "demo", "{}")
	s.Transition(ctx, "run-1", StatusRunning, "")

	n, err := s.RecoverOrphaned(ctx)
	if err != nil {
		t.Fatalf("RecoverOrphaned: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 run recovered, got %d", n)
	}
	run, _ := s.Get(ctx, "run-1")
	if run.Status != StatusFailed {
		t.Fatalf("expected orphaned run marked failed, got %s", run.Status)
	}
}

func TestListReturnsEveryRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Create(ctx, "run-1", "first", "{}")
	s.Create(ctx, "run-2", "second", "{}")

	runs, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
}

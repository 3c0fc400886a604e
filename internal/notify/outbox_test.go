package notify

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func newTestOutbox(t *testing.T) *Outbox {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ob, err := NewOutbox(db, 3, 10*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("new outbox: %v", err)
	}
	return ob
}

func testIntent(dedupeKey string) Intent {
	return Intent{Type: IntentStrategySignal, RunID: "run-1", Symbol: "AAPL", DedupeKey: dedupeKey, Message: "hello", OccurredAt: time.Now()}
}

func TestEnqueueDedupesWithinTTL(t *testing.T) {
	ob := newTestOutbox(t)
	ctx := context.Background()

	id1, inserted1, err := ob.Enqueue(ctx, testIntent("key-a"), time.Minute)
	if err != nil || !inserted1 {
		t.Fatalf("expected first enqueue to insert, got inserted=%v err=%v", inserted1, err)
	}
	id2, inserted2, err := ob.Enqueue(ctx, testIntent("key-a"), time.Minute)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if inserted2 {
		t.Fatalf("expected duplicate enqueue within TTL to be a no-op")
	}
	if id1 != id2 {
		t.Fatalf("expected duplicate enqueue to return the existing id")
	}
}

func TestEnqueueRepeatedTenTimesPersistsExactlyOne(t *testing.T) {
	ob := newTestOutbox(t)
	ctx := context.Background()

	var insertedCount int
	for i := 0; i < 10; i++ {
		_, inserted, err := ob.Enqueue(ctx, testIntent("key-b"), 5*time.Minute)
		if err != nil {
			t.Fatalf("enqueue #%d: %v", i, err)
		}
		if inserted {
			insertedCount++
		}
	}
	if insertedCount != 1 {
		t.Fatalf("expected exactly one insert across 10 identical enqueues within TTL, got %d", insertedCount)
	}

	leased, err := ob.Lease(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(leased) != 1 {
		t.Fatalf("expected exactly one row to exist in the outbox, got %d", len(leased))
	}
}

func TestLeaseExcludesAlreadyLeasedRows(t *testing.T) {
	ob := newTestOutbox(t)
	ctx := context.Background()
	ob.Enqueue(ctx, testIntent("key-c"), time.Minute)

	first, err := ob.Lease(ctx, 10, time.Minute)
	if err != nil || len(first) != 1 {
		t.Fatalf("expected one leased row, got %d err=%v", len(first), err)
	}
	second, err := ob.Lease(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected an active lease to be excluded from a concurrent lease call")
	}
}

func TestMarkFailedSchedulesRetryUnderMaxAttempts(t *testing.T) {
	ob := newTestOutbox(t)
	ctx := context.Background()
	id, _, _ := ob.Enqueue(ctx, testIntent("key-d"), time.Minute)
	ob.Lease(ctx, 10, time.Minute)

	if err := ob.MarkFailed(ctx, id, 1, 0, errors.New("boom")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	leased, err := ob.Lease(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(leased) != 1 {
		t.Fatalf("expected the row to become leasable again after its retry delay elapsed, got %d", len(leased))
	}
}

func TestMarkFailedDeadLettersAtMaxAttempts(t *testing.T) {
	ob := newTestOutbox(t)
	ctx := context.Background()
	id, _, _ := ob.Enqueue(ctx, testIntent("key-e"), time.Minute)
	ob.Lease(ctx, 10, time.Minute)

	if err := ob.MarkFailed(ctx, id, ob.maxAttempts, 0, errors.New("permanent")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	m, err := ob.Metrics(ctx)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.DeadLetter != 1 {
		t.Fatalf("expected one dead_letter row, got %d", m.DeadLetter)
	}
}

func TestMarkFailedPersistsAttemptCountAcrossLeaseReleases(t *testing.T) {
	ob := newTestOutbox(t)
	ctx := context.Background()
	id, _, _ := ob.Enqueue(ctx, testIntent("key-g"), time.Minute)

	leased, _ := ob.Lease(ctx, 10, time.Minute)
	if leased[0].AttemptCount != 0 {
		t.Fatalf("expected a freshly enqueued intent to start at attempt_count 0, got %d", leased[0].AttemptCount)
	}
	if err := ob.MarkFailed(ctx, id, 1, 0, errors.New("boom")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	leased, err := ob.Lease(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(leased) != 1 || leased[0].AttemptCount != 1 {
		t.Fatalf("expected the retried lease to reflect attempt_count 1, got %+v", leased)
	}

	if err := ob.MarkFailed(ctx, id, 2, 0, errors.New("boom again")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	leased, err = ob.Lease(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(leased) != 1 || leased[0].AttemptCount != 2 {
		t.Fatalf("expected attempt_count to strictly increase across lease releases, got %+v", leased)
	}
}

func TestRecoverReturnsExpiredLeasesToPending(t *testing.T) {
	ob := newTestOutbox(t)
	ctx := context.Background()
	ob.Enqueue(ctx, testIntent("key-f"), time.Minute)
	ob.Lease(ctx, 10, time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	n, err := ob.Recover(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one expired lease recovered, got %d", n)
	}

	leased, err := ob.Lease(ctx, 10, time.Minute)
	if err != nil || len(leased) != 1 {
		t.Fatalf("expected the recovered row to be leasable again, got %d err=%v", len(leased), err)
	}
}

func TestMarkSentIsNoOpWhenNotLeased(t *testing.T) {
	ob := newTestOutbox(t)
	ctx := context.Background()
	if err := ob.MarkSent(ctx, "does-not-exist"); err != nil {
		t.Fatalf("expected marking an unknown id sent to be a harmless no-op, got %v", err)
	}
}

package notify

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type fakeAdapter struct {
	mu        sync.Mutex
	sent      int
	nextErr   *SendResult
	alwaysErr *SendResult
}

func (f *fakeAdapter) Send(ctx context.Context, intent Intent) SendResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alwaysErr != nil {
		return *f.alwaysErr
	}
	if f.nextErr != nil {
		r := *f.nextErr
		f.nextErr = nil
		return r
	}
	f.sent++
	return SendResult{Kind: ResultOK}
}

func (f *fakeAdapter) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

func TestDispatcherDeliversPendingIntentsAndMarksSent(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	ob, err := NewOutbox(db, 3, time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("new outbox: %v", err)
	}
	ctx := context.Background()
	ob.Enqueue(ctx, testIntent("d-1"), time.Minute)

	adapter := &fakeAdapter{}
	d := NewDispatcher(ob, []Route{{Adapter: adapter, MinSeverity: SeverityInfo}}, 2, 10, time.Hour, time.Minute, nil)

	if err := d.processOnce(ctx); err != nil {
		t.Fatalf("processOnce: %v", err)
	}
	if adapter.sentCount() != 1 {
		t.Fatalf("expected the adapter to receive exactly one send, got %d", adapter.sentCount())
	}
	m, err := ob.Metrics(ctx)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.Sent != 1 {
		t.Fatalf("expected the intent to be marked sent, got sent=%d", m.Sent)
	}
}

func TestDispatcherRetriesOnRetryableFailure(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	ob, err := NewOutbox(db, 5, time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("new outbox: %v", err)
	}
	ctx := context.Background()
	ob.Enqueue(ctx, testIntent("d-2"), time.Minute)

	adapter := &fakeAdapter{nextErr: &SendResult{Kind: ResultRetryable, Reason: "temporary"}}
	d := NewDispatcher(ob, []Route{{Adapter: adapter, MinSeverity: SeverityInfo}}, 1, 10, time.Hour, time.Minute, nil)

	if err := d.processOnce(ctx); err != nil {
		t.Fatalf("processOnce: %v", err)
	}
	m, err := ob.Metrics(ctx)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.Pending != 1 {
		t.Fatalf("expected the intent to remain pending awaiting retry, got pending=%d dead_letter=%d", m.Pending, m.DeadLetter)
	}

	time.Sleep(10 * time.Millisecond)
	if err := d.processOnce(ctx); err != nil {
		t.Fatalf("processOnce retry: %v", err)
	}
	if adapter.sentCount() != 1 {
		t.Fatalf("expected the retry to succeed and deliver once, got %d", adapter.sentCount())
	}
}

func TestDispatcherDeadLettersAfterExhaustingRetries(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	ob, err := NewOutbox(db, 2, time.Millisecond, time.Millisecond)
	if err != nil {
		t.Fatalf("new outbox: %v", err)
	}
	ctx := context.Background()
	ob.Enqueue(ctx, testIntent("d-4"), time.Minute)

	adapter := &fakeAdapter{alwaysErr: &SendResult{Kind: ResultRetryable, Reason: "still down"}}
	d := NewDispatcher(ob, []Route{{Adapter: adapter, MinSeverity: SeverityInfo}}, 1, 10, time.Hour, time.Minute, nil)

	// attempt_count must strictly increase on each lease release, so with
	// maxAttempts=2 the row dead-letters on the second failed delivery
	// instead of retrying forever.
	for i := 0; i < 2; i++ {
		if err := d.processOnce(ctx); err != nil {
			t.Fatalf("processOnce #%d: %v", i, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	m, err := ob.Metrics(ctx)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.DeadLetter != 1 {
		t.Fatalf("expected the intent to dead-letter once its attempt count reached maxAttempts, got dead_letter=%d pending=%d", m.DeadLetter, m.Pending)
	}
	if adapter.sentCount() != 0 {
		t.Fatalf("expected no successful sends, got %d", adapter.sentCount())
	}
}

func TestDispatcherDeadLettersPermanentFailureImmediately(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	ob, err := NewOutbox(db, 5, time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("new outbox: %v", err)
	}
	ctx := context.Background()
	ob.Enqueue(ctx, testIntent("d-3"), time.Minute)

	adapter := &fakeAdapter{nextErr: &SendResult{Kind: ResultPermanent, Reason: "unknown recipient"}}
	d := NewDispatcher(ob, []Route{{Adapter: adapter, MinSeverity: SeverityInfo}}, 1, 10, time.Hour, time.Minute, nil)

	if err := d.processOnce(ctx); err != nil {
		t.Fatalf("processOnce: %v", err)
	}
	m, err := ob.Metrics(ctx)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.DeadLetter != 1 {
		t.Fatalf("expected a permanent failure to dead-letter immediately regardless of remaining attempt budget, got dead_letter=%d pending=%d", m.DeadLetter, m.Pending)
	}
}

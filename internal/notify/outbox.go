package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"trades-ai/internal/idgen"
)

// OutboxStatus is one intent row's lifecycle stage.
type OutboxStatus string

const (
	StatusPending    OutboxStatus = "pending"
	StatusLeased     OutboxStatus = "leased"
	StatusSent       OutboxStatus = "sent"
	StatusDeadLetter OutboxStatus = "dead_letter"
)

// LeasedIntent is one row handed to a Dispatcher by Lease.
type LeasedIntent struct {
	ID           string
	Intent       Intent
	AttemptCount int
}

// Outbox is the durable, indexed notification queue (spec.md §4.6),
// grounded directly on the source's transactional-outbox table.
type Outbox struct {
	db          *sql.DB
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewOutbox wraps db, creating the outbox table if absent.
func NewOutbox(db *sql.DB, maxAttempts int, baseDelay, maxDelay time.Duration) (*Outbox, error) {
	const schema = `
CREATE TABLE IF NOT EXISTS outbox (
	id TEXT PRIMARY KEY,
	dedupe_key TEXT NOT NULL,
	status TEXT NOT NULL,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	next_retry_at TEXT,
	last_error TEXT NOT NULL DEFAULT '',
	payload_json TEXT NOT NULL,
	created_at TEXT NOT NULL,
	leased_until TEXT
);
CREATE INDEX IF NOT EXISTS idx_outbox_dedupe_key ON outbox(dedupe_key);
CREATE INDEX IF NOT EXISTS idx_outbox_status_retry ON outbox(status, next_retry_at);
`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("notify: failed to create outbox schema: %w", err)
	}
	return &Outbox{db: db, maxAttempts: maxAttempts, baseDelay: baseDelay, maxDelay: maxDelay}, nil
}

// Enqueue inserts intent unless a pending or leased row with the same
// dedupe key was created within dedupeTTL — matching spec.md §4.6's
// enqueue contract and §8's "double-calling enqueue with an identical
// intent within TTL is a no-op" idempotence law.
func (o *Outbox) Enqueue(ctx context.Context, intent Intent, dedupeTTL time.Duration) (id string, inserted bool, err error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("notify: failed to begin enqueue transaction: %w", err)
	}
	defer tx.Rollback()

	cutoff := time.Now().UTC().Add(-dedupeTTL).Format(time.RFC3339Nano)
	row := tx.QueryRowContext(ctx,
		`SELECT id FROM outbox WHERE dedupe_key = ? AND status IN (?, ?) AND created_at >= ?`,
		intent.DedupeKey, string(StatusPending), string(StatusLeased), cutoff)
	var existing string
	switch err := row.Scan(&existing); {
	case err == nil:
		return existing, false, tx.Commit()
	case err != sql.ErrNoRows:
		return "", false, fmt.Errorf("notify: failed to check dedupe: %w", err)
	}

	payload, err := json.Marshal(intent)
	if err != nil {
		return "", false, fmt.Errorf("notify: failed to marshal intent: %w", err)
	}
	newID := idgen.New()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO outbox (id, dedupe_key, status, attempt_count, payload_json, created_at) VALUES (?, ?, ?, 0, ?, ?)`,
		newID, intent.DedupeKey, string(StatusPending), string(payload), now,
	); err != nil {
		return "", false, fmt.Errorf("notify: failed to insert intent: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("notify: failed to commit enqueue: %w", err)
	}
	return newID, true, nil
}

// Lease atomically claims up to batchSize pending intents (or previously
// leased intents whose lease has expired) and marks them leased. Two
// concurrent Lease calls never receive overlapping rows because the
// select-then-update runs inside one transaction against SQLite's single
// writer.
func (o *Outbox) Lease(ctx context.Context, batchSize int, leaseDuration time.Duration) ([]LeasedIntent, error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("notify: failed to begin lease transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	rows, err := tx.QueryContext(ctx,
		`SELECT id, payload_json, attempt_count FROM outbox
		 WHERE (status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?))
		    OR (status = ? AND leased_until <= ?)
		 ORDER BY created_at ASC LIMIT ?`,
		string(StatusPending), now.Format(time.RFC3339Nano),
		string(StatusLeased), now.Format(time.RFC3339Nano), batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("notify: failed to query leasable intents: %w", err)
	}

	type candidate struct {
		id      string
		payload string
		attempt int
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.payload, &c.attempt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("notify: failed to scan leasable intent: %w", err)
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	leasedUntil := now.Add(leaseDuration).Format(time.RFC3339Nano)
	var out []LeasedIntent
	for _, c := range candidates {
		if _, err := tx.ExecContext(ctx,
			`UPDATE outbox SET status = ?, leased_until = ? WHERE id = ?`,
			string(StatusLeased), leasedUntil, c.id,
		); err != nil {
			return nil, fmt.Errorf("notify: failed to mark intent leased: %w", err)
		}
		var intent Intent
		if err := json.Unmarshal([]byte(c.payload), &intent); err != nil {
			return nil, fmt.Errorf("notify: failed to unmarshal intent payload: %w", err)
		}
		out = append(out, LeasedIntent{ID: c.id, Intent: intent, AttemptCount: c.attempt})
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("notify: failed to commit lease: %w", err)
	}
	return out, nil
}

// MarkSent transitions a leased intent to sent. Repeating the call on an
// already-sent id is a no-op (the UPDATE simply matches zero rows).
func (o *Outbox) MarkSent(ctx context.Context, id string) error {
	_, err := o.db.ExecContext(ctx, `UPDATE outbox SET status = ? WHERE id = ? AND status = ?`, string(StatusSent), id, string(StatusLeased))
	if err != nil {
		return fmt.Errorf("notify: failed to mark sent: %w", err)
	}
	return nil
}

// MarkFailed persists attemptCount — the caller's already-incremented
// count for this lease release — and either schedules a bounded, jittered
// exponential backoff retry or, once attemptCount reaches maxAttempts,
// transitions to dead_letter with the final error. Persisting
// attempt_count on every call is what makes it strictly increase across
// lease releases (spec.md §3); Lease reads it back on the next cycle so a
// row that keeps failing eventually crosses maxAttempts instead of
// retrying forever.
func (o *Outbox) MarkFailed(ctx context.Context, id string, attemptCount int, retryAfter time.Duration, cause error) error {
	if attemptCount >= o.maxAttempts {
		_, err := o.db.ExecContext(ctx,
			`UPDATE outbox SET status = ?, attempt_count = ?, next_retry_at = NULL, last_error = ? WHERE id = ?`,
			string(StatusDeadLetter), attemptCount, cause.Error(), id,
		)
		if err != nil {
			return fmt.Errorf("notify: failed to mark dead_letter: %w", err)
		}
		return nil
	}

	delay := o.backoff(attemptCount)
	if retryAfter > delay {
		delay = retryAfter
	}
	nextRetry := time.Now().UTC().Add(delay).Format(time.RFC3339Nano)
	_, err := o.db.ExecContext(ctx,
		`UPDATE outbox SET status = ?, attempt_count = ?, next_retry_at = ?, last_error = ? WHERE id = ?`,
		string(StatusPending), attemptCount, nextRetry, cause.Error(), id,
	)
	if err != nil {
		return fmt.Errorf("notify: failed to mark failed: %w", err)
	}
	return nil
}

// backoff computes exponential-with-jitter delay, mirroring the source's
// OutboxNotifierWorker._compute_retry_delay (base * 2^(attempt-1)), bounded
// by maxDelay and jittered to avoid a synchronized retry stampede.
func (o *Outbox) backoff(attemptCount int) time.Duration {
	exp := attemptCount - 1
	if exp < 0 {
		exp = 0
	}
	delay := float64(o.baseDelay) * math.Pow(2, float64(exp))
	if delay > float64(o.maxDelay) {
		delay = float64(o.maxDelay)
	}
	jitter := delay * (0.5 + rand.Float64()*0.5)
	return time.Duration(jitter)
}

// Recover returns any leased intent whose lease has expired back to
// pending, preserving attempt_count, satisfying §8's no-loss invariant
// across dispatcher restarts.
func (o *Outbox) Recover(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := o.db.ExecContext(ctx,
		`UPDATE outbox SET status = ?, leased_until = NULL WHERE status = ? AND leased_until < ?`,
		string(StatusPending), string(StatusLeased), now,
	)
	if err != nil {
		return 0, fmt.Errorf("notify: failed to recover expired leases: %w", err)
	}
	return res.RowsAffected()
}

// Metrics reports counts by status, the age of the oldest pending row,
// and the dead-letter count, per spec.md §4.6.
type Metrics struct {
	Pending        int64
	Leased         int64
	Sent           int64
	DeadLetter     int64
	OldestPendingAge time.Duration
}

func (o *Outbox) Metrics(ctx context.Context) (Metrics, error) {
	var m Metrics
	rows, err := o.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return m, fmt.Errorf("notify: failed to query outbox metrics: %w", err)
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return m, err
		}
		switch OutboxStatus(status) {
		case StatusPending:
			m.Pending = count
		case StatusLeased:
			m.Leased = count
		case StatusSent:
			m.Sent = count
		case StatusDeadLetter:
			m.DeadLetter = count
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return m, err
	}

	var oldest sql.NullString
	if err := o.db.QueryRowContext(ctx,
		`SELECT MIN(created_at) FROM outbox WHERE status = ?`, string(StatusPending),
	).Scan(&oldest); err != nil && err != sql.ErrNoRows {
		return m, fmt.Errorf("notify: failed to query oldest pending: %w", err)
	}
	if oldest.Valid {
		if t, err := time.Parse(time.RFC3339Nano, oldest.String); err == nil {
			m.OldestPendingAge = time.Since(t)
		}
	}
	return m, nil
}

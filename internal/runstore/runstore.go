// Package runstore is the durable index of runs and their event history
// (spec.md §4.4's RunStore), backed by the same SQLite database the
// notification outbox and trade log reporters share.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"trades-ai/internal/kernel"
)

// Status is a run's lifecycle stage. Transitions only ever move forward:
// pending -> running -> {succeeded, failed, canceled}.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Run is one submitted run's durable record.
type Run struct {
	ID         string
	Name       string
	ConfigJSON string
	Status     Status
	Progress   float64
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	LastError  string
}

// RecordedEvent is one ring-buffered pipeline event, stored so a
// late-joining subscriber can replay recent history before switching to
// live delivery.
type RecordedEvent struct {
	RunID      string
	Seq        uint64
	Kind       kernel.Kind
	OccurredAt time.Time
	PayloadRaw string
}

// Store is the SQLite-backed RunStore.
type Store struct {
	db             *sql.DB
	ringBufferSize int
}

// New wraps db, creating the runs/run_events tables if absent. ringBuffer
// bounds how many of a run's most recent events are retained for replay;
// older rows are trimmed on every append.
func New(db *sql.DB, ringBuffer int) (*Store, error) {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	config_json TEXT NOT NULL,
	status TEXT NOT NULL,
	progress REAL NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	started_at TEXT,
	finished_at TEXT,
	last_error TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS run_events (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	kind TEXT NOT NULL,
	occurred_at TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id);
`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("runstore: failed to create schema: %w", err)
	}
	if ringBuffer <= 0 {
		ringBuffer = 1000
	}
	return &Store{db: db, ringBufferSize: ringBuffer}, nil
}

// Create persists a new run in pending status.
func (s *Store) Create(ctx context.Context, id, name, configJSON string) (*Run, error) {
	run := &Run{ID: id, Name: name, ConfigJSON: configJSON, Status: StatusPending, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, name, config_json, status, progress, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
		run.ID, run.Name, run.ConfigJSON, string(run.Status), run.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("runstore: failed to create run: %w", err)
	}
	return run, nil
}

// Transition moves run_id to status, stamping started_at/finished_at as
// appropriate. Passing a non-empty lastErr records the terminal cause.
func (s *Store) Transition(ctx context.Context, runID string, status Status, lastErr string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	switch status {
	case StatusRunning:
		_, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ?, started_at = ? WHERE id = ?`, string(status), now, runID)
		return wrapExec("transition to running", err)
	case StatusSucceeded, StatusFailed, StatusCanceled:
		_, err := s.db.ExecContext(ctx,
			`UPDATE runs SET status = ?, finished_at = ?, last_error = ? WHERE id = ?`,
			string(status), now, lastErr, runID,
		)
		return wrapExec("transition to terminal status", err)
	default:
		_, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ? WHERE id = ?`, string(status), runID)
		return wrapExec("transition", err)
	}
}

// UpdateProgress records the fraction of feed progress consumed so far.
func (s *Store) UpdateProgress(ctx context.Context, runID string, fraction float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET progress = ? WHERE id = ?`, fraction, runID)
	return wrapExec("update progress", err)
}

// AppendEvent journals one pipeline event and trims the run's ring buffer
// to ringBufferSize entries in the same transaction, satisfying spec.md
// §4.4's "status transition and event-ring append are atomic per update"
// (an event append is its own atomic unit; status transitions are separate
// atomic units via Transition, matching the source's per-writer-independent
// consistency model — see DESIGN.md's Open Question resolution #2).
func (s *Store) AppendEvent(ctx context.Context, runID string, e kernel.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("runstore: failed to marshal event payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("runstore: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO run_events (run_id, seq, kind, occurred_at, payload_json) VALUES (?, ?, ?, ?, ?)`,
		runID, e.Seq, string(e.Kind), e.OccurredAt.Format(time.RFC3339Nano), string(payload),
	); err != nil {
		return fmt.Errorf("runstore: failed to append event: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM run_events WHERE run_id = ? AND seq NOT IN (
			SELECT seq FROM run_events WHERE run_id = ? ORDER BY seq DESC LIMIT ?
		)`, runID, runID, s.ringBufferSize,
	); err != nil {
		return fmt.Errorf("runstore: failed to trim ring buffer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("runstore: failed to commit event append: %w", err)
	}
	return nil
}

// RecentEvents returns the ring-buffered events for runID, oldest first.
func (s *Store) RecentEvents(ctx context.Context, runID string) ([]RecordedEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, kind, occurred_at, payload_json FROM run_events WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("runstore: failed to query events: %w", err)
	}
	defer rows.Close()

	var events []RecordedEvent
	for rows.Next() {
		var e RecordedEvent
		var occurredAt string
		var kind string
		if err := rows.Scan(&e.RunID, &e.Seq, &kind, &occurredAt, &e.PayloadRaw); err != nil {
			return nil, fmt.Errorf("runstore: failed to scan event: %w", err)
		}
		e.Kind = kernel.Kind(kind)
		e.OccurredAt, _ = time.Parse(time.RFC3339Nano, occurredAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Get loads one run by id.
func (s *Store) Get(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, config_json, status, progress, created_at, started_at, finished_at, last_error FROM runs WHERE id = ?`, runID)
	return scanRun(row)
}

// List returns every run, most recently created first.
func (s *Store) List(ctx context.Context) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, config_json, status, progress, created_at, started_at, finished_at, last_error FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("runstore: failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecoverOrphaned marks every run left in `running` (from a controller
// crash) as `failed` with a recovery note, per spec.md §4.4: "a crash
// mid-run must, on restart,... mark it as failed with a recovery note."
// Runs still `pending` are left unchanged; nothing re-admits them.
func (s *Store) RecoverOrphaned(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, last_error = ? WHERE status = ?`,
		string(StatusFailed), now, "controller restarted while run was in progress", string(StatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("runstore: failed to recover orphaned runs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var createdAt string
	var startedAt, finishedAt sql.NullString
	if err := row.Scan(&run.ID, &run.Name, &run.ConfigJSON, &run.Status, &run.Progress, &createdAt, &startedAt, &finishedAt, &run.LastError); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("runstore: failed to scan run: %w", err)
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, startedAt.String)
		run.StartedAt = &t
	}
	if finishedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, finishedAt.String)
		run.FinishedAt = &t
	}
	return &run, nil
}

func wrapExec(op string, err error) error {
	if err != nil {
		return fmt.Errorf("runstore: failed to %s: %w", op, err)
	}
	return nil
}

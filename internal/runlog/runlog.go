// Package runlog persists dispatch runs and their per-test results.
package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/testrelay/internal/report"
	"github.com/mattjoyce/testrelay/internal/suite"
)

const maxMessageBytes = 64 * 1024

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// BeginRun inserts a run row and returns its ID.
func (s *Store) BeginRun(ctx context.Context, req BeginRequest) (string, error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC().Format(timeLayout)

	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs(id, started_at, total, endpoints, runner)
VALUES(?, ?, ?, ?, ?);
`, id, now, req.Total, strings.Join(req.Endpoints, ","), req.Runner)
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

// FinishRun stamps the run finished with its final counters.
func (s *Store) FinishRun(ctx context.Context, runID string, t Totals) error {
	if runID == "" {
		return fmt.Errorf("runID is empty")
	}
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `
UPDATE runs
SET finished_at = ?, passed = ?, failed = ?, timed_out = ?, local = ?
WHERE id = ?;
`, now, t.Passed, t.Failed, t.TimedOut, t.Local, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// RecordResult appends one test result to a run.
func (s *Store) RecordResult(ctx context.Context, r Result) (string, error) {
	if r.RunID == "" {
		return "", fmt.Errorf("runID is empty")
	}
	if r.Test.Suite == "" {
		return "", fmt.Errorf("suite is empty")
	}
	switch r.Status {
	case report.StatusPassed, report.StatusFailed, report.StatusTimedOut:
	default:
		return "", fmt.Errorf("invalid result status: %q", r.Status)
	}

	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	finishedAt := r.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now()
	}

	var message any
	if r.Message != nil {
		m := *r.Message
		if len(m) > maxMessageBytes {
			m = m[:maxMessageBytes]
		}
		message = m
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO test_results(id, run_id, suite, method, status, message, endpoint, duration_ms, finished_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, r.RunID, r.Test.Suite, r.Test.Method, r.Status, message, r.Endpoint,
		r.Duration.Milliseconds(), finishedAt.UTC().Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("record result: %w", err)
	}
	return id, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, started_at, finished_at, total, passed, failed, timed_out, local, endpoints, runner
FROM runs
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, started_at, finished_at, total, passed, failed, timed_out, local, endpoints, runner
FROM runs
WHERE id = ?;
`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// Results returns a run's results in completion order.
func (s *Store) Results(ctx context.Context, runID string) ([]Result, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, run_id, suite, method, status, message, endpoint, duration_ms, finished_at
FROM test_results
WHERE run_id = ?
ORDER BY finished_at ASC, rowid ASC;
`, runID)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var (
			r           Result
			statusS     string
			message     sql.NullString
			durationMS  int64
			finishedAtS string
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Test.Suite, &r.Test.Method, &statusS, &message,
			&r.Endpoint, &durationMS, &finishedAtS); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Status = report.Status(statusS)
		if message.Valid {
			r.Message = &message.String
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		if t, err := time.Parse(time.RFC3339Nano, finishedAtS); err == nil {
			r.FinishedAt = t
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r           Run
		startedAtS  string
		finishedAtS sql.NullString
		local       int
	)
	if err := row.Scan(&r.ID, &startedAtS, &finishedAtS, &r.Total, &r.Passed, &r.Failed, &r.TimedOut,
		&local, &r.Endpoints, &r.Runner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Local = local != 0
	if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
		r.StartedAt = t
	}
	if finishedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAtS.String); err == nil {
			r.FinishedAt = &t
		}
	}
	return &r, nil
}

// ResultFrom builds a Result from a finished notification and the failure,
// if any, that preceded it.
func ResultFrom(n report.Notification, failure error) Result {
	r := Result{
		RunID:      n.RunID,
		Test:       suite.TestID{Suite: n.Test.Suite, Method: n.Test.Method},
		Status:     n.Status,
		Endpoint:   n.Endpoint,
		Duration:   n.Duration,
		FinishedAt: n.At,
	}
	if failure != nil {
		msg := failure.Error()
		r.Message = &msg
	}
	return r
}

package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/slipwayci/slipway/internal/event"
)

const maxOutputBytes = 64 * 1024

// Queue is the SQLite-backed run queue and history store.
type Queue struct {
	db *sql.DB
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue inserts a queued run and returns its ID.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if req.Pipeline == "" {
		return "", fmt.Errorf("pipeline is empty")
	}
	if req.SubmittedBy == "" {
		return "", fmt.Errorf("submitted_by is empty")
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	axis := req.Axis
	if axis == nil {
		axis = map[string]string{}
	}
	axisJSON, err := json.Marshal(axis)
	if err != nil {
		return "", fmt.Errorf("marshal axis: %w", err)
	}
	triggerJSON, err := json.Marshal(req.Trigger)
	if err != nil {
		return "", fmt.Errorf("marshal trigger: %w", err)
	}

	_, err = q.db.ExecContext(ctx, `
INSERT INTO run_queue(id, pipeline, fingerprint, axis, trigger, status, submitted_by, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, id, req.Pipeline, req.Fingerprint, string(axisJSON), string(triggerJSON), StatusQueued, req.SubmittedBy, now)
	if err != nil {
		return "", fmt.Errorf("enqueue run: %w", err)
	}
	return id, nil
}

// Dequeue claims the oldest queued run and marks it running. Returns
// (nil, nil) if the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*Run, error) {
	nowS := time.Now().UTC().Format(time.RFC3339Nano)

	row := q.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM run_queue
  WHERE status = ?
  ORDER BY created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE run_queue
SET status = ?, started_at = ?
WHERE id IN (SELECT id FROM next)
RETURNING id, pipeline, fingerprint, axis, trigger, status, submitted_by,
  created_at, started_at, completed_at, failed_step, last_error;
`, StatusQueued, StatusRunning, nowS)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue run: %w", err)
	}
	return run, nil
}

// Complete marks a run terminal and appends a row to run_log.
func (q *Queue) Complete(ctx context.Context, runID string, status Status, failedStep, lastError *string) error {
	if runID == "" {
		return fmt.Errorf("runID is empty")
	}
	if status != StatusSucceeded && status != StatusFailed && status != StatusCanceled {
		return fmt.Errorf("invalid terminal status: %q", status)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		pipeline    string
		axisJSON    string
		submittedBy string
		createdAt   string
	)
	if err := tx.QueryRowContext(ctx, `
SELECT pipeline, axis, submitted_by, created_at
FROM run_queue
WHERE id = ?;
`, runID).Scan(&pipeline, &axisJSON, &submittedBy, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRunNotFound
		}
		return fmt.Errorf("load run for completion: %w", err)
	}

	completedAt := time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := tx.ExecContext(ctx, `
UPDATE run_queue
SET status = ?, completed_at = ?, failed_step = ?, last_error = ?
WHERE id = ?;
`, status, completedAt, failedStep, lastError, runID); err != nil {
		return fmt.Errorf("update run completion: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO run_log(id, pipeline, axis, status, submitted_by, created_at, completed_at, failed_step, last_error)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, runID, pipeline, axisJSON, status, submittedBy, createdAt, completedAt, failedStep, lastError); err != nil {
		return fmt.Errorf("insert run_log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// RecordStep appends one step outcome for a run.
func (q *Queue) RecordStep(ctx context.Context, res StepResult) error {
	if res.RunID == "" {
		return fmt.Errorf("run_id is empty")
	}
	if res.Name == "" {
		return fmt.Errorf("step name is empty")
	}

	output := res.Output
	if len(output) > maxOutputBytes {
		output = output[:maxOutputBytes]
	}

	_, err := q.db.ExecContext(ctx, `
INSERT INTO step_log(run_id, idx, name, status, exit_code, started_at, completed_at, output)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, res.RunID, res.Index, res.Name, res.Status, res.ExitCode,
		formatTimePtr(res.StartedAt), formatTimePtr(res.CompletedAt), output)
	if err != nil {
		return fmt.Errorf("insert step_log: %w", err)
	}
	return nil
}

// GetRun loads one run by ID.
func (q *Queue) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := q.db.QueryRowContext(ctx, `
SELECT id, pipeline, fingerprint, axis, trigger, status, submitted_by,
  created_at, started_at, completed_at, failed_step, last_error
FROM run_queue
WHERE id = ?;
`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (q *Queue) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, `
SELECT id, pipeline, fingerprint, axis, trigger, status, submitted_by,
  created_at, started_at, completed_at, failed_step, last_error
FROM run_queue
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// StepsForRun returns step outcomes for a run in execution order.
func (q *Queue) StepsForRun(ctx context.Context, runID string) ([]StepResult, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT run_id, idx, name, status, exit_code, started_at, completed_at, output
FROM step_log
WHERE run_id = ?
ORDER BY idx ASC;
`, runID)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	defer rows.Close()

	var out []StepResult
	for rows.Next() {
		var (
			res         StepResult
			statusS     string
			exitCode    sql.NullInt64
			startedAt   sql.NullString
			completedAt sql.NullString
			output      sql.NullString
		)
		if err := rows.Scan(&res.RunID, &res.Index, &res.Name, &statusS, &exitCode, &startedAt, &completedAt, &output); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		res.Status = StepStatus(statusS)
		if exitCode.Valid {
			code := int(exitCode.Int64)
			res.ExitCode = &code
		}
		res.StartedAt = parseTimePtr(startedAt)
		res.CompletedAt = parseTimePtr(completedAt)
		if output.Valid {
			res.Output = output.String
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// RecoverOrphans flips runs stuck in "running" (daemon crash) back to
// "queued" so a fresh worker can claim them. Returns the number of
// recovered runs.
func (q *Queue) RecoverOrphans(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `
UPDATE run_queue SET status = ?, started_at = NULL WHERE status = ?;
`, StatusQueued, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("recover orphaned runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count recovered runs: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r           Run
		fingerprint sql.NullString
		axisJSON    string
		triggerJSON string
		statusS     string
		createdAtS  string
		startedAt   sql.NullString
		completedAt sql.NullString
		failedStep  sql.NullString
		lastError   sql.NullString
	)
	err := row.Scan(
		&r.ID, &r.Pipeline, &fingerprint, &axisJSON, &triggerJSON, &statusS, &r.SubmittedBy,
		&createdAtS, &startedAt, &completedAt, &failedStep, &lastError,
	)
	if err != nil {
		return nil, err
	}

	r.Status = Status(statusS)
	if fingerprint.Valid {
		r.Fingerprint = fingerprint.String
	}
	if err := json.Unmarshal([]byte(axisJSON), &r.Axis); err != nil {
		return nil, fmt.Errorf("decode axis: %w", err)
	}
	var ev event.Event
	if err := json.Unmarshal([]byte(triggerJSON), &ev); err != nil {
		return nil, fmt.Errorf("decode trigger: %w", err)
	}
	r.Trigger = ev

	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		r.CreatedAt = t
	}
	r.StartedAt = parseTimePtr(startedAt)
	r.CompletedAt = parseTimePtr(completedAt)
	if failedStep.Valid {
		r.FailedStep = &failedStep.String
	}
	if lastError.Valid {
		r.LastError = &lastError.String
	}
	return &r, nil
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

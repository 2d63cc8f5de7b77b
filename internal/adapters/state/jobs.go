package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/flowforge/internal/core"
)

const jobColumns = `id, task_id, capability, provider, model, input, status,
	retry_count, max_retries, locked_by, locked_at, run_after, output, error,
	created_at, started_at, completed_at`

// CreateJob inserts a new job row.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *core.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	input := job.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, task_id, capability, provider, model, input, status,
			retry_count, max_retries, locked_by, locked_at, run_after,
			output, error, created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID, job.TaskID, job.Capability, job.Provider, job.Model,
		string(input), job.Status, job.RetryCount, job.MaxRetries,
		nullableString(job.LockedBy), nullableTime(job.LockedAt),
		job.RunAfter.UTC(), nullableBytes(job.Output), nullableString(job.Error),
		job.CreatedAt.UTC(), nullableTime(job.StartedAt), nullableTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id core.JobID) (*core.Job, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("job", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns jobs in a status, oldest first. An empty status lists all.
func (s *SQLiteStore) ListJobs(ctx context.Context, status core.JobStatus, limit int) ([]*core.Job, error) {
	if limit <= 0 {
		limit = 100
	}

	query := "SELECT " + jobColumns + " FROM jobs"
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at ASC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*core.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating jobs: %w", err)
	}
	return jobs, nil
}

// ClaimJob atomically takes the oldest eligible queued job for workerID.
// The whole claim is one UPDATE: SQLite serializes writers, so concurrent
// claimers cannot select the same row, and losers simply find no row
// (skip, not block). Returns (nil, nil) when nothing is eligible.
func (s *SQLiteStore) ClaimJob(ctx context.Context, workerID string) (*core.Job, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET
			status = ?,
			locked_by = ?,
			locked_at = ?,
			started_at = ?,
			retry_count = retry_count + 1
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = ? AND run_after <= ? AND retry_count < max_retries
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		)
		RETURNING `+jobColumns,
		core.JobStatusRunning, workerID, now, now,
		core.JobStatusQueued, now,
	)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job for %s: %w", workerID, err)
	}
	return job, nil
}

// CompleteJob records a successful attempt and releases the lock.
func (s *SQLiteStore) CompleteJob(ctx context.Context, id core.JobID, output json.RawMessage) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?, output = ?, error = NULL,
			locked_by = NULL, locked_at = NULL, completed_at = ?
		WHERE id = ? AND status = ?
	`, core.JobStatusCompleted, nullableBytes(output), now, id, core.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("completing job %s: %w", id, err)
	}
	return requireRow(res, "job", string(id), "complete")
}

// FailJob records a terminal failure and releases the lock.
func (s *SQLiteStore) FailJob(ctx context.Context, id core.JobID, errMsg string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?, error = ?,
			locked_by = NULL, locked_at = NULL, completed_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, core.JobStatusFailed, errMsg, now, id, core.JobStatusRunning, core.JobStatusQueued)
	if err != nil {
		return fmt.Errorf("failing job %s: %w", id, err)
	}
	return requireRow(res, "job", string(id), "fail")
}

// RequeueJob returns a running job to the queue for a later attempt.
func (s *SQLiteStore) RequeueJob(ctx context.Context, id core.JobID, errMsg string, runAfter time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?, error = ?,
			locked_by = NULL, locked_at = NULL, run_after = ?
		WHERE id = ? AND status = ?
	`, core.JobStatusQueued, errMsg, runAfter.UTC(), id, core.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("requeuing job %s: %w", id, err)
	}
	return requireRow(res, "job", string(id), "requeue")
}

// CancelJob cancels a queued job. Running jobs keep their lock until the
// worker or the reaper settles them.
func (s *SQLiteStore) CancelJob(ctx context.Context, id core.JobID) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, core.JobStatusCancelled, now, id, core.JobStatusQueued)
	if err != nil {
		return fmt.Errorf("cancelling job %s: %w", id, err)
	}
	return requireRow(res, "job", string(id), "cancel")
}

// RetryJob puts a terminally failed or cancelled job back on the queue with
// a fresh attempt budget.
func (s *SQLiteStore) RetryJob(ctx context.Context, id core.JobID) (*core.Job, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET
			status = ?, retry_count = 0, error = NULL,
			run_after = ?, completed_at = NULL
		WHERE id = ? AND status IN (?, ?)
		RETURNING `+jobColumns,
		core.JobStatusQueued, now, id, core.JobStatusFailed, core.JobStatusCancelled)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		if _, getErr := s.GetJob(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, core.ErrState(core.CodeInvalidState,
			fmt.Sprintf("job %s is not failed or cancelled and cannot be retried", id))
	}
	if err != nil {
		return nil, fmt.Errorf("retrying job %s: %w", id, err)
	}
	return job, nil
}

// ReapStaleJobs requeues running jobs whose lock timestamp is older than
// timeout and returns them. A second run with no new stale jobs changes
// nothing.
func (s *SQLiteStore) ReapStaleJobs(ctx context.Context, timeout time.Duration) ([]*core.Job, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-timeout)
	note := fmt.Sprintf("requeued by reaper: lock older than %s", timeout)

	rows, err := s.db.QueryContext(ctx, `
		UPDATE jobs SET
			status = ?,
			locked_by = NULL,
			locked_at = NULL,
			run_after = ?,
			error = CASE
				WHEN error IS NULL OR error = '' THEN ?
				ELSE error || '; ' || ?
			END
		WHERE status = ? AND locked_at IS NOT NULL AND locked_at < ?
		RETURNING `+jobColumns,
		core.JobStatusQueued, now, note, note,
		core.JobStatusRunning, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("reaping stale jobs: %w", err)
	}
	defer rows.Close()

	var reaped []*core.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reaped job: %w", err)
		}
		reaped = append(reaped, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reaped jobs: %w", err)
	}
	return reaped, nil
}

// rowScanner lets scanJob work over both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*core.Job, error) {
	var job core.Job
	var provider, model, input string
	var lockedBy, output, errMsg sql.NullString
	var lockedAt, startedAt, completedAt sql.NullTime

	err := r.Scan(
		&job.ID, &job.TaskID, &job.Capability, &provider, &model, &input,
		&job.Status, &job.RetryCount, &job.MaxRetries,
		&lockedBy, &lockedAt, &job.RunAfter,
		&output, &errMsg, &job.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Provider = provider
	job.Model = model
	job.Input = json.RawMessage(input)
	if lockedBy.Valid {
		job.LockedBy = lockedBy.String
	}
	if output.Valid {
		job.Output = json.RawMessage(output.String)
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	job.LockedAt = timePtr(lockedAt)
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)
	return &job, nil
}

func requireRow(res sql.Result, resource, id, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking %s of %s %s: %w", op, resource, id, err)
	}
	if n == 0 {
		return core.ErrState(core.CodeInvalidState,
			fmt.Sprintf("cannot %s %s %s in its current status", op, resource, id))
	}
	return nil
}

package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/flowforge/internal/core"
)

// ---------------------------------------------------------------------------
// Workflow definitions
// ---------------------------------------------------------------------------

// SaveDefinition stores an immutable (id, version) definition snapshot.
func (s *SQLiteStore) SaveDefinition(ctx context.Context, def *core.WorkflowDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	steps, err := json.Marshal(def.Steps)
	if err != nil {
		return fmt.Errorf("encoding steps for definition %s: %w", def.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_definitions (id, version, name, steps, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, def.ID, def.Version, def.Name, string(steps), def.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting definition %s v%d: %w", def.ID, def.Version, err)
	}
	return nil
}

// GetDefinition retrieves one pinned definition version.
func (s *SQLiteStore) GetDefinition(ctx context.Context, id string, version int) (*core.WorkflowDefinition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, version, name, steps, created_at
		FROM workflow_definitions WHERE id = ? AND version = ?
	`, id, version)
	def, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("workflow definition", fmt.Sprintf("%s v%d", id, version))
	}
	if err != nil {
		return nil, fmt.Errorf("loading definition %s v%d: %w", id, version, err)
	}
	return def, nil
}

// LatestDefinition retrieves the highest stored version of a definition.
func (s *SQLiteStore) LatestDefinition(ctx context.Context, id string) (*core.WorkflowDefinition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, version, name, steps, created_at
		FROM workflow_definitions WHERE id = ?
		ORDER BY version DESC LIMIT 1
	`, id)
	def, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("workflow definition", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest definition %s: %w", id, err)
	}
	return def, nil
}

// ListDefinitions returns the latest version of every definition.
func (s *SQLiteStore) ListDefinitions(ctx context.Context) ([]*core.WorkflowDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.version, d.name, d.steps, d.created_at
		FROM workflow_definitions d
		JOIN (
			SELECT id, MAX(version) AS version
			FROM workflow_definitions GROUP BY id
		) latest ON d.id = latest.id AND d.version = latest.version
		ORDER BY d.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing definitions: %w", err)
	}
	defer rows.Close()

	var defs []*core.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning definition: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating definitions: %w", err)
	}
	return defs, nil
}

func scanDefinition(r rowScanner) (*core.WorkflowDefinition, error) {
	var def core.WorkflowDefinition
	var steps string
	if err := r.Scan(&def.ID, &def.Version, &def.Name, &steps, &def.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(steps), &def.Steps); err != nil {
		return nil, fmt.Errorf("decoding steps for definition %s v%d: %w", def.ID, def.Version, err)
	}
	return &def, nil
}

// ---------------------------------------------------------------------------
// Workflow executions
// ---------------------------------------------------------------------------

// CreateExecution inserts a new execution row.
func (s *SQLiteStore) CreateExecution(ctx context.Context, exec *core.WorkflowExecution) error {
	if err := exec.Validate(); err != nil {
		return err
	}
	execCtx := exec.Context
	if len(execCtx) == 0 {
		execCtx = json.RawMessage("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (
			id, task_id, definition_id, definition_version, status,
			current_step, total_steps, context, error,
			created_at, updated_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		exec.ID, exec.TaskID, exec.DefinitionID, exec.DefinitionVersion, exec.Status,
		exec.CurrentStep, exec.TotalSteps, string(execCtx), nullableString(exec.Error),
		exec.CreatedAt.UTC(), exec.UpdatedAt.UTC(),
		nullableTime(exec.StartedAt), nullableTime(exec.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting execution %s: %w", exec.ID, err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *SQLiteStore) GetExecution(ctx context.Context, id core.ExecutionID) (*core.WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, definition_id, definition_version, status,
			current_step, total_steps, context, error,
			created_at, updated_at, started_at, completed_at
		FROM workflow_executions WHERE id = ?
	`, id)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("execution", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading execution %s: %w", id, err)
	}
	return exec, nil
}

// UpdateExecution persists the mutable execution fields.
func (s *SQLiteStore) UpdateExecution(ctx context.Context, exec *core.WorkflowExecution) error {
	if err := exec.Validate(); err != nil {
		return err
	}
	execCtx := exec.Context
	if len(execCtx) == 0 {
		execCtx = json.RawMessage("{}")
	}
	exec.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_executions SET
			status = ?, current_step = ?, context = ?, error = ?,
			updated_at = ?, started_at = ?, completed_at = ?
		WHERE id = ?
	`,
		exec.Status, exec.CurrentStep, string(execCtx), nullableString(exec.Error),
		exec.UpdatedAt, nullableTime(exec.StartedAt), nullableTime(exec.CompletedAt),
		exec.ID,
	)
	if err != nil {
		return fmt.Errorf("updating execution %s: %w", exec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update of execution %s: %w", exec.ID, err)
	}
	if n == 0 {
		return core.ErrNotFound("execution", string(exec.ID))
	}
	return nil
}

func scanExecution(r rowScanner) (*core.WorkflowExecution, error) {
	var exec core.WorkflowExecution
	var execCtx string
	var errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := r.Scan(
		&exec.ID, &exec.TaskID, &exec.DefinitionID, &exec.DefinitionVersion,
		&exec.Status, &exec.CurrentStep, &exec.TotalSteps, &execCtx, &errMsg,
		&exec.CreatedAt, &exec.UpdatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	exec.Context = json.RawMessage(execCtx)
	if errMsg.Valid {
		exec.Error = errMsg.String
	}
	exec.StartedAt = timePtr(startedAt)
	exec.CompletedAt = timePtr(completedAt)
	return &exec, nil
}

// ---------------------------------------------------------------------------
// Step executions
// ---------------------------------------------------------------------------

const stepColumns = `id, execution_id, step_index, name, kind, job_id, status,
	input, output, error, created_at, updated_at, started_at, completed_at`

// UpsertStep writes the single row for (execution, step_index). A redone step
// overwrites its previous attempt in place.
func (s *SQLiteStore) UpsertStep(ctx context.Context, step *core.StepExecution) error {
	step.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO step_executions (
			id, execution_id, step_index, name, kind, job_id, status,
			input, output, error, created_at, updated_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (execution_id, step_index) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			job_id = excluded.job_id,
			status = excluded.status,
			input = excluded.input,
			output = excluded.output,
			error = excluded.error,
			updated_at = excluded.updated_at,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`,
		step.ID, step.ExecutionID, step.StepIndex, step.Name, step.Kind,
		nullableString(string(step.JobID)), step.Status,
		nullableBytes(step.Input), nullableBytes(step.Output), nullableString(step.Error),
		step.CreatedAt.UTC(), step.UpdatedAt,
		nullableTime(step.StartedAt), nullableTime(step.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting step %d of execution %s: %w", step.StepIndex, step.ExecutionID, err)
	}
	return nil
}

// GetStep retrieves the step record at index within an execution.
func (s *SQLiteStore) GetStep(ctx context.Context, execID core.ExecutionID, index int) (*core.StepExecution, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+stepColumns+" FROM step_executions WHERE execution_id = ? AND step_index = ?",
		execID, index)
	step, err := scanStep(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("step", fmt.Sprintf("%s[%d]", execID, index))
	}
	if err != nil {
		return nil, fmt.Errorf("loading step %d of execution %s: %w", index, execID, err)
	}
	return step, nil
}

// GetStepByJob retrieves the step currently linked to a job.
func (s *SQLiteStore) GetStepByJob(ctx context.Context, jobID core.JobID) (*core.StepExecution, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+stepColumns+" FROM step_executions WHERE job_id = ?", jobID)
	step, err := scanStep(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("step for job", string(jobID))
	}
	if err != nil {
		return nil, fmt.Errorf("loading step for job %s: %w", jobID, err)
	}
	return step, nil
}

// ListSteps returns an execution's step records in step order.
func (s *SQLiteStore) ListSteps(ctx context.Context, execID core.ExecutionID) ([]*core.StepExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+stepColumns+" FROM step_executions WHERE execution_id = ? ORDER BY step_index ASC",
		execID)
	if err != nil {
		return nil, fmt.Errorf("listing steps of execution %s: %w", execID, err)
	}
	defer rows.Close()

	var steps []*core.StepExecution
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning step: %w", err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating steps: %w", err)
	}
	return steps, nil
}

func scanStep(r rowScanner) (*core.StepExecution, error) {
	var step core.StepExecution
	var jobID, input, output, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := r.Scan(
		&step.ID, &step.ExecutionID, &step.StepIndex, &step.Name, &step.Kind,
		&jobID, &step.Status, &input, &output, &errMsg,
		&step.CreatedAt, &step.UpdatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if jobID.Valid {
		step.JobID = core.JobID(jobID.String)
	}
	if input.Valid {
		step.Input = json.RawMessage(input.String)
	}
	if output.Valid {
		step.Output = json.RawMessage(output.String)
	}
	if errMsg.Valid {
		step.Error = errMsg.String
	}
	step.StartedAt = timePtr(startedAt)
	step.CompletedAt = timePtr(completedAt)
	return &step, nil
}

// ---------------------------------------------------------------------------
// Approvals
// ---------------------------------------------------------------------------

const approvalColumns = `id, task_id, execution_id, step_index, status,
	notes, responder, created_at, resolved_at`

// CreateApproval inserts a pending approval. The partial unique index on
// pending approvals rejects a second open gate for the same step.
func (s *SQLiteStore) CreateApproval(ctx context.Context, approval *core.Approval) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (
			id, task_id, execution_id, step_index, status,
			notes, responder, created_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		approval.ID, approval.TaskID, approval.ExecutionID, approval.StepIndex,
		approval.Status, nullableString(approval.Notes), nullableString(approval.Responder),
		approval.CreatedAt.UTC(), nullableTime(approval.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting approval %s: %w", approval.ID, err)
	}
	return nil
}

// GetApproval retrieves an approval by ID.
func (s *SQLiteStore) GetApproval(ctx context.Context, id core.ApprovalID) (*core.Approval, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+approvalColumns+" FROM approvals WHERE id = ?", id)
	approval, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("approval", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading approval %s: %w", id, err)
	}
	return approval, nil
}

// ListApprovals returns approvals in a status, oldest first. An empty status
// lists all.
func (s *SQLiteStore) ListApprovals(ctx context.Context, status core.ApprovalStatus) ([]*core.Approval, error) {
	query := "SELECT " + approvalColumns + " FROM approvals"
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*core.Approval
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning approval: %w", err)
		}
		approvals = append(approvals, approval)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating approvals: %w", err)
	}
	return approvals, nil
}

// ResolveApproval performs the pending→resolved compare-and-set. Exactly one
// caller wins a race; the rest see false.
func (s *SQLiteStore) ResolveApproval(ctx context.Context, id core.ApprovalID, decision core.ApprovalStatus, notes, responder string) (bool, error) {
	if !core.ApprovalDecisions[decision] {
		return false, core.ErrValidation("APPROVAL_DECISION_INVALID",
			fmt.Sprintf("invalid approval decision %q", decision))
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals SET status = ?, notes = ?, responder = ?, resolved_at = ?
		WHERE id = ? AND status = ?
	`, decision, nullableString(notes), nullableString(responder),
		time.Now().UTC(), id, core.ApprovalStatusPending)
	if err != nil {
		return false, fmt.Errorf("resolving approval %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking resolution of approval %s: %w", id, err)
	}
	return n == 1, nil
}

// ReopenApproval reverts a resolved approval to pending. Compensation path
// only: callers must hold the resolution they are undoing.
func (s *SQLiteStore) ReopenApproval(ctx context.Context, id core.ApprovalID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals SET status = ?, notes = NULL, responder = NULL, resolved_at = NULL
		WHERE id = ? AND status != ?
	`, core.ApprovalStatusPending, id, core.ApprovalStatusPending)
	if err != nil {
		return fmt.Errorf("reopening approval %s: %w", id, err)
	}
	return requireRow(res, "approval", string(id), "reopen")
}

func scanApproval(r rowScanner) (*core.Approval, error) {
	var approval core.Approval
	var notes, responder sql.NullString
	var resolvedAt sql.NullTime

	err := r.Scan(
		&approval.ID, &approval.TaskID, &approval.ExecutionID, &approval.StepIndex,
		&approval.Status, &notes, &responder, &approval.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	if notes.Valid {
		approval.Notes = notes.String
	}
	if responder.Valid {
		approval.Responder = responder.String
	}
	approval.ResolvedAt = timePtr(resolvedAt)
	return &approval, nil
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

// CreateTask inserts a new task row.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *core.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	input := task.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, client_id, title, status, input, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.ID, task.ClientID, task.Title, task.Status, string(input),
		nullableString(task.Error), task.CreatedAt.UTC(), task.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, id core.TaskID) (*core.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, title, status, input, error, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id)

	var task core.Task
	var input string
	var errMsg sql.NullString
	err := row.Scan(&task.ID, &task.ClientID, &task.Title, &task.Status,
		&input, &errMsg, &task.CreatedAt, &task.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("task", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", id, err)
	}

	task.Input = json.RawMessage(input)
	if errMsg.Valid {
		task.Error = errMsg.String
	}
	return &task, nil
}

// UpdateTaskStatus moves a task through its dashboard lifecycle.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, id core.TaskID, status core.TaskStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullableString(errMsg), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update of task %s: %w", id, err)
	}
	if n == 0 {
		return core.ErrNotFound("task", string(id))
	}
	return nil
}

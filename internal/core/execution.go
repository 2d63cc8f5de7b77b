package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExecutionID identifies one run of a workflow definition against a task.
type ExecutionID string

// ExecutionStatus mirrors the owning task's lifecycle.
type ExecutionStatus string

const (
	ExecutionStatusPending         ExecutionStatus = "pending"
	ExecutionStatusRunning         ExecutionStatus = "running"
	ExecutionStatusWaitingApproval ExecutionStatus = "waiting_approval"
	ExecutionStatusCompleted       ExecutionStatus = "completed"
	ExecutionStatusFailed          ExecutionStatus = "failed"
)

// WorkflowExecution is one run of a definition. CurrentStep is a 0-based
// cursor into the pinned definition's step list; Context accumulates the
// outputs of completed steps keyed by step name.
type WorkflowExecution struct {
	ID                ExecutionID
	TaskID            TaskID
	DefinitionID      string
	DefinitionVersion int
	Status            ExecutionStatus
	CurrentStep       int
	TotalSteps        int
	Context           json.RawMessage
	Error             string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
}

// NewExecution creates a pending execution for a task against a pinned
// definition version.
func NewExecution(id ExecutionID, taskID TaskID, def *WorkflowDefinition) *WorkflowExecution {
	now := time.Now().UTC()
	return &WorkflowExecution{
		ID:                id,
		TaskID:            taskID,
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		Status:            ExecutionStatusPending,
		TotalSteps:        len(def.Steps),
		Context:           json.RawMessage("{}"),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Validate checks execution invariants.
func (e *WorkflowExecution) Validate() error {
	if e.ID == "" {
		return ErrValidation("EXECUTION_ID_REQUIRED", "execution ID cannot be empty")
	}
	if e.CurrentStep < 0 || e.CurrentStep > e.TotalSteps {
		return ErrState("INVALID_STATE",
			fmt.Sprintf("execution cursor %d outside [0,%d]", e.CurrentStep, e.TotalSteps))
	}
	if e.Status == ExecutionStatusCompleted && e.CurrentStep != e.TotalSteps {
		return ErrState("INVALID_STATE",
			fmt.Sprintf("completed execution stopped at step %d of %d", e.CurrentStep, e.TotalSteps))
	}
	return nil
}

// IsTerminal returns true for completed and failed executions.
func (e *WorkflowExecution) IsTerminal() bool {
	return e.Status == ExecutionStatusCompleted || e.Status == ExecutionStatusFailed
}

// StepStatus represents the runtime state of a step execution.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepExecution is the runtime record of one step within an execution.
// Exactly one row exists per (execution, step_index); a retried or redone
// step mutates its row rather than inserting a duplicate.
type StepExecution struct {
	ID          string
	ExecutionID ExecutionID
	StepIndex   int
	Name        string
	Kind        StepKind
	JobID       JobID
	Status      StepStatus
	Input       json.RawMessage
	Output      json.RawMessage
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// NewStepExecution creates a pending step record for the given spec.
func NewStepExecution(id string, execID ExecutionID, index int, spec *StepSpec) *StepExecution {
	now := time.Now().UTC()
	return &StepExecution{
		ID:          id,
		ExecutionID: execID,
		StepIndex:   index,
		Name:        spec.Name,
		Kind:        spec.Kind,
		Status:      StepStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsTerminal returns true once the step can no longer change state on its own.
func (s *StepExecution) IsTerminal() bool {
	return s.Status == StepStatusCompleted ||
		s.Status == StepStatusFailed ||
		s.Status == StepStatusSkipped
}

package api

import (
	"encoding/json"
	"time"

	"github.com/hugo-lorenzo-mato/flowforge/internal/core"
)

// executionDTO is the JSON shape of an execution.
type executionDTO struct {
	ID                string          `json:"id"`
	TaskID            string          `json:"task_id"`
	DefinitionID      string          `json:"definition_id"`
	DefinitionVersion int             `json:"definition_version"`
	Status            string          `json:"status"`
	CurrentStep       int             `json:"current_step"`
	TotalSteps        int             `json:"total_steps"`
	Context           json.RawMessage `json:"context,omitempty"`
	Error             string          `json:"error,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	Steps             []stepDTO       `json:"steps,omitempty"`
}

type stepDTO struct {
	StepIndex   int             `json:"step_index"`
	Name        string          `json:"name"`
	Kind        string          `json:"kind"`
	Status      string          `json:"status"`
	JobID       string          `json:"job_id,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

type approvalDTO struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	ExecutionID string     `json:"execution_id"`
	StepIndex   int        `json:"step_index"`
	Status      string     `json:"status"`
	Notes       string     `json:"notes,omitempty"`
	Responder   string     `json:"responder,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

type jobDTO struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	Capability  string     `json:"capability"`
	Provider    string     `json:"provider,omitempty"`
	Model       string     `json:"model,omitempty"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	LockedBy    string     `json:"locked_by,omitempty"`
	RunAfter    time.Time  `json:"run_after"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type definitionDTO struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	Steps     int       `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
}

func toExecutionDTO(exec *core.WorkflowExecution, steps []*core.StepExecution) executionDTO {
	dto := executionDTO{
		ID:                string(exec.ID),
		TaskID:            string(exec.TaskID),
		DefinitionID:      exec.DefinitionID,
		DefinitionVersion: exec.DefinitionVersion,
		Status:            string(exec.Status),
		CurrentStep:       exec.CurrentStep,
		TotalSteps:        exec.TotalSteps,
		Context:           exec.Context,
		Error:             exec.Error,
		CreatedAt:         exec.CreatedAt,
		StartedAt:         exec.StartedAt,
		CompletedAt:       exec.CompletedAt,
	}
	for _, step := range steps {
		dto.Steps = append(dto.Steps, stepDTO{
			StepIndex:   step.StepIndex,
			Name:        step.Name,
			Kind:        string(step.Kind),
			Status:      string(step.Status),
			JobID:       string(step.JobID),
			Output:      step.Output,
			Error:       step.Error,
			StartedAt:   step.StartedAt,
			CompletedAt: step.CompletedAt,
		})
	}
	return dto
}

func toApprovalDTO(a *core.Approval) approvalDTO {
	return approvalDTO{
		ID:          string(a.ID),
		TaskID:      string(a.TaskID),
		ExecutionID: string(a.ExecutionID),
		StepIndex:   a.StepIndex,
		Status:      string(a.Status),
		Notes:       a.Notes,
		Responder:   a.Responder,
		CreatedAt:   a.CreatedAt,
		ResolvedAt:  a.ResolvedAt,
	}
}

func toJobDTO(j *core.Job) jobDTO {
	return jobDTO{
		ID:          string(j.ID),
		TaskID:      string(j.TaskID),
		Capability:  j.Capability,
		Provider:    j.Provider,
		Model:       j.Model,
		Status:      string(j.Status),
		RetryCount:  j.RetryCount,
		MaxRetries:  j.MaxRetries,
		LockedBy:    j.LockedBy,
		RunAfter:    j.RunAfter,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
	}
}

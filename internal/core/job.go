package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobID uniquely identifies a queued agent invocation.
type JobID string

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job is one attempted (or to-be-attempted) capability invocation on behalf
// of a workflow step. Jobs live in the persisted queue and are claimed by
// workers one at a time.
type Job struct {
	ID          JobID
	TaskID      TaskID
	Capability  string
	Provider    string
	Model       string
	Input       json.RawMessage
	Status      JobStatus
	RetryCount  int
	MaxRetries  int
	LockedBy    string
	LockedAt    *time.Time
	RunAfter    time.Time
	Output      json.RawMessage
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// NewJob creates a queued job eligible to run immediately.
func NewJob(id JobID, taskID TaskID, capability string, input json.RawMessage) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:         id,
		TaskID:     taskID,
		Capability: capability,
		Input:      input,
		Status:     JobStatusQueued,
		MaxRetries: 3,
		RunAfter:   now,
		CreatedAt:  now,
	}
}

// WithProvider sets the provider and model selector.
func (j *Job) WithProvider(provider, model string) *Job {
	j.Provider = provider
	j.Model = model
	return j
}

// WithMaxRetries sets the maximum attempt count.
func (j *Job) WithMaxRetries(n int) *Job {
	j.MaxRetries = n
	return j
}

// Validate checks job invariants.
func (j *Job) Validate() error {
	if j.ID == "" {
		return ErrValidation("JOB_ID_REQUIRED", "job ID cannot be empty")
	}
	if j.Capability == "" {
		return ErrValidation("JOB_CAPABILITY_REQUIRED", "job capability cannot be empty")
	}
	if j.MaxRetries < 0 {
		return ErrValidation("JOB_MAX_RETRIES_INVALID", "max retries cannot be negative")
	}
	if j.Status == JobStatusQueued && j.RetryCount > j.MaxRetries {
		return ErrState("INVALID_STATE",
			fmt.Sprintf("queued job has retry_count %d above max_retries %d", j.RetryCount, j.MaxRetries))
	}
	return nil
}

// AttemptsLeft reports whether the job may still be claimed for another run.
func (j *Job) AttemptsLeft() bool {
	return j.RetryCount < j.MaxRetries
}

// IsTerminal returns true once the job can no longer change state.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted ||
		j.Status == JobStatusFailed ||
		j.Status == JobStatusCancelled
}

// Duration returns the wall-clock time of the last attempt.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	return end.Sub(*j.StartedAt)
}

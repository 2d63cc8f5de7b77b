package core

import (
	"encoding/json"
	"time"
)

// TaskID identifies a dashboard task driving a content-production workflow.
type TaskID string

// TaskStatus represents the dashboard-visible lifecycle of a task.
type TaskStatus string

const (
	TaskStatusPending         TaskStatus = "pending"
	TaskStatusRunning         TaskStatus = "running"
	TaskStatusWaitingApproval TaskStatus = "waiting_approval"
	TaskStatusCompleted       TaskStatus = "completed"
	TaskStatusFailed          TaskStatus = "failed"
)

// Task is the unit of client work an execution runs against. The dashboard
// creates and reads tasks; the workflow engine owns status transitions while
// an execution is running.
type Task struct {
	ID        TaskID
	ClientID  string
	Title     string
	Status    TaskStatus
	Input     json.RawMessage
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTask creates a pending task.
func NewTask(id TaskID, clientID, title string, input json.RawMessage) *Task {
	now := time.Now().UTC()
	if input == nil {
		input = json.RawMessage("{}")
	}
	return &Task{
		ID:        id,
		ClientID:  clientID,
		Title:     title,
		Status:    TaskStatusPending,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks task invariants.
func (t *Task) Validate() error {
	if t.ID == "" {
		return ErrValidation("TASK_ID_REQUIRED", "task ID cannot be empty")
	}
	return nil
}

// IsTerminal returns true for completed and failed tasks.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

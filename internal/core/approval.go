package core

import "time"

// ApprovalID identifies a human decision record.
type ApprovalID string

// ApprovalStatus represents the decision state of an approval.
type ApprovalStatus string

const (
	ApprovalStatusPending           ApprovalStatus = "pending"
	ApprovalStatusApproved          ApprovalStatus = "approved"
	ApprovalStatusRejected          ApprovalStatus = "rejected"
	ApprovalStatusRevisionRequested ApprovalStatus = "revision_requested"
)

// ApprovalDecision is the set of resolutions a reviewer may submit.
var ApprovalDecisions = map[ApprovalStatus]bool{
	ApprovalStatusApproved:          true,
	ApprovalStatusRejected:          true,
	ApprovalStatusRevisionRequested: true,
}

// Approval gates one approval-kind step execution on an external decision.
// At most one pending approval exists per (execution, step_index); the store
// enforces this with a partial unique index.
type Approval struct {
	ID          ApprovalID
	TaskID      TaskID
	ExecutionID ExecutionID
	StepIndex   int
	Status      ApprovalStatus
	Notes       string
	Responder   string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// NewApproval creates a pending approval for the given gate.
func NewApproval(id ApprovalID, taskID TaskID, execID ExecutionID, stepIndex int) *Approval {
	return &Approval{
		ID:          id,
		TaskID:      taskID,
		ExecutionID: execID,
		StepIndex:   stepIndex,
		Status:      ApprovalStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// IsPending reports whether the approval still awaits a decision.
func (a *Approval) IsPending() bool {
	return a.Status == ApprovalStatusPending
}

package core

import (
	"context"
	"encoding/json"
	"time"
)

// =============================================================================
// Provider Port
// =============================================================================

// Message represents a single message in a provider conversation.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ProviderRequest configures one model invocation.
type ProviderRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// ProviderResult is the raw outcome of a successful model invocation.
type ProviderResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Provider is the contract a capability backend must satisfy. Adapters
// translate the request into a vendor API call; failures are reported as
// DomainErrors so callers can classify them.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// Invoke runs one model call. Implementations must honor the request
	// timeout and the context.
	Invoke(ctx context.Context, req ProviderRequest) (*ProviderResult, error)
}

// =============================================================================
// Store Ports
// =============================================================================

// JobStore owns the persisted job queue. ClaimJob and ReapStaleJobs are the
// only operations that move jobs between queued and running; both are atomic
// at the storage layer.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id JobID) (*Job, error)
	ListJobs(ctx context.Context, status JobStatus, limit int) ([]*Job, error)

	// ClaimJob atomically selects the oldest eligible queued job, marks it
	// running under workerID and increments its retry count. Returns
	// (nil, nil) when no job is eligible.
	ClaimJob(ctx context.Context, workerID string) (*Job, error)

	// CompleteJob records a successful attempt.
	CompleteJob(ctx context.Context, id JobID, output json.RawMessage) error

	// FailJob records a terminal failure.
	FailJob(ctx context.Context, id JobID, errMsg string) error

	// RequeueJob returns a running job to the queue for a later attempt.
	RequeueJob(ctx context.Context, id JobID, errMsg string, runAfter time.Time) error

	// CancelJob cancels a queued job. Running jobs cannot be cancelled.
	CancelJob(ctx context.Context, id JobID) error

	// RetryJob puts a terminally failed or cancelled job back on the queue
	// with a fresh attempt budget.
	RetryJob(ctx context.Context, id JobID) (*Job, error)

	// ReapStaleJobs requeues running jobs whose lock is older than timeout
	// and returns them. Idempotent.
	ReapStaleJobs(ctx context.Context, timeout time.Duration) ([]*Job, error)
}

// WorkflowStore owns definitions, executions, step executions, approvals and
// tasks. All workflow mutation flows through the engine; the dashboard layer
// only reads these records and submits approval decisions.
type WorkflowStore interface {
	SaveDefinition(ctx context.Context, def *WorkflowDefinition) error
	GetDefinition(ctx context.Context, id string, version int) (*WorkflowDefinition, error)
	LatestDefinition(ctx context.Context, id string) (*WorkflowDefinition, error)
	ListDefinitions(ctx context.Context) ([]*WorkflowDefinition, error)

	CreateExecution(ctx context.Context, exec *WorkflowExecution) error
	GetExecution(ctx context.Context, id ExecutionID) (*WorkflowExecution, error)
	UpdateExecution(ctx context.Context, exec *WorkflowExecution) error

	// UpsertStep writes the single row for (execution, step_index).
	UpsertStep(ctx context.Context, step *StepExecution) error
	GetStep(ctx context.Context, execID ExecutionID, index int) (*StepExecution, error)
	GetStepByJob(ctx context.Context, jobID JobID) (*StepExecution, error)
	ListSteps(ctx context.Context, execID ExecutionID) ([]*StepExecution, error)

	CreateApproval(ctx context.Context, approval *Approval) error
	GetApproval(ctx context.Context, id ApprovalID) (*Approval, error)
	ListApprovals(ctx context.Context, status ApprovalStatus) ([]*Approval, error)

	// ResolveApproval performs the pending→resolved compare-and-set.
	// Returns false when the approval was not pending.
	ResolveApproval(ctx context.Context, id ApprovalID, decision ApprovalStatus, notes, responder string) (bool, error)

	// ReopenApproval reverts a resolved approval to pending. Used only by
	// the resolution handler's compensation path.
	ReopenApproval(ctx context.Context, id ApprovalID) error

	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id TaskID) (*Task, error)
	UpdateTaskStatus(ctx context.Context, id TaskID, status TaskStatus, errMsg string) error
}

// Store combines the persistence ports over one database.
type Store interface {
	JobStore
	WorkflowStore
	Close() error
}

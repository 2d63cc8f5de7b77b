package events

// Event type constants for job events.
const (
	TypeJobEnqueued  = "job_enqueued"
	TypeJobClaimed   = "job_claimed"
	TypeJobCompleted = "job_completed"
	TypeJobRequeued  = "job_requeued"
	TypeJobFailed    = "job_failed"
	TypeJobReaped    = "job_reaped"
)

// Event type constants for execution events.
const (
	TypeExecutionStarted   = "execution_started"
	TypeStepStarted        = "step_started"
	TypeStepCompleted      = "step_completed"
	TypeStepSkipped        = "step_skipped"
	TypeExecutionCompleted = "execution_completed"
	TypeExecutionFailed    = "execution_failed"
)

// Event type constants for approval events.
const (
	TypeApprovalRequested = "approval_requested"
	TypeApprovalResolved  = "approval_resolved"
)

// JobEvent covers the job lifecycle.
type JobEvent struct {
	BaseEvent
	JobID      string `json:"job_id"`
	TaskID     string `json:"task_id"`
	Capability string `json:"capability,omitempty"`
	WorkerID   string `json:"worker_id,omitempty"`
	RetryCount int    `json:"retry_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewJobEvent creates a job lifecycle event.
func NewJobEvent(eventType, jobID, taskID string) JobEvent {
	return JobEvent{
		BaseEvent: NewBaseEvent(eventType, ""),
		JobID:     jobID,
		TaskID:    taskID,
	}
}

// WithWorker attaches the claiming worker.
func (e JobEvent) WithWorker(workerID string) JobEvent {
	e.WorkerID = workerID
	return e
}

// WithRetry attaches the attempt counter.
func (e JobEvent) WithRetry(n int) JobEvent {
	e.RetryCount = n
	return e
}

// WithError attaches a failure message.
func (e JobEvent) WithError(msg string) JobEvent {
	e.Error = msg
	return e
}

// StepEvent covers step transitions within an execution.
type StepEvent struct {
	BaseEvent
	TaskID    string `json:"task_id"`
	StepIndex int    `json:"step_index"`
	StepName  string `json:"step_name"`
	Kind      string `json:"kind"`
	Error     string `json:"error,omitempty"`
}

// NewStepEvent creates a step transition event.
func NewStepEvent(eventType, executionID, taskID string, index int, name, kind string) StepEvent {
	return StepEvent{
		BaseEvent: NewBaseEvent(eventType, executionID),
		TaskID:    taskID,
		StepIndex: index,
		StepName:  name,
		Kind:      kind,
	}
}

// ExecutionEvent covers execution lifecycle transitions.
type ExecutionEvent struct {
	BaseEvent
	TaskID       string `json:"task_id"`
	DefinitionID string `json:"definition_id"`
	Error        string `json:"error,omitempty"`
}

// NewExecutionEvent creates an execution lifecycle event.
func NewExecutionEvent(eventType, executionID, taskID, definitionID string) ExecutionEvent {
	return ExecutionEvent{
		BaseEvent:    NewBaseEvent(eventType, executionID),
		TaskID:       taskID,
		DefinitionID: definitionID,
	}
}

// ApprovalEvent covers approval gates.
type ApprovalEvent struct {
	BaseEvent
	ApprovalID string `json:"approval_id"`
	TaskID     string `json:"task_id"`
	StepIndex  int    `json:"step_index"`
	Decision   string `json:"decision,omitempty"`
	Responder  string `json:"responder,omitempty"`
}

// NewApprovalEvent creates an approval gate event.
func NewApprovalEvent(eventType, approvalID, executionID, taskID string, stepIndex int) ApprovalEvent {
	return ApprovalEvent{
		BaseEvent:  NewBaseEvent(eventType, executionID),
		ApprovalID: approvalID,
		TaskID:     taskID,
		StepIndex:  stepIndex,
	}
}

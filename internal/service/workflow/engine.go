package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/flowforge/internal/core"
	"github.com/hugo-lorenzo-mato/flowforge/internal/events"
	"github.com/hugo-lorenzo-mato/flowforge/internal/logging"
)

// Engine drives workflow executions through their definitions. All progress
// funnels through runFrom: the start trigger, job settlement callbacks and
// approval resolutions all position the cursor and re-enter the same loop.
type Engine struct {
	store      core.Store
	publisher  *Publisher
	bus        *events.EventBus
	logger     *logging.Logger
	newID      func() string
	maxRetries int
}

// EngineOption configures optional engine behavior.
type EngineOption func(*Engine)

// WithDefaultMaxRetries sets the attempt budget for jobs whose step does not
// declare its own max_retries.
func WithDefaultMaxRetries(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// NewEngine creates an engine.
func NewEngine(store core.Store, publisher *Publisher, bus *events.EventBus, logger *logging.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	e := &Engine{
		store:     store,
		publisher: publisher,
		bus:       bus,
		logger:    logger,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartExecution begins a new execution of the latest definition version for
// a task and advances it as far as it can go synchronously.
func (e *Engine) StartExecution(ctx context.Context, taskID core.TaskID, definitionID string) (*core.WorkflowExecution, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.IsTerminal() {
		return nil, core.ErrState(core.CodeInvalidState,
			fmt.Sprintf("task %s is %s and cannot start a workflow", taskID, task.Status))
	}

	def, err := e.store.LatestDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}

	exec := core.NewExecution(core.ExecutionID(e.newID()), taskID, def)
	now := time.Now().UTC()
	exec.Status = core.ExecutionStatusRunning
	exec.StartedAt = &now
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	if err := e.store.UpdateTaskStatus(ctx, taskID, core.TaskStatusRunning, ""); err != nil {
		return nil, err
	}

	e.logger.WithExecution(string(exec.ID)).Info("execution started",
		"task_id", taskID, "definition", def.ID, "version", def.Version)
	e.publish(events.NewExecutionEvent(events.TypeExecutionStarted, string(exec.ID), string(taskID), def.ID))

	if err := e.runFrom(ctx, exec, def, task); err != nil {
		return nil, err
	}
	return exec, nil
}

// Resume re-enters the step loop for an existing execution, loading whatever
// state runFrom needs.
func (e *Engine) Resume(ctx context.Context, execID core.ExecutionID) error {
	exec, def, task, err := e.load(ctx, execID)
	if err != nil {
		return err
	}
	return e.runFrom(ctx, exec, def, task)
}

// load fetches the execution with its pinned definition version and task.
func (e *Engine) load(ctx context.Context, execID core.ExecutionID) (*core.WorkflowExecution, *core.WorkflowDefinition, *core.Task, error) {
	exec, err := e.store.GetExecution(ctx, execID)
	if err != nil {
		return nil, nil, nil, err
	}
	def, err := e.store.GetDefinition(ctx, exec.DefinitionID, exec.DefinitionVersion)
	if err != nil {
		return nil, nil, nil, err
	}
	task, err := e.store.GetTask(ctx, exec.TaskID)
	if err != nil {
		return nil, nil, nil, err
	}
	return exec, def, task, nil
}

// runFrom processes steps starting at the execution's cursor until it blocks
// on a job or approval, finishes, or fails. Steps run strictly in index
// order.
func (e *Engine) runFrom(ctx context.Context, exec *core.WorkflowExecution, def *core.WorkflowDefinition, task *core.Task) error {
	logger := e.logger.WithExecution(string(exec.ID))

	for exec.CurrentStep < exec.TotalSteps {
		spec := &def.Steps[exec.CurrentStep]

		switch spec.Kind {
		case core.StepKindAI:
			return e.startAIStep(ctx, exec, task, spec, "")

		case core.StepKindApproval:
			return e.startApprovalStep(ctx, exec, task, spec)

		case core.StepKindPublish:
			if err := e.runPublishStep(ctx, exec, spec); err != nil {
				return e.failExecution(ctx, exec, exec.CurrentStep, err.Error())
			}

		case core.StepKindCustom:
			if err := e.runCustomStep(ctx, exec, spec); err != nil {
				return e.failExecution(ctx, exec, exec.CurrentStep, err.Error())
			}

		default:
			return e.failExecution(ctx, exec, exec.CurrentStep,
				fmt.Sprintf("unknown step kind %q", spec.Kind))
		}
	}

	// Cursor ran off the end: the execution is done.
	now := time.Now().UTC()
	exec.Status = core.ExecutionStatusCompleted
	exec.CompletedAt = &now
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	if err := e.store.UpdateTaskStatus(ctx, exec.TaskID, core.TaskStatusCompleted, ""); err != nil {
		return err
	}
	logger.Info("execution completed", "steps", exec.TotalSteps)
	e.publish(events.NewExecutionEvent(events.TypeExecutionCompleted, string(exec.ID), string(exec.TaskID), exec.DefinitionID))
	return nil
}

// startAIStep records the step, enqueues its job and returns control. The
// next transition happens when the job settles.
func (e *Engine) startAIStep(ctx context.Context, exec *core.WorkflowExecution, task *core.Task, spec *core.StepSpec, revisionNotes string) error {
	input, err := MergeJobInput(task.Input, exec.Context, spec.StaticInput, revisionNotes)
	if err != nil {
		return e.failExecution(ctx, exec, exec.CurrentStep, err.Error())
	}

	job := core.NewJob(core.JobID(e.newID()), task.ID, spec.Capability, input)
	if spec.Provider != "" || spec.Model != "" {
		job = job.WithProvider(spec.Provider, spec.Model)
	}
	if spec.MaxRetries != nil {
		job = job.WithMaxRetries(*spec.MaxRetries)
	} else if e.maxRetries > 0 {
		job = job.WithMaxRetries(e.maxRetries)
	}
	if err := e.store.CreateJob(ctx, job); err != nil {
		return err
	}

	now := time.Now().UTC()
	step := core.NewStepExecution(e.newID(), exec.ID, exec.CurrentStep, spec)
	step.JobID = job.ID
	step.Status = core.StepStatusRunning
	step.Input = input
	step.StartedAt = &now
	if err := e.store.UpsertStep(ctx, step); err != nil {
		return err
	}

	exec.Status = core.ExecutionStatusRunning
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	if err := e.store.UpdateTaskStatus(ctx, task.ID, core.TaskStatusRunning, ""); err != nil {
		return err
	}

	e.logger.WithExecution(string(exec.ID)).Info("ai step enqueued",
		"step", spec.Name, "index", exec.CurrentStep, "job_id", job.ID, "capability", spec.Capability)
	e.publish(events.NewStepEvent(events.TypeStepStarted, string(exec.ID), string(task.ID),
		exec.CurrentStep, spec.Name, string(spec.Kind)))
	e.publish(events.NewJobEvent(events.TypeJobEnqueued, string(job.ID), string(task.ID)))
	return nil
}

// startApprovalStep opens a gate and halts until a decision arrives.
func (e *Engine) startApprovalStep(ctx context.Context, exec *core.WorkflowExecution, task *core.Task, spec *core.StepSpec) error {
	step := core.NewStepExecution(e.newID(), exec.ID, exec.CurrentStep, spec)
	if err := e.store.UpsertStep(ctx, step); err != nil {
		return err
	}

	approval := core.NewApproval(core.ApprovalID(e.newID()), task.ID, exec.ID, exec.CurrentStep)
	if err := e.store.CreateApproval(ctx, approval); err != nil {
		return err
	}

	exec.Status = core.ExecutionStatusWaitingApproval
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	if err := e.store.UpdateTaskStatus(ctx, task.ID, core.TaskStatusWaitingApproval, ""); err != nil {
		return err
	}

	e.logger.WithExecution(string(exec.ID)).Info("approval requested",
		"step", spec.Name, "index", exec.CurrentStep, "approval_id", approval.ID)
	e.publish(events.NewStepEvent(events.TypeStepStarted, string(exec.ID), string(task.ID),
		exec.CurrentStep, spec.Name, string(spec.Kind)))
	e.publish(events.NewApprovalEvent(events.TypeApprovalRequested, string(approval.ID),
		string(exec.ID), string(task.ID), exec.CurrentStep))
	return nil
}

// runPublishStep writes the artifact synchronously and advances the cursor.
func (e *Engine) runPublishStep(ctx context.Context, exec *core.WorkflowExecution, spec *core.StepSpec) error {
	if e.publisher == nil {
		return core.ErrValidation("PUBLISH_DIR_UNSET", "publish steps require a configured publisher")
	}

	artifactName := spec.ArtifactName
	if artifactName == "" {
		artifactName = spec.Name
	}
	path, err := e.publisher.Publish(artifactName, exec.ID, exec.Context)
	if err != nil {
		return err
	}

	output, err := json.Marshal(map[string]string{"artifact_path": path})
	if err != nil {
		return fmt.Errorf("encoding publish output: %w", err)
	}
	return e.completeSyncStep(ctx, exec, spec, core.StepStatusCompleted, output)
}

// runCustomStep evaluates the gating condition over the accumulated context.
// A false condition skips the step; there is no other side effect.
func (e *Engine) runCustomStep(ctx context.Context, exec *core.WorkflowExecution, spec *core.StepSpec) error {
	status := core.StepStatusCompleted
	if spec.Condition != nil {
		ctxMap, err := ContextMap(exec.Context)
		if err != nil {
			return err
		}
		if !spec.Condition.Evaluate(ctxMap) {
			status = core.StepStatusSkipped
		}
	}
	return e.completeSyncStep(ctx, exec, spec, status, nil)
}

// completeSyncStep records a synchronously settled step and advances.
func (e *Engine) completeSyncStep(ctx context.Context, exec *core.WorkflowExecution, spec *core.StepSpec, status core.StepStatus, output json.RawMessage) error {
	now := time.Now().UTC()
	step := core.NewStepExecution(e.newID(), exec.ID, exec.CurrentStep, spec)
	step.Status = status
	step.Output = output
	step.StartedAt = &now
	step.CompletedAt = &now
	if err := e.store.UpsertStep(ctx, step); err != nil {
		return err
	}

	if status == core.StepStatusCompleted && len(output) > 0 {
		merged, err := MergeStepOutput(exec.Context, spec.Name, output)
		if err != nil {
			return err
		}
		exec.Context = merged
	}

	eventType := events.TypeStepCompleted
	if status == core.StepStatusSkipped {
		eventType = events.TypeStepSkipped
	}
	e.logger.WithExecution(string(exec.ID)).Info("step settled",
		"step", spec.Name, "index", exec.CurrentStep, "status", status)
	e.publish(events.NewStepEvent(eventType, string(exec.ID), string(exec.TaskID),
		exec.CurrentStep, spec.Name, string(spec.Kind)))

	exec.CurrentStep++
	return e.store.UpdateExecution(ctx, exec)
}

// OnJobSucceeded resumes the owning execution when a job completes. Jobs
// whose step slot has since been redone (a stale revision attempt) resolve
// to no step and are ignored.
func (e *Engine) OnJobSucceeded(ctx context.Context, job *core.Job) error {
	step, err := e.store.GetStepByJob(ctx, job.ID)
	if err != nil {
		if core.IsCategory(err, core.ErrCatNotFound) {
			return nil
		}
		return err
	}

	exec, def, task, err := e.load(ctx, step.ExecutionID)
	if err != nil {
		return err
	}
	if exec.IsTerminal() || exec.CurrentStep != step.StepIndex {
		return nil
	}

	merged, err := MergeStepOutput(exec.Context, step.Name, job.Output)
	if err != nil {
		return e.failExecution(ctx, exec, step.StepIndex, err.Error())
	}
	exec.Context = merged

	now := time.Now().UTC()
	step.Status = core.StepStatusCompleted
	step.Output = job.Output
	step.CompletedAt = &now
	if err := e.store.UpsertStep(ctx, step); err != nil {
		return err
	}

	e.logger.WithExecution(string(exec.ID)).Info("step completed",
		"step", step.Name, "index", step.StepIndex, "job_id", job.ID)
	e.publish(events.NewStepEvent(events.TypeStepCompleted, string(exec.ID), string(task.ID),
		step.StepIndex, step.Name, string(step.Kind)))

	exec.CurrentStep++
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	return e.runFrom(ctx, exec, def, task)
}

// OnJobFailed propagates a terminal job failure to the step, execution and
// task. No rollback of prior steps: published side effects stay published.
func (e *Engine) OnJobFailed(ctx context.Context, job *core.Job, errMsg string) error {
	step, err := e.store.GetStepByJob(ctx, job.ID)
	if err != nil {
		if core.IsCategory(err, core.ErrCatNotFound) {
			return nil
		}
		return err
	}

	exec, err := e.store.GetExecution(ctx, step.ExecutionID)
	if err != nil {
		return err
	}
	if exec.IsTerminal() {
		return nil
	}

	now := time.Now().UTC()
	step.Status = core.StepStatusFailed
	step.Error = errMsg
	step.CompletedAt = &now
	if err := e.store.UpsertStep(ctx, step); err != nil {
		return err
	}
	return e.failExecution(ctx, exec, step.StepIndex, errMsg)
}

// failExecution records terminal failure on the execution and its task.
func (e *Engine) failExecution(ctx context.Context, exec *core.WorkflowExecution, stepIndex int, errMsg string) error {
	now := time.Now().UTC()
	exec.Status = core.ExecutionStatusFailed
	exec.Error = fmt.Sprintf("step %d: %s", stepIndex, errMsg)
	exec.CompletedAt = &now
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	if err := e.store.UpdateTaskStatus(ctx, exec.TaskID, core.TaskStatusFailed, exec.Error); err != nil {
		return err
	}

	e.logger.WithExecution(string(exec.ID)).Error("execution failed",
		"step_index", stepIndex, "error", errMsg)
	event := events.NewExecutionEvent(events.TypeExecutionFailed, string(exec.ID), string(exec.TaskID), exec.DefinitionID)
	event.Error = exec.Error
	e.publish(event)
	return nil
}

func (e *Engine) publish(event events.Event) {
	if e.bus != nil {
		e.bus.Publish(event)
	}
}

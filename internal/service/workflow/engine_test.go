package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/flowforge/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/flowforge/internal/core"
	"github.com/hugo-lorenzo-mato/flowforge/internal/logging"
)

type engineFixture struct {
	store  *state.SQLiteStore
	engine *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	dir := t.TempDir()
	store, err := state.NewSQLiteStore(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := NewEngine(store, NewPublisher(filepath.Join(dir, "published")), nil, logging.NewNop())
	// Deterministic IDs make failures readable.
	seq := 0
	engine.newID = func() string {
		seq++
		return fmt.Sprintf("id-%03d", seq)
	}
	return &engineFixture{store: store, engine: engine}
}

// pipelineDefinition is the three-step research/review/publish shape.
func pipelineDefinition(t *testing.T) *core.WorkflowDefinition {
	t.Helper()
	def := &core.WorkflowDefinition{
		ID:      "content-pipeline",
		Version: 1,
		Name:    "Content Pipeline",
		Steps: []core.StepSpec{
			{Name: "research", Kind: core.StepKindAI, Capability: "research_topic"},
			{Name: "review", Kind: core.StepKindApproval},
			{Name: "publish", Kind: core.StepKindPublish},
		},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, def.Validate())
	return def
}

func (f *engineFixture) seed(t *testing.T, def *core.WorkflowDefinition) *core.Task {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.SaveDefinition(ctx, def))
	task := core.NewTask("task-1", "client-1", "Q3 report", json.RawMessage(`{"topic": "earnings"}`))
	require.NoError(t, f.store.CreateTask(ctx, task))
	return task
}

// settleJob plays the worker's part for the single queued job: claim it,
// record the outcome, and fire the engine callback.
func (f *engineFixture) settleJob(t *testing.T, output json.RawMessage) *core.Job {
	t.Helper()
	ctx := context.Background()
	job, err := f.store.ClaimJob(ctx, "test-worker")
	require.NoError(t, err)
	require.NotNil(t, job, "expected a claimable job")
	require.NoError(t, f.store.CompleteJob(ctx, job.ID, output))
	job.Output = output
	job.Status = core.JobStatusCompleted
	require.NoError(t, f.engine.OnJobSucceeded(ctx, job))
	return job
}

func (f *engineFixture) pendingApproval(t *testing.T) *core.Approval {
	t.Helper()
	pending, err := f.store.ListApprovals(context.Background(), core.ApprovalStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1, "expected exactly one pending approval")
	return pending[0]
}

func TestDefaultMaxRetriesFromOption(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	WithDefaultMaxRetries(5)(f.engine)

	def := pipelineDefinition(t)
	stepBudget := 1
	def.Steps[0].MaxRetries = &stepBudget
	task := f.seed(t, def)

	_, err := f.engine.StartExecution(ctx, task.ID, "content-pipeline")
	require.NoError(t, err)

	// The step-level budget wins over the engine default.
	jobs, err := f.store.ListJobs(ctx, core.JobStatusQueued, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 1, jobs[0].MaxRetries)

	// A step without its own budget gets the configured default.
	redo, err := f.store.ClaimJob(ctx, "test-worker")
	require.NoError(t, err)
	require.NoError(t, f.store.FailJob(ctx, redo.ID, "boom"))

	second := core.NewTask("task-2", "client-1", "second run", nil)
	require.NoError(t, f.store.CreateTask(ctx, second))
	def.Steps[0].MaxRetries = nil
	def.Version = 2
	require.NoError(t, f.store.SaveDefinition(ctx, def))

	_, err = f.engine.StartExecution(ctx, second.ID, "content-pipeline")
	require.NoError(t, err)

	jobs, err = f.store.ListJobs(ctx, core.JobStatusQueued, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 5, jobs[0].MaxRetries)
}

func TestHappyPath(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	task := f.seed(t, pipelineDefinition(t))

	exec, err := f.engine.StartExecution(ctx, task.ID, "content-pipeline")
	require.NoError(t, err)

	// The ai step enqueued a job and returned control.
	got, err := f.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionStatusRunning, got.Status)
	assert.Equal(t, 0, got.CurrentStep)

	f.settleJob(t, json.RawMessage(`{"text": "research findings"}`))

	// The approval gate halted the run.
	got, err = f.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionStatusWaitingApproval, got.Status)
	assert.Equal(t, 1, got.CurrentStep)
	taskRow, err := f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusWaitingApproval, taskRow.Status)

	approval := f.pendingApproval(t)
	require.NoError(t, f.engine.ResolveApproval(ctx, approval.ID, core.ApprovalStatusApproved, "", "alice"))

	// Approval resumed the loop: publish ran synchronously and finished it.
	got, err = f.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionStatusCompleted, got.Status)
	assert.Equal(t, 3, got.CurrentStep)
	taskRow, err = f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusCompleted, taskRow.Status)

	// The research output survived into the context.
	assert.Contains(t, ContextKeys(got.Context), "research")
	assert.Contains(t, ContextKeys(got.Context), "publish")
}

func TestStepOrderingNoGaps(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	task := f.seed(t, pipelineDefinition(t))

	exec, err := f.engine.StartExecution(ctx, task.ID, "content-pipeline")
	require.NoError(t, err)
	f.settleJob(t, json.RawMessage(`{"text": "findings"}`))
	approval := f.pendingApproval(t)
	require.NoError(t, f.engine.ResolveApproval(ctx, approval.ID, core.ApprovalStatusApproved, "", "alice"))

	steps, err := f.store.ListSteps(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for i, step := range steps {
		assert.Equal(t, i, step.StepIndex)
		assert.Equal(t, core.StepStatusCompleted, step.Status)
	}
}

func TestRevisionLoop(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	task := f.seed(t, pipelineDefinition(t))

	exec, err := f.engine.StartExecution(ctx, task.ID, "content-pipeline")
	require.NoError(t, err)
	firstJob := f.settleJob(t, json.RawMessage(`{"text": "draft v1"}`))

	approval := f.pendingApproval(t)
	require.NoError(t, f.engine.ResolveApproval(ctx, approval.ID,
		core.ApprovalStatusRevisionRequested, "shorten intro", "alice"))

	// The cursor rewound to the ai step and a fresh job carries the notes.
	got, err := f.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentStep)
	assert.Equal(t, core.ExecutionStatusRunning, got.Status)

	queued, err := f.store.ListJobs(ctx, core.JobStatusQueued, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.NotEqual(t, firstJob.ID, queued[0].ID)
	var input map[string]any
	require.NoError(t, json.Unmarshal(queued[0].Input, &input))
	assert.Equal(t, "shorten intro", input["revision_notes"])

	// The first gate stays resolved rather than being reused.
	resolved, err := f.store.GetApproval(ctx, approval.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ApprovalStatusRevisionRequested, resolved.Status)

	// Completing the redone step opens a brand-new gate.
	f.settleJob(t, json.RawMessage(`{"text": "draft v2"}`))
	second := f.pendingApproval(t)
	assert.NotEqual(t, approval.ID, second.ID)

	// Approving the new gate completes the run.
	require.NoError(t, f.engine.ResolveApproval(ctx, second.ID, core.ApprovalStatusApproved, "", "alice"))
	got, err = f.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionStatusCompleted, got.Status)
}

func TestRejectionFailsExecution(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	task := f.seed(t, pipelineDefinition(t))

	exec, err := f.engine.StartExecution(ctx, task.ID, "content-pipeline")
	require.NoError(t, err)
	f.settleJob(t, json.RawMessage(`{"text": "draft"}`))

	approval := f.pendingApproval(t)
	require.NoError(t, f.engine.ResolveApproval(ctx, approval.ID, core.ApprovalStatusRejected, "not good", "alice"))

	got, err := f.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionStatusFailed, got.Status)

	step, err := f.store.GetStep(ctx, exec.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, core.StepStatusFailed, step.Status)
	assert.Equal(t, "rejected by reviewer", step.Error)

	taskRow, err := f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusFailed, taskRow.Status)
}

func TestDoubleResolveConflicts(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	task := f.seed(t, pipelineDefinition(t))

	_, err := f.engine.StartExecution(ctx, task.ID, "content-pipeline")
	require.NoError(t, err)
	f.settleJob(t, json.RawMessage(`{"text": "draft"}`))
	approval := f.pendingApproval(t)

	require.NoError(t, f.engine.ResolveApproval(ctx, approval.ID, core.ApprovalStatusApproved, "", "alice"))

	err = f.engine.ResolveApproval(ctx, approval.ID, core.ApprovalStatusRejected, "", "bob")
	assert.True(t, core.IsCategory(err, core.ErrCatConflict))
}

func TestJobFailurePropagates(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	task := f.seed(t, pipelineDefinition(t))

	exec, err := f.engine.StartExecution(ctx, task.ID, "content-pipeline")
	require.NoError(t, err)

	job, err := f.store.ClaimJob(ctx, "test-worker")
	require.NoError(t, err)
	require.NoError(t, f.store.FailJob(ctx, job.ID, "retries exhausted: provider down"))
	require.NoError(t, f.engine.OnJobFailed(ctx, job, "retries exhausted: provider down"))

	got, err := f.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionStatusFailed, got.Status)
	assert.Contains(t, got.Error, "provider down")

	step, err := f.store.GetStep(ctx, exec.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, core.StepStatusFailed, step.Status)

	taskRow, err := f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusFailed, taskRow.Status)
	assert.Contains(t, taskRow.Error, "provider down")
}

func TestStaleJobCallbackIgnored(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	task := f.seed(t, pipelineDefinition(t))

	_, err := f.engine.StartExecution(ctx, task.ID, "content-pipeline")
	require.NoError(t, err)
	firstJob := f.settleJob(t, json.RawMessage(`{"text": "draft v1"}`))

	// A revision replaces the step's job.
	approval := f.pendingApproval(t)
	require.NoError(t, f.engine.ResolveApproval(ctx, approval.ID,
		core.ApprovalStatusRevisionRequested, "redo", "alice"))

	// The stale job's late callback resolves to no step and is dropped.
	require.NoError(t, f.engine.OnJobSucceeded(ctx, firstJob))

	queued, err := f.store.ListJobs(ctx, core.JobStatusQueued, 10)
	require.NoError(t, err)
	assert.Len(t, queued, 1, "the redo job must still be the only queued work")
}

func TestCustomStepConditionSkips(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	def := &core.WorkflowDefinition{
		ID:      "conditional",
		Version: 1,
		Name:    "Conditional",
		Steps: []core.StepSpec{
			{Name: "research", Kind: core.StepKindAI, Capability: "research_topic"},
			{Name: "escalate", Kind: core.StepKindCustom, Condition: &core.Condition{
				Field: "research.data.score", Op: core.OpGreaterThan, Value: 5,
			}},
		},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, def.Validate())
	task := f.seed(t, def)

	exec, err := f.engine.StartExecution(ctx, task.ID, "conditional")
	require.NoError(t, err)
	f.settleJob(t, json.RawMessage(`{"data": {"score": 3}}`))

	got, err := f.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionStatusCompleted, got.Status)

	step, err := f.store.GetStep(ctx, exec.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, core.StepStatusSkipped, step.Status)
}

func TestStartExecutionUnknownDefinition(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	task := core.NewTask("task-1", "client-1", "Q3", nil)
	require.NoError(t, f.store.CreateTask(ctx, task))

	_, err := f.engine.StartExecution(ctx, task.ID, "missing-pipeline")
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestStartExecutionPinsVersion(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	task := f.seed(t, pipelineDefinition(t))

	exec, err := f.engine.StartExecution(ctx, task.ID, "content-pipeline")
	require.NoError(t, err)

	// A new version lands while the execution is in flight.
	v2 := pipelineDefinition(t)
	v2.Version = 2
	v2.Steps = v2.Steps[:1]
	require.NoError(t, f.store.SaveDefinition(ctx, v2))

	got, err := f.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.DefinitionVersion)
	assert.Equal(t, 3, got.TotalSteps)
}

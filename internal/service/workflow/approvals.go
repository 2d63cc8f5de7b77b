package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/flowforge/internal/core"
	"github.com/hugo-lorenzo-mato/flowforge/internal/events"
)

// ResolveApproval applies a reviewer decision to a pending approval gate.
//
// The pending→resolved transition is a compare-and-set, so two concurrent
// resolutions cannot both win. The per-decision write chain that follows is
// a compensating sequence, not a transaction: if any downstream write fails,
// the approval (and the task status) are reverted to pending and the caller
// gets a retryable conflict, never a half-applied resolution.
func (e *Engine) ResolveApproval(ctx context.Context, approvalID core.ApprovalID, decision core.ApprovalStatus, notes, responder string) error {
	if !core.ApprovalDecisions[decision] {
		return core.ErrValidation("APPROVAL_DECISION_INVALID",
			fmt.Sprintf("invalid approval decision %q", decision))
	}

	approval, err := e.store.GetApproval(ctx, approvalID)
	if err != nil {
		return err
	}

	exec, def, task, err := e.load(ctx, approval.ExecutionID)
	if err != nil {
		return err
	}
	if approval.StepIndex >= len(def.Steps) {
		return core.ErrState(core.CodeInvalidState,
			fmt.Sprintf("approval %s points past the definition (step %d of %d)",
				approvalID, approval.StepIndex, len(def.Steps)))
	}
	priorTaskStatus := task.Status

	won, err := e.store.ResolveApproval(ctx, approvalID, decision, notes, responder)
	if err != nil {
		return err
	}
	if !won {
		return core.ErrConflict(core.CodeApprovalResolved,
			fmt.Sprintf("approval %s is no longer pending", approvalID))
	}

	e.logger.WithExecution(string(exec.ID)).Info("approval resolved",
		"approval_id", approvalID, "decision", decision, "responder", responder)
	event := events.NewApprovalEvent(events.TypeApprovalResolved, string(approvalID),
		string(exec.ID), string(task.ID), approval.StepIndex)
	event.Decision = string(decision)
	event.Responder = responder
	e.publish(event)

	var chainErr error
	switch decision {
	case core.ApprovalStatusApproved:
		chainErr = e.applyApproved(ctx, exec, def, task, approval)
	case core.ApprovalStatusRejected:
		chainErr = e.applyRejected(ctx, exec, def, approval)
	case core.ApprovalStatusRevisionRequested:
		chainErr = e.applyRevision(ctx, exec, def, task, approval, notes)
	}
	if chainErr == nil {
		return nil
	}

	// Compensation: put the gate (and the task) back the way the caller
	// found them so the identical request can be retried.
	e.logger.WithExecution(string(exec.ID)).Error("approval chain failed, reverting",
		"approval_id", approvalID, "error", chainErr)
	if err := e.store.ReopenApproval(ctx, approvalID); err != nil {
		e.logger.Error("reverting approval failed", "approval_id", approvalID, "error", err)
	}
	if err := e.store.UpdateTaskStatus(ctx, task.ID, priorTaskStatus, ""); err != nil {
		e.logger.Error("reverting task status failed", "task_id", task.ID, "error", err)
	}
	domErr := core.ErrConflict(core.CodeResolutionReverted,
		fmt.Sprintf("resolution of approval %s was reverted, retry the request", approvalID))
	domErr.Cause = chainErr
	return domErr
}

// applyApproved closes the gate's step and resumes the step loop past it.
func (e *Engine) applyApproved(ctx context.Context, exec *core.WorkflowExecution, def *core.WorkflowDefinition, task *core.Task, approval *core.Approval) error {
	step, err := e.store.GetStep(ctx, exec.ID, approval.StepIndex)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	step.Status = core.StepStatusCompleted
	step.CompletedAt = &now
	if err := e.store.UpsertStep(ctx, step); err != nil {
		return err
	}
	e.publish(events.NewStepEvent(events.TypeStepCompleted, string(exec.ID), string(task.ID),
		approval.StepIndex, step.Name, string(step.Kind)))

	exec.CurrentStep = approval.StepIndex + 1
	exec.Status = core.ExecutionStatusRunning
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	if err := e.store.UpdateTaskStatus(ctx, task.ID, core.TaskStatusRunning, ""); err != nil {
		return err
	}
	return e.runFrom(ctx, exec, def, task)
}

// applyRejected fails the gate's step and the whole execution.
func (e *Engine) applyRejected(ctx context.Context, exec *core.WorkflowExecution, def *core.WorkflowDefinition, approval *core.Approval) error {
	step, err := e.store.GetStep(ctx, exec.ID, approval.StepIndex)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	step.Status = core.StepStatusFailed
	step.Error = "rejected by reviewer"
	step.CompletedAt = &now
	if err := e.store.UpsertStep(ctx, step); err != nil {
		return err
	}
	return e.failExecution(ctx, exec, approval.StepIndex, "rejected by reviewer")
}

// applyRevision rewinds to the ai step preceding the gate and redoes it with
// the reviewer's notes merged into the input. The resolved gate stays
// resolved; the redone step will open a fresh one when it completes.
func (e *Engine) applyRevision(ctx context.Context, exec *core.WorkflowExecution, def *core.WorkflowDefinition, task *core.Task, approval *core.Approval, notes string) error {
	aiIndex := -1
	for i := approval.StepIndex - 1; i >= 0; i-- {
		if def.Steps[i].Kind == core.StepKindAI {
			aiIndex = i
			break
		}
	}
	if aiIndex < 0 {
		return core.ErrState(core.CodeInvalidState,
			fmt.Sprintf("no ai step precedes the gate at step %d, revision is impossible", approval.StepIndex))
	}

	exec.CurrentStep = aiIndex
	return e.startAIStep(ctx, exec, task, &def.Steps[aiIndex], notes)
}

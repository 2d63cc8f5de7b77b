package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/flowforge/internal/core"
)

// advanceToGate starts an execution and settles the research job so the run
// is parked on its approval gate.
func (f *apiFixture) advanceToGate(t *testing.T) (executionDTO, approvalDTO) {
	t.Helper()
	f.seedPipeline(t)

	rec := f.do(t, http.MethodPost, "/api/v1/executions", map[string]any{
		"definition_id": "content-pipeline",
		"title":         "Q3 report",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var exec executionDTO
	decodeBody(t, rec, &exec)

	ctx := context.Background()
	job, err := f.store.ClaimJob(ctx, "test-worker")
	require.NoError(t, err)
	require.NotNil(t, job)
	output := json.RawMessage(`{"text": "findings"}`)
	require.NoError(t, f.store.CompleteJob(ctx, job.ID, output))
	job.Output = output
	job.Status = core.JobStatusCompleted
	require.NoError(t, f.server.engine.OnJobSucceeded(ctx, job))

	rec = f.do(t, http.MethodGet, "/api/v1/approvals?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Approvals []approvalDTO `json:"approvals"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Approvals, 1)
	return exec, body.Approvals[0]
}

func TestResolveApprovalApproved(t *testing.T) {
	f := newAPIFixture(t)
	exec, approval := f.advanceToGate(t)

	rec := f.do(t, http.MethodPost, "/api/v1/approvals/"+approval.ID+"/resolve", map[string]any{
		"decision":  "approved",
		"responder": "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resolved approvalDTO
	decodeBody(t, rec, &resolved)
	assert.Equal(t, "approved", resolved.Status)
	assert.Equal(t, "alice", resolved.Responder)
	assert.NotNil(t, resolved.ResolvedAt)

	rec = f.do(t, http.MethodGet, "/api/v1/executions/"+exec.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got executionDTO
	decodeBody(t, rec, &got)
	assert.Equal(t, "completed", got.Status)
}

func TestResolveApprovalTwiceConflicts(t *testing.T) {
	f := newAPIFixture(t)
	_, approval := f.advanceToGate(t)

	rec := f.do(t, http.MethodPost, "/api/v1/approvals/"+approval.ID+"/resolve", map[string]any{
		"decision": "approved",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/approvals/"+approval.ID+"/resolve", map[string]any{
		"decision": "rejected",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var body errorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, core.CodeApprovalResolved, body.Code)
}

func TestResolveApprovalInvalidDecision(t *testing.T) {
	f := newAPIFixture(t)
	_, approval := f.advanceToGate(t)

	rec := f.do(t, http.MethodPost, "/api/v1/approvals/"+approval.ID+"/resolve", map[string]any{
		"decision": "maybe",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestResolveApprovalRevision(t *testing.T) {
	f := newAPIFixture(t)
	exec, approval := f.advanceToGate(t)

	rec := f.do(t, http.MethodPost, "/api/v1/approvals/"+approval.ID+"/resolve", map[string]any{
		"decision":  "revision_requested",
		"notes":     "shorten intro",
		"responder": "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/executions/"+exec.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got executionDTO
	decodeBody(t, rec, &got)
	assert.Equal(t, "running", got.Status)
	assert.Equal(t, 0, got.CurrentStep)
}

func TestResolveApprovalNotFound(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/approvals/missing/resolve", map[string]any{
		"decision": "approved",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

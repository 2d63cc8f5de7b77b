package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/flowforge/internal/core"
)

func (f *apiFixture) seedJob(t *testing.T, id core.JobID) {
	t.Helper()
	require.NoError(t, f.store.CreateJob(context.Background(),
		core.NewJob(id, "task-1", "research_topic", nil)))
}

func TestListJobsFiltered(t *testing.T) {
	f := newAPIFixture(t)
	f.seedJob(t, "job-1")
	f.seedJob(t, "job-2")
	_, err := f.store.ClaimJob(context.Background(), "worker-1")
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/v1/jobs?status=queued", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Jobs []jobDTO `json:"jobs"`
	}
	decodeBody(t, rec, &body)
	assert.Len(t, body.Jobs, 1)

	rec = f.do(t, http.MethodGet, "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &body)
	assert.Len(t, body.Jobs, 2)
}

func TestListJobsInvalidLimit(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/jobs?limit=zero", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetJob(t *testing.T) {
	f := newAPIFixture(t)
	f.seedJob(t, "job-1")

	rec := f.do(t, http.MethodGet, "/api/v1/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body jobDTO
	decodeBody(t, rec, &body)
	assert.Equal(t, "research_topic", body.Capability)

	rec = f.do(t, http.MethodGet, "/api/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequeueFailedJob(t *testing.T) {
	f := newAPIFixture(t)
	f.seedJob(t, "job-1")
	ctx := context.Background()
	claimed, err := f.store.ClaimJob(ctx, "worker-1")
	require.NoError(t, err)
	require.NoError(t, f.store.FailJob(ctx, claimed.ID, "provider down"))

	rec := f.do(t, http.MethodPost, "/api/v1/jobs/job-1/requeue", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body jobDTO
	decodeBody(t, rec, &body)
	assert.Equal(t, "queued", body.Status)
	assert.Equal(t, 0, body.RetryCount)
	assert.Empty(t, body.Error)
}

func TestRequeueQueuedJobRejected(t *testing.T) {
	f := newAPIFixture(t)
	f.seedJob(t, "job-1")

	rec := f.do(t, http.MethodPost, "/api/v1/jobs/job-1/requeue", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelQueuedJob(t *testing.T) {
	f := newAPIFixture(t)
	f.seedJob(t, "job-1")

	rec := f.do(t, http.MethodPost, "/api/v1/jobs/job-1/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body jobDTO
	decodeBody(t, rec, &body)
	assert.Equal(t, "cancelled", body.Status)
}

func TestCancelRunningJobRejected(t *testing.T) {
	f := newAPIFixture(t)
	f.seedJob(t, "job-1")
	_, err := f.store.ClaimJob(context.Background(), "worker-1")
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/v1/jobs/job-1/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

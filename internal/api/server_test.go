package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/flowforge/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/flowforge/internal/core"
	"github.com/hugo-lorenzo-mato/flowforge/internal/events"
	"github.com/hugo-lorenzo-mato/flowforge/internal/service/workflow"
)

type apiFixture struct {
	server *Server
	store  *state.SQLiteStore
	bus    *events.EventBus
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	dir := t.TempDir()
	store, err := state.NewSQLiteStore(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := events.New(64)
	engine := workflow.NewEngine(store, workflow.NewPublisher(filepath.Join(dir, "published")), bus, nil)
	server := NewServer(store, engine, bus)
	seq := 0
	server.newID = func() string {
		seq++
		return fmt.Sprintf("req-%03d", seq)
	}
	return &apiFixture{server: server, store: store, bus: bus}
}

func (f *apiFixture) seedPipeline(t *testing.T) {
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
	require.NoError(t, f.store.SaveDefinition(context.Background(), def))
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), "body: %s", rec.Body.String())
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestStartExecutionInlineTask(t *testing.T) {
	f := newAPIFixture(t)
	f.seedPipeline(t)

	rec := f.do(t, http.MethodPost, "/api/v1/executions", map[string]any{
		"definition_id": "content-pipeline",
		"title":         "Q3 report",
		"input":         map[string]string{"topic": "earnings"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body executionDTO
	decodeBody(t, rec, &body)
	assert.Equal(t, "running", body.Status)
	assert.Equal(t, 0, body.CurrentStep)
	assert.Equal(t, 3, body.TotalSteps)

	// The ai step's job landed on the queue.
	jobs, err := f.store.ListJobs(context.Background(), core.JobStatusQueued, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestStartExecutionExistingTask(t *testing.T) {
	f := newAPIFixture(t)
	f.seedPipeline(t)
	task := core.NewTask("task-1", "client-1", "Q3 report", nil)
	require.NoError(t, f.store.CreateTask(context.Background(), task))

	rec := f.do(t, http.MethodPost, "/api/v1/executions", map[string]any{
		"definition_id": "content-pipeline",
		"task_id":       "task-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body executionDTO
	decodeBody(t, rec, &body)
	assert.Equal(t, "task-1", body.TaskID)
}

func TestStartExecutionValidation(t *testing.T) {
	f := newAPIFixture(t)
	f.seedPipeline(t)

	rec := f.do(t, http.MethodPost, "/api/v1/executions", map[string]any{"title": "no definition"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/executions", map[string]any{"definition_id": "content-pipeline"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/executions", map[string]any{
		"definition_id": "missing-pipeline",
		"title":         "Q3",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetExecutionWithSteps(t *testing.T) {
	f := newAPIFixture(t)
	f.seedPipeline(t)

	rec := f.do(t, http.MethodPost, "/api/v1/executions", map[string]any{
		"definition_id": "content-pipeline",
		"title":         "Q3 report",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created executionDTO
	decodeBody(t, rec, &created)

	rec = f.do(t, http.MethodGet, "/api/v1/executions/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body executionDTO
	decodeBody(t, rec, &body)
	require.Len(t, body.Steps, 1)
	assert.Equal(t, "research", body.Steps[0].Name)
	assert.Equal(t, "running", body.Steps[0].Status)
}

func TestGetExecutionNotFound(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body errorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, "not_found", body.Category)
}

func TestListDefinitions(t *testing.T) {
	f := newAPIFixture(t)
	f.seedPipeline(t)

	rec := f.do(t, http.MethodGet, "/api/v1/definitions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Definitions []definitionDTO `json:"definitions"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Definitions, 1)
	assert.Equal(t, "content-pipeline", body.Definitions[0].ID)
	assert.Equal(t, 3, body.Definitions[0].Steps)
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/flowforge/internal/core"
)

// startExecutionRequest triggers a workflow run. Either an existing task_id
// or an inline title (plus optional input) must be given; the latter creates
// the task in the same request.
type startExecutionRequest struct {
	DefinitionID string          `json:"definition_id"`
	TaskID       string          `json:"task_id,omitempty"`
	ClientID     string          `json:"client_id,omitempty"`
	Title        string          `json:"title,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
}

func (s *Server) handleStartExecution(w http.ResponseWriter, r *http.Request) {
	var req startExecutionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.DefinitionID == "" {
		s.respondError(w, core.ErrValidation("DEFINITION_ID_REQUIRED", "definition_id is required"))
		return
	}

	ctx := r.Context()
	taskID := core.TaskID(req.TaskID)
	if taskID == "" {
		if req.Title == "" {
			s.respondError(w, core.ErrValidation("TASK_REQUIRED", "either task_id or title is required"))
			return
		}
		task := core.NewTask(core.TaskID(s.newID()), req.ClientID, req.Title, req.Input)
		if err := s.store.CreateTask(ctx, task); err != nil {
			s.respondError(w, err)
			return
		}
		taskID = task.ID
	}

	exec, err := s.engine.StartExecution(ctx, taskID, req.DefinitionID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	// Reload: the engine may already have advanced past synchronous steps.
	current, err := s.store.GetExecution(ctx, exec.ID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, toExecutionDTO(current, nil))
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	execID := core.ExecutionID(chi.URLParam(r, "executionID"))

	exec, err := s.store.GetExecution(ctx, execID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	steps, err := s.store.ListSteps(ctx, execID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toExecutionDTO(exec, steps))
}

func (s *Server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.store.ListDefinitions(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	dtos := make([]definitionDTO, 0, len(defs))
	for _, def := range defs {
		dtos = append(dtos, definitionDTO{
			ID:        def.ID,
			Version:   def.Version,
			Name:      def.Name,
			Steps:     len(def.Steps),
			CreatedAt: def.CreatedAt,
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"definitions": dtos})
}

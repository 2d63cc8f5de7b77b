package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/flowforge/internal/core"
)

type resolveApprovalRequest struct {
	Decision  string `json:"decision"`
	Notes     string `json:"notes,omitempty"`
	Responder string `json:"responder,omitempty"`
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	status := core.ApprovalStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = core.ApprovalStatusPending
	}

	approvals, err := s.store.ListApprovals(r.Context(), status)
	if err != nil {
		s.respondError(w, err)
		return
	}
	dtos := make([]approvalDTO, 0, len(approvals))
	for _, a := range approvals {
		dtos = append(dtos, toApprovalDTO(a))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"approvals": dtos})
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	approvalID := core.ApprovalID(chi.URLParam(r, "approvalID"))

	var req resolveApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	ctx := r.Context()
	err := s.engine.ResolveApproval(ctx, approvalID, core.ApprovalStatus(req.Decision), req.Notes, req.Responder)
	if err != nil {
		s.respondError(w, err)
		return
	}

	resolved, err := s.store.GetApproval(ctx, approvalID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toApprovalDTO(resolved))
}

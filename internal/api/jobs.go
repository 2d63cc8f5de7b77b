package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/flowforge/internal/core"
)

const defaultJobListLimit = 100

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := core.JobStatus(r.URL.Query().Get("status"))
	limit := defaultJobListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.respondError(w, core.ErrValidation("LIMIT_INVALID", "limit must be a positive integer"))
			return
		}
		limit = n
	}

	jobs, err := s.store.ListJobs(r.Context(), status, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	dtos := make([]jobDTO, 0, len(jobs))
	for _, j := range jobs {
		dtos = append(dtos, toJobDTO(j))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"jobs": dtos})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), core.JobID(chi.URLParam(r, "jobID")))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toJobDTO(job))
}

// handleRequeueJob puts a terminally failed or cancelled job back on the
// queue with a fresh attempt budget.
func (s *Server) handleRequeueJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.RetryJob(r.Context(), core.JobID(chi.URLParam(r, "jobID")))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toJobDTO(job))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := core.JobID(chi.URLParam(r, "jobID"))
	if err := s.store.CancelJob(ctx, jobID); err != nil {
		s.respondError(w, err)
		return
	}
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toJobDTO(job))
}

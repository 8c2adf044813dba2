package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/id/uuid"
	"github.com/JakeFAU/lcf-connectors/internal/jobs"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

type jobRequest struct {
	Connection string               `json:"connection" validate:"required"`
	Spec       crawler.DocumentSpec `json:"spec"`
	Mode       string               `json:"mode" validate:"omitempty,oneof=once continuous"`
	Limits     crawler.IndexLimits  `json:"limits"`
}

func (req jobRequest) parameters() crawler.JobParameters {
	mode := crawler.JobModeOnce
	if req.Mode == "continuous" {
		mode = crawler.JobModeContinuous
	}
	return crawler.JobParameters{
		Connection: req.Connection,
		Spec:       req.Spec,
		Mode:       mode,
		Limits:     req.Limits,
	}
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	job, err := s.jobs.Submit(r.Context(), req.parameters())
	if err != nil {
		if errors.Is(err, jobs.ErrNoConnection) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.fail(w, r, "failed to submit job", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	var status *crawler.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := crawler.JobStatus(raw)
		switch st {
		case crawler.JobStatusQueued, crawler.JobStatusRunning, crawler.JobStatusSucceeded,
			crawler.JobStatusFailed, crawler.JobStatusCanceled:
		default:
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		status = &st
	}
	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.jobs.List(r.Context(), status, limit, offset)
	if err != nil {
		s.fail(w, r, "failed to list jobs", err)
		return
	}
	if list == nil {
		list = []crawler.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		s.fail(w, r, "failed to load job", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	job, err := s.jobs.Cancel(r.Context(), jobID)
	if err != nil {
		s.fail(w, r, "failed to cancel job", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func jobIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	jobID := chi.URLParam(r, "job_id")
	if !uuid.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return "", false
	}
	return jobID, true
}

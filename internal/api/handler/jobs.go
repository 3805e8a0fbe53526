package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/appbuilder/internal/api/middleware"
	"github.com/kiranshivaraju/appbuilder/internal/api/response"
	"github.com/kiranshivaraju/appbuilder/internal/store"
	"github.com/kiranshivaraju/appbuilder/pkg/models"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// JobReader defines the interface the job handlers depend on.
type JobReader interface {
	GetJob(ctx context.Context, id, ownerKeyID uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, ownerKeyID uuid.UUID, limit int) ([]*models.Job, error)
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
// Jobs of other keys are reported as not found.
func NewGetJobHandler(svc JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keyID, ok := mw.GetKeyID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, "Missing API key", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "jobID must be a UUID", nil)
			return
		}

		job, err := svc.GetJob(r.Context(), jobID, keyID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, response.CodeNotFound, "Job not found", nil)
				return
			}
			slog.Error("get job", "job_id", jobID, "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal,
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, job)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(svc JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keyID, ok := mw.GetKeyID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, "Missing API key", nil)
			return
		}

		limit := defaultListLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest,
					"limit must be a positive integer", nil)
				return
			}
			limit = min(n, maxListLimit)
		}

		jobs, err := svc.ListJobs(r.Context(), keyID, limit)
		if err != nil {
			slog.Error("list jobs", "key_id", keyID, "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal,
				"An unexpected error occurred", nil)
			return
		}
		if jobs == nil {
			jobs = []*models.Job{}
		}

		response.List(w, jobs, response.ListMeta{Limit: limit, Count: len(jobs)})
	}
}

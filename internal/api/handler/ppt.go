package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/appbuilder/internal/api/middleware"
	"github.com/kiranshivaraju/appbuilder/internal/api/response"
	"github.com/kiranshivaraju/appbuilder/internal/components/ppt"
	"github.com/kiranshivaraju/appbuilder/pkg/models"
)

const maxJSONBody = 1 << 20

// PPTTrigger defines the interface the create handler depends on.
type PPTTrigger interface {
	TriggerPPT(ctx context.Context, ownerKeyID uuid.UUID, in ppt.Input) (*models.Job, error)
}

// NewCreatePPTHandler returns an http.HandlerFunc for POST /api/v1/ppt.
// The job runs in the background; the response carries the pending record.
func NewCreatePPTHandler(svc PPTTrigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keyID, ok := mw.GetKeyID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, "Missing API key", nil)
			return
		}

		var req ppt.Input
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
			return
		}

		job, err := svc.TriggerPPT(r.Context(), keyID, req)
		if err != nil {
			if errors.Is(err, ppt.ErrInvalidInput) {
				response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), nil)
				return
			}
			slog.Error("trigger ppt job", "key_id", keyID, "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal,
				"An unexpected error occurred", nil)
			return
		}

		w.Header().Set("Location", "/api/v1/jobs/"+job.ID.String())
		response.Accepted(w, job)
	}
}

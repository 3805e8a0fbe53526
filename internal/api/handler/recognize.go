package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/appbuilder/internal/api/response"
	"github.com/kiranshivaraju/appbuilder/internal/appbuilder"
	"github.com/kiranshivaraju/appbuilder/internal/components/objectrecognize"
)

// Images travel base64-encoded inside the JSON body.
const maxRecognizeBody = 10 << 20

// Recognizer defines the interface the recognize handler depends on.
type Recognizer interface {
	Recognize(ctx context.Context, req objectrecognize.Request) (*objectrecognize.Response, error)
}

type recognizeRequest struct {
	URL       string   `json:"url"`
	Image     []byte   `json:"image"`
	Threshold *float64 `json:"threshold"`
}

type recognizeResponse struct {
	RequestID string                       `json:"request_id"`
	LogID     string                       `json:"log_id"`
	Results   []objectrecognize.ToolResult `json:"results"`
	Items     []objectrecognize.Item       `json:"items"`
}

// NewRecognizeHandler returns an http.HandlerFunc for POST /api/v1/recognize.
func NewRecognizeHandler(svc Recognizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req recognizeRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxRecognizeBody)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
			return
		}

		threshold := objectrecognize.DefaultScoreThreshold
		if req.Threshold != nil {
			if *req.Threshold < 0 || *req.Threshold > 1 {
				response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest,
					"threshold must be between 0 and 1", nil)
				return
			}
			threshold = *req.Threshold
		}

		out, err := svc.Recognize(r.Context(), objectrecognize.Request{Image: req.Image, URL: req.URL})
		if err != nil {
			writeUpstreamError(w, err)
			return
		}

		items := out.Result
		if items == nil {
			items = []objectrecognize.Item{}
		}
		response.JSON(w, recognizeResponse{
			RequestID: out.RequestID,
			LogID:     out.LogID.String(),
			Results:   objectrecognize.ToolResults(items, threshold),
			Items:     items,
		})
	}
}

// writeUpstreamError maps component and transport failures to gateway responses.
func writeUpstreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		slog.Info("recognize request cancelled by client")
	case errors.Is(err, objectrecognize.ErrInvalidInput):
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), nil)
	case errors.Is(err, appbuilder.ErrTimeout):
		response.Error(w, http.StatusGatewayTimeout, response.CodeUpstreamTimeout,
			"AppBuilder did not answer in time", nil)
	case errors.Is(err, objectrecognize.ErrService),
		errors.Is(err, objectrecognize.ErrDecode),
		errors.Is(err, appbuilder.ErrHTTPStatus),
		errors.Is(err, appbuilder.ErrUnreachable):
		slog.Warn("upstream call failed", "error", err)
		response.Error(w, http.StatusBadGateway, response.CodeUpstream, "AppBuilder request failed", nil)
	default:
		slog.Error("upstream call failed", "error", err)
		response.Error(w, http.StatusInternalServerError, response.CodeInternal,
			"An unexpected error occurred", nil)
	}
}

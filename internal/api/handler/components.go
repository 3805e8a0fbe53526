package handler

import (
	"net/http"

	"github.com/kiranshivaraju/appbuilder/internal/api/response"
	"github.com/kiranshivaraju/appbuilder/internal/components"
)

// NewComponentsHandler returns an http.HandlerFunc for GET /api/v1/components
// listing the function-call manifests of the served components.
func NewComponentsHandler(manifests ...components.Manifest) http.HandlerFunc {
	if manifests == nil {
		manifests = []components.Manifest{}
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, manifests)
	}
}

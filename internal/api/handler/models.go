package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Rrens/llm-gateway/internal/api/middleware"
	"github.com/Rrens/llm-gateway/internal/api/response"
	"github.com/Rrens/llm-gateway/internal/audit"
)

// ModelSource returns the backend model listing
type ModelSource interface {
	Models(ctx context.Context) (json.RawMessage, error)
}

// ModelsHandler handles the model listing endpoint
type ModelsHandler struct {
	models ModelSource
	audit  *audit.Sink
}

// NewModelsHandler creates a new models handler
func NewModelsHandler(models ModelSource, sink *audit.Sink) *ModelsHandler {
	if sink == nil {
		sink = audit.Nop()
	}
	return &ModelsHandler{models: models, audit: sink}
}

// List passes the backend model listing through
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	ip, ok := middleware.GetClientIP(r.Context())
	if !ok {
		ip = middleware.ClientIP(r)
	}

	listing, err := h.models.Models(r.Context())
	if err != nil {
		h.audit.Record(ip, r.URL.Path, audit.StatusError, map[string]any{"error": err.Error()})
		response.InternalError(w, "Failed to get models")
		return
	}

	h.audit.Record(ip, r.URL.Path, audit.StatusSuccess, nil)
	response.RawJSON(w, http.StatusOK, listing)
}

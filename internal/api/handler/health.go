package handler

import (
	"context"
	"net/http"

	"github.com/Rrens/llm-gateway/internal/api/response"
	"github.com/Rrens/llm-gateway/internal/service"
)

// Version is reported by the capability listing
const Version = "2.0.0"

// HealthReporter probes the gateway's dependencies
type HealthReporter interface {
	Health(ctx context.Context) service.HealthStatus
}

// HealthCheck reports gateway, backend and database status
func HealthCheck(health HealthReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, health.Health(r.Context()))
	}
}

// Root returns the static capability listing
func Root(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]any{
		"message": "LLM Gateway with Conversation Storage",
		"version": Version,
		"endpoints": map[string]any{
			"chat":   "/v1/chat/completions",
			"models": "/v1/models",
			"health": "/health",
			"sessions": map[string]string{
				"create":   "POST /v1/sessions",
				"list":     "GET /v1/sessions",
				"get":      "GET /v1/sessions/{session_id}",
				"delete":   "DELETE /v1/sessions/{session_id}",
				"messages": "GET /v1/sessions/{session_id}/messages",
			},
		},
	})
}

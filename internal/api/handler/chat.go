package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/llm-gateway/internal/api/middleware"
	"github.com/Rrens/llm-gateway/internal/api/response"
	"github.com/Rrens/llm-gateway/internal/domain"
	"github.com/Rrens/llm-gateway/internal/llm"
	"github.com/Rrens/llm-gateway/internal/service"
)

// Completer runs one chat completion
type Completer interface {
	Complete(ctx context.Context, in service.CompletionInput) (*service.CompletionOutput, error)
}

// ChatHandler handles the chat completion endpoint
type ChatHandler struct {
	completions Completer
}

// NewChatHandler creates a new chat handler
func NewChatHandler(completions Completer) *ChatHandler {
	return &ChatHandler{completions: completions}
}

// Completions forwards an OpenAI-style chat request and stores the exchange
func (h *ChatHandler) Completions(w http.ResponseWriter, r *http.Request) {
	var req domain.ChatRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	ip, ok := middleware.GetClientIP(r.Context())
	if !ok {
		ip = middleware.ClientIP(r)
	}

	out, err := h.completions.Complete(r.Context(), service.CompletionInput{
		Request:   req,
		ClientIP:  ip,
		UserAgent: r.UserAgent(),
		Endpoint:  r.URL.Path,
		Method:    r.Method,
	})
	if err != nil {
		writeCompletionError(w, err)
		return
	}

	response.OK(w, out.Body)
}

func writeCompletionError(w http.ResponseWriter, err error) {
	if be, ok := llm.IsBackendError(err); ok {
		detail := be.Body
		if detail == "" {
			detail = be.Error()
		}
		response.Error(w, service.BackendStatus(be), "backend error: "+detail)
		return
	}

	if !errors.Is(err, service.ErrInternal) {
		log.Error().Err(err).Msg("unexpected completion error")
	}
	response.InternalError(w, "Internal error")
}

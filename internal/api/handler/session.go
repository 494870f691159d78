package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/llm-gateway/internal/api/response"
	"github.com/Rrens/llm-gateway/internal/domain"
)

// SessionManager is the session CRUD surface used by the handler
type SessionManager interface {
	Create(ctx context.Context, req domain.SessionCreate) (*domain.SessionSummary, error)
	List(ctx context.Context, userID string) ([]domain.SessionSummary, error)
	Get(ctx context.Context, sessionID, userID string) (*domain.SessionSummary, error)
	Delete(ctx context.Context, sessionID, userID string) error
	Messages(ctx context.Context, sessionID, userID string) ([]domain.Message, error)
}

// SessionHandler handles session endpoints
type SessionHandler struct {
	sessions SessionManager
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions SessionManager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// Create handles session creation
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input domain.SessionCreate
	if !decodeAndValidate(w, r, &input) {
		return
	}

	session, err := h.sessions.Create(r.Context(), input)
	if err != nil {
		log.Error().Err(err).Msg("failed to create session")
		response.InternalError(w, "Failed to create session")
		return
	}

	response.OK(w, session)
}

// List returns the caller's sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.List(r.Context(), queryUserID(r))
	if err != nil {
		log.Error().Err(err).Msg("failed to list sessions")
		response.InternalError(w, "Failed to list sessions")
		return
	}

	if sessions == nil {
		sessions = []domain.SessionSummary{}
	}
	response.OK(w, sessions)
}

// Get returns one session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"), queryUserID(r))
	if err != nil {
		writeSessionError(w, err, "Failed to get session")
		return
	}

	response.OK(w, session)
}

// Delete removes a session and its messages
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), chi.URLParam(r, "sessionID"), queryUserID(r)); err != nil {
		writeSessionError(w, err, "Failed to delete session")
		return
	}

	response.OK(w, map[string]string{"message": "Session deleted successfully"})
}

// Messages returns a session's messages oldest first
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.sessions.Messages(r.Context(), chi.URLParam(r, "sessionID"), queryUserID(r))
	if err != nil {
		writeSessionError(w, err, "Failed to get messages")
		return
	}

	if messages == nil {
		messages = []domain.Message{}
	}
	response.OK(w, messages)
}

// queryUserID returns the user_id query parameter. Empty selects the
// configured default user downstream.
func queryUserID(r *http.Request) string {
	return r.URL.Query().Get("user_id")
}

func writeSessionError(w http.ResponseWriter, err error, detail string) {
	if errors.Is(err, domain.ErrSessionNotFound) {
		response.NotFound(w, "Session not found")
		return
	}
	log.Error().Err(err).Msg(detail)
	response.InternalError(w, detail)
}

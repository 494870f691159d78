package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Rrens/llm-gateway/internal/config"
	"github.com/Rrens/llm-gateway/internal/domain"
)

const sessionTitleLayout = "2006-01-02 15:04"

func defaultSessionTitle(at time.Time) string {
	return "Chat " + at.Format(sessionTitleLayout)
}

// SessionService handles session CRUD on behalf of a user
type SessionService struct {
	store        domain.ConversationStore
	defaultModel string
	defaultUser  string
	now          func() time.Time
}

// NewSessionService creates a new session service
func NewSessionService(store domain.ConversationStore, cfg config.GatewayConfig) *SessionService {
	return &SessionService{
		store:        store,
		defaultModel: cfg.DefaultModel,
		defaultUser:  cfg.DefaultUser,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *SessionService) resolveUser(ctx context.Context, userID string) (*domain.User, error) {
	if userID == "" {
		userID = s.defaultUser
	}
	user, err := s.store.ResolveOrCreateUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	return user, nil
}

// Create creates a new session for req.UserID
func (s *SessionService) Create(ctx context.Context, req domain.SessionCreate) (*domain.SessionSummary, error) {
	user, err := s.resolveUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	title := req.Title
	if title == nil || *title == "" {
		t := defaultSessionTitle(now)
		title = &t
	}
	model := req.ModelName
	if model == "" {
		model = s.defaultModel
	}

	session := &domain.ChatSession{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		Title:        title,
		ModelName:    model,
		SystemPrompt: req.SystemPrompt,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &domain.SessionSummary{ChatSession: *session}, nil
}

// List returns the user's sessions, most recently updated first
func (s *SessionService) List(ctx context.Context, userID string) ([]domain.SessionSummary, error) {
	user, err := s.resolveUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.store.ListSessions(ctx, user.ID)
}

// Get returns one owned session with its message count
func (s *SessionService) Get(ctx context.Context, sessionID, userID string) (*domain.SessionSummary, error) {
	user, err := s.resolveUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	session, err := s.store.GetSession(ctx, sessionID, user.ID)
	if err != nil {
		return nil, err
	}

	count, err := s.store.CountMessages(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	return &domain.SessionSummary{ChatSession: *session, MessageCount: count}, nil
}

// Delete removes an owned session and its messages
func (s *SessionService) Delete(ctx context.Context, sessionID, userID string) error {
	user, err := s.resolveUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.store.DeleteSession(ctx, sessionID, user.ID)
}

// Messages returns an owned session's messages oldest first
func (s *SessionService) Messages(ctx context.Context, sessionID, userID string) ([]domain.Message, error) {
	user, err := s.resolveUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, sessionID, user.ID)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/llm-gateway/internal/audit"
	"github.com/Rrens/llm-gateway/internal/config"
	"github.com/Rrens/llm-gateway/internal/domain"
	"github.com/Rrens/llm-gateway/internal/llm"
)

const defaultTemperature = 0.7

// ErrInternal marks faults whose detail must not reach the caller
var ErrInternal = errors.New("internal error")

// Completer is the slice of the inference client the orchestrator needs
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error)
}

// CompletionInput is one chat completion call with its transport metadata
type CompletionInput struct {
	Request   domain.ChatRequest
	ClientIP  string
	UserAgent string
	Endpoint  string
	Method    string
}

// CompletionOutput is the backend body augmented with the resolved ids
type CompletionOutput struct {
	Body      map[string]any
	SessionID string
	UserID    string
}

// CompletionService runs the chat completion pipeline: resolve user and
// session, persist the inbound turn, forward to the backend, persist the
// reply, then write the request log.
type CompletionService struct {
	store        domain.ConversationStore
	backend      Completer
	audit        *audit.Sink
	defaultModel string
	defaultUser  string
	now          func() time.Time
}

// NewCompletionService creates a new completion service
func NewCompletionService(
	store domain.ConversationStore,
	backend Completer,
	sink *audit.Sink,
	cfg config.GatewayConfig,
) *CompletionService {
	if sink == nil {
		sink = audit.Nop()
	}
	return &CompletionService{
		store:        store,
		backend:      backend,
		audit:        sink,
		defaultModel: cfg.DefaultModel,
		defaultUser:  cfg.DefaultUser,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Complete executes one chat completion. Caller cancellation is ignored once
// the pipeline has started. Every call that reaches this point writes exactly
// one request log row; failing to write it is logged and otherwise ignored.
func (s *CompletionService) Complete(ctx context.Context, in CompletionInput) (*CompletionOutput, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	req := s.backendRequest(in.Request)
	userID := in.Request.UserID
	if userID == "" {
		userID = s.defaultUser
	}

	entry := &domain.RequestLog{
		ID:        uuid.NewString(),
		Endpoint:  in.Endpoint,
		Method:    in.Method,
		IPAddress: in.ClientIP,
		UserAgent: in.UserAgent,
	}

	out, err := s.runRecovered(ctx, in, userID, req, entry)
	elapsed := time.Since(start)

	entry.ResponseStatus = statusFor(err)
	entry.ResponseTimeMs = elapsed.Milliseconds()
	entry.CreatedAt = s.now()
	if logErr := s.store.LogRequest(ctx, entry); logErr != nil {
		log.Error().Err(logErr).
			Str("request_log_id", entry.ID).
			Int("status", entry.ResponseStatus).
			Msg("failed to write request log")
	}

	seconds := math.Round(elapsed.Seconds()*1000) / 1000
	switch be, isBackend := llm.IsBackendError(err); {
	case err == nil:
		s.audit.Record(in.ClientIP, in.Endpoint, audit.StatusSuccess, map[string]any{
			"response_time": seconds,
			"tokens_used":   out.tokensUsed,
			"model":         out.model,
			"session_id":    out.SessionID,
		})
	case isBackend:
		s.audit.Record(in.ClientIP, in.Endpoint, audit.StatusBackendError, map[string]any{
			"status":        entry.ResponseStatus,
			"error":         be.Error(),
			"response_time": seconds,
		})
	default:
		log.Error().Err(err).Str("endpoint", in.Endpoint).Msg("chat completion failed")
		s.audit.Record(in.ClientIP, in.Endpoint, audit.StatusError, map[string]any{
			"error":         err.Error(),
			"response_time": seconds,
		})
	}

	if err != nil {
		return nil, err
	}
	return &out.CompletionOutput, nil
}

type runResult struct {
	CompletionOutput
	tokensUsed int
	model      string
}

// runRecovered converts a panic inside the pipeline into an internal fault
// so the request log row and the ERROR fact are still written.
func (s *CompletionService) runRecovered(
	ctx context.Context,
	in CompletionInput,
	userID string,
	req llm.CompletionRequest,
	entry *domain.RequestLog,
) (out *runResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Str("endpoint", in.Endpoint).
				Msg("chat completion panicked")
			out, err = nil, fmt.Errorf("%w: panic: %v", ErrInternal, p)
		}
	}()
	return s.run(ctx, in, userID, req, entry)
}

func (s *CompletionService) run(
	ctx context.Context,
	in CompletionInput,
	userID string,
	req llm.CompletionRequest,
	entry *domain.RequestLog,
) (*runResult, error) {
	payload, err := req.Payload()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	entry.RequestData = string(payload)

	user, err := s.store.ResolveOrCreateUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve user: %w", ErrInternal, err)
	}
	entry.UserID = &user.ID

	session, err := s.resolveSession(ctx, user.ID, in.Request.SessionID, req.Model)
	if err != nil {
		return nil, err
	}
	entry.SessionID = &session.ID

	// Only the newest user turn is stored; the backend receives the caller's
	// full history as sent.
	if last, ok := in.Request.LastMessage(); ok && last.Role == string(domain.RoleUser) {
		msg := &domain.Message{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Role:      domain.RoleUser,
			Content:   last.Content,
			CreatedAt: s.now(),
		}
		if err := s.store.AppendMessage(ctx, msg); err != nil {
			return nil, fmt.Errorf("%w: failed to store user message: %w", ErrInternal, err)
		}
	}

	s.audit.Record(in.ClientIP, in.Endpoint, audit.StatusStart, map[string]any{
		"model":          req.Model,
		"session_id":     session.ID,
		"user_id":        user.ID,
		"messages_count": len(in.Request.Messages),
	})

	res, err := s.backend.Complete(ctx, req)
	if err != nil {
		if _, ok := llm.IsBackendError(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("%w: backend call failed: %w", ErrInternal, err)
	}

	if res.HasReply {
		reply := &domain.Message{
			ID:         uuid.NewString(),
			SessionID:  session.ID,
			Role:       domain.RoleAssistant,
			Content:    res.ReplyText,
			TokenCount: res.CompletionTokens,
			CreatedAt:  s.now(),
		}
		if err := s.store.AppendMessage(ctx, reply); err != nil {
			return nil, fmt.Errorf("%w: failed to store assistant message: %w", ErrInternal, err)
		}
	}

	if err := s.store.TouchSession(ctx, session.ID, s.now()); err != nil {
		return nil, fmt.Errorf("%w: failed to touch session: %w", ErrInternal, err)
	}

	body := res.Body
	if body == nil {
		body = map[string]any{}
	}
	body["session_id"] = session.ID
	body["user_id"] = user.ID

	return &runResult{
		CompletionOutput: CompletionOutput{
			Body:      body,
			SessionID: session.ID,
			UserID:    user.ID,
		},
		tokensUsed: res.TotalTokens,
		model:      res.Model,
	}, nil
}

// resolveSession reuses the caller's session when it belongs to userID and
// otherwise starts a new one.
func (s *CompletionService) resolveSession(ctx context.Context, userID, sessionID, model string) (*domain.ChatSession, error) {
	if sessionID != "" {
		session, err := s.store.GetSession(ctx, sessionID, userID)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, domain.ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: failed to get session: %w", ErrInternal, err)
		}
	}

	now := s.now()
	title := defaultSessionTitle(now)
	session := &domain.ChatSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     &title,
		ModelName: model,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("%w: failed to create session: %w", ErrInternal, err)
	}
	return session, nil
}

func (s *CompletionService) backendRequest(r domain.ChatRequest) llm.CompletionRequest {
	model := r.Model
	if model == "" {
		model = s.defaultModel
	}
	temperature := defaultTemperature
	if r.Temperature != nil {
		temperature = *r.Temperature
	}

	// A zero max_tokens means "unset" and is not forwarded.
	maxTokens := r.MaxTokens
	if maxTokens != nil && *maxTokens == 0 {
		maxTokens = nil
	}

	messages := make([]llm.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	return llm.CompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      r.Stream,
	}
}

// statusFor maps a pipeline outcome to the status recorded and returned
func statusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if be, ok := llm.IsBackendError(err); ok {
		return BackendStatus(be)
	}
	return http.StatusInternalServerError
}

// BackendStatus is the caller-facing status for a backend failure
func BackendStatus(be *llm.BackendError) int {
	switch {
	case be.Timeout:
		return http.StatusGatewayTimeout
	case be.Unreachable:
		return http.StatusBadGateway
	case be.Status >= 400:
		return be.Status
	default:
		return http.StatusBadGateway
	}
}

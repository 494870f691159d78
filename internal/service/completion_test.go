package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/llm-gateway/internal/audit"
	"github.com/Rrens/llm-gateway/internal/config"
	"github.com/Rrens/llm-gateway/internal/domain"
	"github.com/Rrens/llm-gateway/internal/llm"
	"github.com/Rrens/llm-gateway/internal/repository/sqlite"
)

var testGateway = config.GatewayConfig{
	DefaultModel: "qwen2.5-7b",
	DefaultUser:  "default",
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func countRows(t *testing.T, store *sqlite.Store, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, store.DB().QueryRowContext(context.Background(), query, args...).Scan(&n))
	return n
}

func requestStatuses(t *testing.T, store *sqlite.Store) []int {
	t.Helper()
	rows, err := store.DB().QueryContext(context.Background(), `SELECT response_status FROM request_logs ORDER BY created_at`)
	require.NoError(t, err)
	defer rows.Close()

	var statuses []int
	for rows.Next() {
		var s int
		require.NoError(t, rows.Scan(&s))
		statuses = append(statuses, s)
	}
	require.NoError(t, rows.Err())
	return statuses
}

func newBackend(t *testing.T, handler http.HandlerFunc) *llm.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return llm.NewClient(config.BackendConfig{URL: srv.URL})
}

func echoBackend(reply string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"model":"qwen2.5-7b","choices":[{"message":{"content":%q}}],"usage":{"completion_tokens":1,"total_tokens":5}}`, reply)
	}
}

func userInput(userID, sessionID string, msgs ...domain.ChatMessage) CompletionInput {
	return CompletionInput{
		Request: domain.ChatRequest{
			UserID:    userID,
			SessionID: sessionID,
			Messages:  msgs,
		},
		ClientIP:  "127.0.0.1",
		UserAgent: "go-test",
		Endpoint:  "/v1/chat/completions",
		Method:    http.MethodPost,
	}
}

func TestCompletionService_FreshSessionScenario(t *testing.T) {
	store := newTestStore(t)
	svc := NewCompletionService(store, newBackend(t, echoBackend("hello")), nil, testGateway)

	out, err := svc.Complete(context.Background(), userInput("u1", "", domain.ChatMessage{Role: "user", Content: "hi"}))
	require.NoError(t, err)

	assert.NotEmpty(t, out.SessionID)
	assert.Equal(t, "u1", out.UserID)
	assert.Equal(t, out.SessionID, out.Body["session_id"])
	assert.Equal(t, "u1", out.Body["user_id"])

	choices := out.Body["choices"].([]any)
	msg := choices[0].(map[string]any)["message"].(map[string]any)
	assert.Equal(t, "hello", msg["content"])

	assert.Equal(t, 1, countRows(t, store, `SELECT COUNT(*) FROM users`))
	assert.Equal(t, 1, countRows(t, store, `SELECT COUNT(*) FROM sessions`))
	assert.Equal(t, 2, countRows(t, store, `SELECT COUNT(*) FROM messages`))
	assert.Equal(t, []int{http.StatusOK}, requestStatuses(t, store))

	msgs, err := store.ListMessages(context.Background(), out.SessionID, "u1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, 1, msgs[1].TokenCount)

	session, err := store.GetSession(context.Background(), out.SessionID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5-7b", session.ModelName)
	require.NotNil(t, session.Title)
	assert.Regexp(t, `^Chat \d{4}-\d{2}-\d{2} \d{2}:\d{2}$`, *session.Title)
}

func TestCompletionService_ForwardsFullHistory(t *testing.T) {
	store := newTestStore(t)
	received := make(chan map[string]any, 1)
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		received <- payload
		echoBackend("ok")(w, r)
	})
	svc := NewCompletionService(store, backend, nil, testGateway)

	_, err := svc.Complete(context.Background(), userInput("", "",
		domain.ChatMessage{Role: "system", Content: "be brief"},
		domain.ChatMessage{Role: "user", Content: "one"},
		domain.ChatMessage{Role: "assistant", Content: "two"},
		domain.ChatMessage{Role: "user", Content: "three"},
	))
	require.NoError(t, err)

	payload := <-received
	assert.Equal(t, "qwen2.5-7b", payload["model"])
	assert.Equal(t, 0.7, payload["temperature"])
	assert.Equal(t, false, payload["stream"])
	assert.NotContains(t, payload, "max_tokens")
	assert.Len(t, payload["messages"], 4)

	// Only the newest user turn is stored alongside the reply.
	assert.Equal(t, 2, countRows(t, store, `SELECT COUNT(*) FROM messages`))
	assert.Equal(t, 1, countRows(t, store, `SELECT COUNT(*) FROM users WHERE id = 'default'`))

	var data string
	require.NoError(t, store.DB().QueryRow(`SELECT request_data FROM request_logs`).Scan(&data))
	assert.JSONEq(t, `{"model":"qwen2.5-7b","messages":[
		{"role":"system","content":"be brief"},
		{"role":"user","content":"one"},
		{"role":"assistant","content":"two"},
		{"role":"user","content":"three"}
	],"temperature":0.7,"stream":false}`, data)
}

func TestCompletionService_SystemLastMessage(t *testing.T) {
	store := newTestStore(t)
	svc := NewCompletionService(store, newBackend(t, echoBackend("noted")), nil, testGateway)

	out, err := svc.Complete(context.Background(), userInput("u1", "", domain.ChatMessage{Role: "system", Content: "setup"}))
	require.NoError(t, err)

	msgs, err := store.ListMessages(context.Background(), out.SessionID, "u1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleAssistant, msgs[0].Role)
	assert.Equal(t, "noted", msgs[0].Content)
}

func TestCompletionService_ReusesOwnedSession(t *testing.T) {
	store := newTestStore(t)
	svc := NewCompletionService(store, newBackend(t, echoBackend("hello")), nil, testGateway)
	ctx := context.Background()

	first, err := svc.Complete(ctx, userInput("u1", "", domain.ChatMessage{Role: "user", Content: "hi"}))
	require.NoError(t, err)

	second, err := svc.Complete(ctx, userInput("u1", first.SessionID, domain.ChatMessage{Role: "user", Content: "again"}))
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	msgs, err := store.ListMessages(ctx, first.SessionID, "u1")
	require.NoError(t, err)
	assert.Len(t, msgs, 4)

	// Another user presenting the same session id gets a fresh session.
	third, err := svc.Complete(ctx, userInput("u2", first.SessionID, domain.ChatMessage{Role: "user", Content: "mine?"}))
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, third.SessionID)

	msgs, err = store.ListMessages(ctx, first.SessionID, "u1")
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestCompletionService_BackendFailure(t *testing.T) {
	store := newTestStore(t)
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "CUDA out of memory")
	})
	svc := NewCompletionService(store, backend, nil, testGateway)

	out, err := svc.Complete(context.Background(), userInput("u1", "", domain.ChatMessage{Role: "user", Content: "hi"}))
	require.Error(t, err)
	assert.Nil(t, out)

	be, ok := llm.IsBackendError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, be.Status)
	assert.Equal(t, "CUDA out of memory", be.Body)

	assert.Equal(t, []int{http.StatusInternalServerError}, requestStatuses(t, store))
	assert.Equal(t, 1, countRows(t, store, `SELECT COUNT(*) FROM messages WHERE role = 'user'`))
	assert.Equal(t, 0, countRows(t, store, `SELECT COUNT(*) FROM messages WHERE role = 'assistant'`))
}

func TestCompletionService_BackendUnreachable(t *testing.T) {
	store := newTestStore(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	svc := NewCompletionService(store, llm.NewClient(config.BackendConfig{URL: url}), nil, testGateway)

	_, err := svc.Complete(context.Background(), userInput("u1", "", domain.ChatMessage{Role: "user", Content: "hi"}))
	require.Error(t, err)

	be, ok := llm.IsBackendError(err)
	require.True(t, ok)
	assert.True(t, be.Unreachable)
	assert.Equal(t, http.StatusBadGateway, BackendStatus(be))
	assert.Equal(t, []int{http.StatusBadGateway}, requestStatuses(t, store))
}

func TestCompletionService_IgnoresCallerCancellation(t *testing.T) {
	store := newTestStore(t)
	svc := NewCompletionService(store, newBackend(t, echoBackend("hello")), nil, testGateway)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := svc.Complete(ctx, userInput("u1", "", domain.ChatMessage{Role: "user", Content: "hi"}))
	require.NoError(t, err)
	assert.Equal(t, 2, countRows(t, store, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, out.SessionID))
}

func TestCompletionService_AuditFacts(t *testing.T) {
	store := newTestStore(t)
	var buf bytes.Buffer
	svc := NewCompletionService(store, newBackend(t, echoBackend("hello")), audit.NewSink(&buf, true), testGateway)

	out, err := svc.Complete(context.Background(), userInput("u1", "", domain.ChatMessage{Role: "user", Content: "hi"}))
	require.NoError(t, err)

	var facts []map[string]any
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var fact map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &fact))
		facts = append(facts, fact)
	}
	require.Len(t, facts, 2)

	assert.Equal(t, audit.StatusStart, facts[0]["status"])
	start := facts[0]["details"].(map[string]any)
	assert.Equal(t, "u1", start["user_id"])
	assert.Equal(t, out.SessionID, start["session_id"])
	assert.Equal(t, float64(1), start["messages_count"])

	assert.Equal(t, audit.StatusSuccess, facts[1]["status"])
	success := facts[1]["details"].(map[string]any)
	assert.Equal(t, float64(5), success["tokens_used"])
	assert.Equal(t, "qwen2.5-7b", success["model"])
}

func TestCompletionService_InternalFault(t *testing.T) {
	store := new(MockStore)
	backend := new(MockCompleter)
	var buf bytes.Buffer
	svc := NewCompletionService(store, backend, audit.NewSink(&buf, true), testGateway)

	store.On("ResolveOrCreateUser", mock.Anything, "u1").Return(nil, errors.New("connection refused"))
	store.On("LogRequest", mock.Anything, mock.MatchedBy(func(e *domain.RequestLog) bool {
		return e.ResponseStatus == http.StatusInternalServerError && e.UserID == nil && e.SessionID == nil
	})).Return(nil)

	_, err := svc.Complete(context.Background(), userInput("u1", "", domain.ChatMessage{Role: "user", Content: "hi"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
	_, isBackend := llm.IsBackendError(err)
	assert.False(t, isBackend)

	store.AssertExpectations(t)
	backend.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
	assert.Contains(t, buf.String(), `"status":"ERROR"`)
}

func TestCompletionService_RequestLogFailureIsSwallowed(t *testing.T) {
	store := new(MockStore)
	backend := new(MockCompleter)
	svc := NewCompletionService(store, backend, nil, testGateway)

	user := domain.NewUser("u1", svc.now())
	store.On("ResolveOrCreateUser", mock.Anything, "u1").Return(user, nil)
	store.On("CreateSession", mock.Anything, mock.AnythingOfType("*domain.ChatSession")).Return(nil)
	store.On("AppendMessage", mock.Anything, mock.AnythingOfType("*domain.Message")).Return(nil).Twice()
	store.On("TouchSession", mock.Anything, mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).Return(nil)
	store.On("LogRequest", mock.Anything, mock.AnythingOfType("*domain.RequestLog")).Return(errors.New("disk full"))

	backend.On("Complete", mock.Anything, mock.MatchedBy(func(r llm.CompletionRequest) bool {
		return r.Model == "qwen2.5-7b" && r.Temperature == 0.7 && len(r.Messages) == 1
	})).Return(&llm.CompletionResult{
		Body:      map[string]any{"choices": []any{}},
		ReplyText: "hello",
		HasReply:  true,
	}, nil)

	out, err := svc.Complete(context.Background(), userInput("u1", "", domain.ChatMessage{Role: "user", Content: "hi"}))
	require.NoError(t, err)
	assert.Equal(t, "u1", out.UserID)

	store.AssertExpectations(t)
	backend.AssertExpectations(t)
}

func TestCompletionService_StoreFailureAfterBackendCall(t *testing.T) {
	store := new(MockStore)
	backend := new(MockCompleter)
	svc := NewCompletionService(store, backend, nil, testGateway)

	user := domain.NewUser("u1", svc.now())
	store.On("ResolveOrCreateUser", mock.Anything, "u1").Return(user, nil)
	store.On("CreateSession", mock.Anything, mock.Anything).Return(nil)
	store.On("AppendMessage", mock.Anything, mock.MatchedBy(func(m *domain.Message) bool {
		return m.Role == domain.RoleUser
	})).Return(nil)
	store.On("AppendMessage", mock.Anything, mock.MatchedBy(func(m *domain.Message) bool {
		return m.Role == domain.RoleAssistant
	})).Return(errors.New("database is locked"))
	store.On("LogRequest", mock.Anything, mock.MatchedBy(func(e *domain.RequestLog) bool {
		return e.ResponseStatus == http.StatusInternalServerError && e.SessionID != nil && *e.UserID == "u1"
	})).Return(nil)

	backend.On("Complete", mock.Anything, mock.Anything).Return(&llm.CompletionResult{
		Body:      map[string]any{},
		ReplyText: "hello",
		HasReply:  true,
	}, nil)

	_, err := svc.Complete(context.Background(), userInput("u1", "", domain.ChatMessage{Role: "user", Content: "hi"}))
	assert.ErrorIs(t, err, ErrInternal)

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "TouchSession", mock.Anything, mock.Anything, mock.Anything)
}

func TestBackendStatus(t *testing.T) {
	tests := []struct {
		name string
		err  *llm.BackendError
		want int
	}{
		{"passes backend status", &llm.BackendError{Status: 429}, 429},
		{"unreachable", &llm.BackendError{Unreachable: true}, http.StatusBadGateway},
		{"timeout", &llm.BackendError{Unreachable: true, Timeout: true}, http.StatusGatewayTimeout},
		{"non error status", &llm.BackendError{Status: 302}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BackendStatus(tt.err))
		})
	}
}

func TestCompletionService_BackendRequestMaxTokens(t *testing.T) {
	svc := NewCompletionService(nil, nil, nil, testGateway)
	intPtr := func(n int) *int { return &n }

	tests := []struct {
		name string
		in   *int
		want *int
	}{
		{"unset", nil, nil},
		{"zero means unset", intPtr(0), nil},
		{"positive forwarded", intPtr(256), intPtr(256)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := svc.backendRequest(domain.ChatRequest{
				Messages:  []domain.ChatMessage{{Role: "user", Content: "hi"}},
				MaxTokens: tt.in,
			})
			assert.Equal(t, tt.want, req.MaxTokens)

			payload, err := req.Payload()
			require.NoError(t, err)
			if tt.want == nil {
				assert.NotContains(t, string(payload), "max_tokens")
			} else {
				assert.Contains(t, string(payload), `"max_tokens":256`)
			}
		})
	}
}

func TestCompletionService_PanicBecomesInternalFault(t *testing.T) {
	store := new(MockStore)
	backend := new(MockCompleter)
	var buf bytes.Buffer
	svc := NewCompletionService(store, backend, audit.NewSink(&buf, true), testGateway)

	store.On("ResolveOrCreateUser", mock.Anything, "u1").Run(func(mock.Arguments) {
		panic("nil map write")
	})
	store.On("LogRequest", mock.Anything, mock.MatchedBy(func(e *domain.RequestLog) bool {
		return e.ResponseStatus == http.StatusInternalServerError && e.RequestData != ""
	})).Return(nil)

	var err error
	require.NotPanics(t, func() {
		_, err = svc.Complete(context.Background(), userInput("u1", "", domain.ChatMessage{Role: "user", Content: "hi"}))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)

	store.AssertExpectations(t)
	backend.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
	assert.Contains(t, buf.String(), `"status":"ERROR"`)
}

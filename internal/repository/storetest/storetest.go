// Package storetest holds behaviour checks shared by every
// domain.ConversationStore implementation.
package storetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/llm-gateway/internal/domain"
)

// Factory returns an empty, ready store. Cleanup is the factory's job.
type Factory func(t *testing.T) domain.ConversationStore

// Run executes the full suite against stores produced by newStore
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store domain.ConversationStore)
	}{
		{"ResolveOrCreateUserIsIdempotent", testResolveIdempotent},
		{"ResolveOrCreateUserConcurrent", testResolveConcurrent},
		{"CreateSessionRequiresOwner", testCreateSessionRequiresOwner},
		{"GetSessionOwnershipIsolation", testOwnershipIsolation},
		{"AppendMessageRequiresSession", testAppendRequiresSession},
		{"ListMessagesOrdering", testListMessagesOrdering},
		{"ListMessagesForeignSession", testListMessagesForeign},
		{"DeleteSessionCascades", testDeleteCascades},
		{"DeleteSessionForeignOwner", testDeleteForeign},
		{"ListSessionsCountsAndOrder", testListSessions},
		{"TouchSession", testTouchSession},
		{"LogRequest", testLogRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// RawExec runs a literal SQL statement against the database behind store
type RawExec func(t *testing.T, store domain.ConversationStore, query string) error

// RunUserConstraints checks the users table constraints and how lazy
// provisioning copes with them. exec inserts rows the store API cannot.
func RunUserConstraints(t *testing.T, newStore Factory, exec RawExec) {
	insertUser := func(t *testing.T, store domain.ConversationStore, id, username, email string) error {
		emailValue := "NULL"
		if email != "" {
			emailValue = "'" + email + "'"
		}
		return exec(t, store, fmt.Sprintf(
			`INSERT INTO users (id, username, email, created_at, updated_at) VALUES ('%s', '%s', %s, '%s', '%s')`,
			id, username, emailValue, "2024-01-01T00:00:00.000000000Z", "2024-01-01T00:00:00.000000000Z",
		))
	}

	t.Run("UsernameIsUnique", func(t *testing.T) {
		store := newStore(t)
		name := "alice-" + uuid.NewString()

		require.NoError(t, insertUser(t, store, "id-"+uuid.NewString(), name, ""))
		assert.Error(t, insertUser(t, store, "id-"+uuid.NewString(), name, ""))
	})

	t.Run("EmailIsUniqueWhenSet", func(t *testing.T) {
		store := newStore(t)
		email := uuid.NewString() + "@example.com"

		require.NoError(t, insertUser(t, store, "id-"+uuid.NewString(), "u-"+uuid.NewString(), email))
		assert.Error(t, insertUser(t, store, "id-"+uuid.NewString(), "u-"+uuid.NewString(), email))

		// Missing emails never collide.
		require.NoError(t, insertUser(t, store, "id-"+uuid.NewString(), "u-"+uuid.NewString(), ""))
		require.NoError(t, insertUser(t, store, "id-"+uuid.NewString(), "u-"+uuid.NewString(), ""))
	})

	t.Run("ResolveWhenUsernameTaken", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		id := "claimed-" + uuid.NewString()

		// Another user already holds id as its username.
		require.NoError(t, insertUser(t, store, "holder-"+uuid.NewString(), id, ""))

		user, err := store.ResolveOrCreateUser(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, user.ID)
		assert.NotEqual(t, id, user.Username)
		assert.True(t, strings.HasPrefix(user.Username, id+"-"))

		again, err := store.ResolveOrCreateUser(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, user.Username, again.Username)
		assert.True(t, user.CreatedAt.Equal(again.CreatedAt))
	})
}

func newSession(userID string, at time.Time) *domain.ChatSession {
	title := "Chat " + at.Format("2006-01-02 15:04")
	return &domain.ChatSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     &title,
		ModelName: "qwen2.5-7b",
		IsActive:  true,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func newMessage(sessionID string, role domain.MessageRole, content string, at time.Time) *domain.Message {
	return &domain.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: at,
	}
}

func mustUser(t *testing.T, store domain.ConversationStore, id string) *domain.User {
	t.Helper()
	u, err := store.ResolveOrCreateUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func mustSession(t *testing.T, store domain.ConversationStore, userID string, at time.Time) *domain.ChatSession {
	t.Helper()
	s := newSession(userID, at)
	require.NoError(t, store.CreateSession(context.Background(), s))
	return s
}

func testResolveIdempotent(t *testing.T, store domain.ConversationStore) {
	ctx := context.Background()
	id := "user-" + uuid.NewString()

	first, err := store.ResolveOrCreateUser(ctx, id)
	require.NoError(t, err)
	second, err := store.ResolveOrCreateUser(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, id, first.ID)
	assert.Equal(t, id, first.Username)
	assert.True(t, first.IsActive)
	assert.Nil(t, first.Email)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
}

func testResolveConcurrent(t *testing.T, store domain.ConversationStore) {
	ctx := context.Background()
	id := "racer-" + uuid.NewString()

	const workers = 8
	var wg sync.WaitGroup
	users := make([]*domain.User, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			users[i], errs[i] = store.ResolveOrCreateUser(ctx, id)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, id, users[i].ID)
		assert.True(t, users[0].CreatedAt.Equal(users[i].CreatedAt))
	}
}

func testCreateSessionRequiresOwner(t *testing.T, store domain.ConversationStore) {
	err := store.CreateSession(context.Background(), newSession("ghost-"+uuid.NewString(), time.Now().UTC()))
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func testOwnershipIsolation(t *testing.T, store domain.ConversationStore) {
	ctx := context.Background()
	owner := mustUser(t, store, "owner-"+uuid.NewString())
	other := mustUser(t, store, "other-"+uuid.NewString())
	s := mustSession(t, store, owner.ID, time.Now().UTC())

	got, err := store.GetSession(ctx, s.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, *s.Title, *got.Title)
	assert.Equal(t, "qwen2.5-7b", got.ModelName)
	assert.Nil(t, got.SystemPrompt)

	_, err = store.GetSession(ctx, s.ID, other.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = store.GetSession(ctx, uuid.NewString(), owner.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func testAppendRequiresSession(t *testing.T, store domain.ConversationStore) {
	err := store.AppendMessage(context.Background(), newMessage(uuid.NewString(), domain.RoleUser, "hi", time.Now().UTC()))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func testListMessagesOrdering(t *testing.T, store domain.ConversationStore) {
	ctx := context.Background()
	u := mustUser(t, store, "order-"+uuid.NewString())
	base := time.Now().UTC().Truncate(time.Millisecond)
	s := mustSession(t, store, u.ID, base)

	// Two messages share a timestamp; insertion order must break the tie.
	require.NoError(t, store.AppendMessage(ctx, newMessage(s.ID, domain.RoleUser, "first", base)))
	require.NoError(t, store.AppendMessage(ctx, newMessage(s.ID, domain.RoleAssistant, "second", base)))
	later := newMessage(s.ID, domain.RoleUser, "third", base.Add(time.Second))
	later.TokenCount = 7
	require.NoError(t, store.AppendMessage(ctx, later))

	msgs, err := store.ListMessages(ctx, s.ID, u.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "second", msgs[1].Content)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "third", msgs[2].Content)
	assert.Equal(t, 7, msgs[2].TokenCount)

	count, err := store.CountMessages(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func testListMessagesForeign(t *testing.T, store domain.ConversationStore) {
	ctx := context.Background()
	owner := mustUser(t, store, "owner-"+uuid.NewString())
	other := mustUser(t, store, "other-"+uuid.NewString())
	s := mustSession(t, store, owner.ID, time.Now().UTC())

	empty, err := store.ListMessages(ctx, s.ID, owner.ID)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = store.ListMessages(ctx, s.ID, other.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func testDeleteCascades(t *testing.T, store domain.ConversationStore) {
	ctx := context.Background()
	u := mustUser(t, store, "del-"+uuid.NewString())
	s := mustSession(t, store, u.ID, time.Now().UTC())
	require.NoError(t, store.AppendMessage(ctx, newMessage(s.ID, domain.RoleUser, "hi", time.Now().UTC())))
	require.NoError(t, store.AppendMessage(ctx, newMessage(s.ID, domain.RoleAssistant, "hello", time.Now().UTC())))

	require.NoError(t, store.DeleteSession(ctx, s.ID, u.ID))

	_, err := store.ListMessages(ctx, s.ID, u.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	count, err := store.CountMessages(ctx, s.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	err = store.DeleteSession(ctx, s.ID, u.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func testDeleteForeign(t *testing.T, store domain.ConversationStore) {
	ctx := context.Background()
	owner := mustUser(t, store, "owner-"+uuid.NewString())
	other := mustUser(t, store, "other-"+uuid.NewString())
	s := mustSession(t, store, owner.ID, time.Now().UTC())

	err := store.DeleteSession(ctx, s.ID, other.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = store.GetSession(ctx, s.ID, owner.ID)
	assert.NoError(t, err)
}

func testListSessions(t *testing.T, store domain.ConversationStore) {
	ctx := context.Background()
	u := mustUser(t, store, "list-"+uuid.NewString())
	other := mustUser(t, store, "other-"+uuid.NewString())
	base := time.Now().UTC().Add(-time.Hour)

	older := mustSession(t, store, u.ID, base)
	newer := mustSession(t, store, u.ID, base.Add(time.Minute))
	mustSession(t, store, other.ID, base)

	require.NoError(t, store.AppendMessage(ctx, newMessage(older.ID, domain.RoleUser, "a", base)))
	require.NoError(t, store.AppendMessage(ctx, newMessage(older.ID, domain.RoleAssistant, "b", base)))

	sessions, err := store.ListSessions(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, newer.ID, sessions[0].ID)
	assert.Equal(t, 0, sessions[0].MessageCount)
	assert.Equal(t, older.ID, sessions[1].ID)
	assert.Equal(t, 2, sessions[1].MessageCount)

	// Touching the older session moves it to the front.
	require.NoError(t, store.TouchSession(ctx, older.ID, base.Add(2*time.Minute)))
	sessions, err = store.ListSessions(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, older.ID, sessions[0].ID)

	none, err := store.ListSessions(ctx, "nobody-"+uuid.NewString())
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func testTouchSession(t *testing.T, store domain.ConversationStore) {
	ctx := context.Background()
	u := mustUser(t, store, "touch-"+uuid.NewString())
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	s := mustSession(t, store, u.ID, base)

	at := base.Add(30 * time.Minute)
	require.NoError(t, store.TouchSession(ctx, s.ID, at))

	got, err := store.GetSession(ctx, s.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(at), "updated_at %s, want %s", got.UpdatedAt, at)
	assert.True(t, got.CreatedAt.Equal(base))

	assert.NoError(t, store.TouchSession(ctx, uuid.NewString(), at))
}

func testLogRequest(t *testing.T, store domain.ConversationStore) {
	ctx := context.Background()
	u := mustUser(t, store, "log-"+uuid.NewString())
	s := mustSession(t, store, u.ID, time.Now().UTC())

	withRefs := &domain.RequestLog{
		ID:             uuid.NewString(),
		UserID:         &u.ID,
		SessionID:      &s.ID,
		Endpoint:       "/v1/chat/completions",
		Method:         "POST",
		IPAddress:      "127.0.0.1",
		UserAgent:      "go-test",
		RequestData:    `{"model":"qwen2.5-7b"}`,
		ResponseStatus: 200,
		ResponseTimeMs: 42,
		CreatedAt:      time.Now().UTC(),
	}
	assert.NoError(t, store.LogRequest(ctx, withRefs))

	bare := &domain.RequestLog{
		ID:             uuid.NewString(),
		Endpoint:       "/v1/chat/completions",
		Method:         "POST",
		IPAddress:      "127.0.0.1",
		ResponseStatus: 500,
		CreatedAt:      time.Now().UTC(),
	}
	assert.NoError(t, store.LogRequest(ctx, bare))
}

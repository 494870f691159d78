package domain

import (
	"context"
	"time"
)

// ConversationStore owns the four persisted entities. Every method either
// commits all of its writes or none of them.
type ConversationStore interface {
	// ResolveOrCreateUser returns the user with id, inserting a default record
	// on first reference. Concurrent callers presenting the same new id all
	// observe the same row.
	ResolveOrCreateUser(ctx context.Context, id string) (*User, error)

	// CreateSession inserts a session after verifying its owner exists
	CreateSession(ctx context.Context, session *ChatSession) error

	// GetSession looks a session up scoped to its owner
	GetSession(ctx context.Context, id, userID string) (*ChatSession, error)

	// CountMessages returns the number of messages stored for a session
	CountMessages(ctx context.Context, sessionID string) (int, error)

	// AppendMessage inserts a message after verifying its session exists
	AppendMessage(ctx context.Context, message *Message) error

	// TouchSession stamps updated_at; a missing session is a no-op
	TouchSession(ctx context.Context, id string, at time.Time) error

	// DeleteSession removes an owned session and its messages
	DeleteSession(ctx context.Context, id, userID string) error

	// ListSessions returns a user's sessions, most recently updated first
	ListSessions(ctx context.Context, userID string) ([]SessionSummary, error)

	// ListMessages returns an owned session's messages in creation order
	ListMessages(ctx context.Context, sessionID, userID string) ([]Message, error)

	// LogRequest appends one audit row
	LogRequest(ctx context.Context, entry *RequestLog) error

	Ping(ctx context.Context) error
	Close()
}

package postgres

import (
	"context"

	"github.com/Rrens/llm-gateway/internal/domain"
)

// Store implements domain.ConversationStore on PostgreSQL
type Store struct {
	db *DB
}

var _ domain.ConversationStore = (*Store)(nil)

// NewStore creates a conversation store backed by db
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) Close() {
	s.db.Close()
}

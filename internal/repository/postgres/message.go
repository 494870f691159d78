package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Rrens/llm-gateway/internal/domain"
)

// AppendMessage inserts a message. The parent session row is share-locked
// so a concurrent delete cannot orphan it.
func (s *Store) AppendMessage(ctx context.Context, message *domain.Message) error {
	return pgx.BeginFunc(ctx, s.db.Pool, func(tx pgx.Tx) error {
		var sessionID string
		err := tx.QueryRow(ctx, `SELECT id FROM sessions WHERE id = $1 FOR SHARE`, message.SessionID).Scan(&sessionID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrSessionNotFound
			}
			return fmt.Errorf("failed to verify session: %w", err)
		}

		query := `
			INSERT INTO messages (id, session_id, role, content, token_count, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		_, err = tx.Exec(ctx, query,
			message.ID,
			message.SessionID,
			string(message.Role),
			message.Content,
			message.TokenCount,
			message.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
		return nil
	})
}

func (s *Store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = $1`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// ListMessages returns messages oldest first. Unknown and foreign sessions
// are both reported as ErrSessionNotFound.
func (s *Store) ListMessages(ctx context.Context, sessionID, userID string) ([]domain.Message, error) {
	var owned bool
	err := s.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1 AND user_id = $2)`,
		sessionID, userID,
	).Scan(&owned)
	if err != nil {
		return nil, fmt.Errorf("failed to verify session: %w", err)
	}
	if !owned {
		return nil, domain.ErrSessionNotFound
	}

	query := `
		SELECT id, session_id, role, content, token_count, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY created_at ASC, seq ASC
	`
	rows, err := s.db.Pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		var roleStr string

		if err := rows.Scan(
			&m.ID,
			&m.SessionID,
			&roleStr,
			&m.Content,
			&m.TokenCount,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = domain.MessageRole(roleStr)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return messages, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Rrens/llm-gateway/internal/domain"
)

func (s *Store) AppendMessage(ctx context.Context, message *domain.Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var sessionID string
		err := tx.QueryRowContext(ctx, `SELECT id FROM sessions WHERE id = ?`, message.SessionID).Scan(&sessionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrSessionNotFound
			}
			return fmt.Errorf("failed to verify session: %w", err)
		}

		query := `
			INSERT INTO messages (id, session_id, role, content, token_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		_, err = tx.ExecContext(ctx, query,
			message.ID,
			message.SessionID,
			string(message.Role),
			message.Content,
			message.TokenCount,
			formatTime(message.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
		return nil
	})
}

func (s *Store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// ListMessages returns messages oldest first, ties broken by insertion order
func (s *Store) ListMessages(ctx context.Context, sessionID, userID string) ([]domain.Message, error) {
	var owned bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = ? AND user_id = ?)`,
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
		WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		var (
			m         domain.Message
			roleStr   string
			createdAt string
		)
		if err := rows.Scan(
			&m.ID,
			&m.SessionID,
			&roleStr,
			&m.Content,
			&m.TokenCount,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = domain.MessageRole(roleStr)
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return messages, nil
}

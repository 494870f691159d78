package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/llm-gateway/internal/domain"
)

const sessionColumns = `s.id, s.user_id, s.title, s.model_name, s.system_prompt, s.is_active, s.created_at, s.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner, extra ...any) (*domain.ChatSession, error) {
	var (
		cs                   domain.ChatSession
		title, systemPrompt  sql.NullString
		createdAt, updatedAt string
	)
	dest := append([]any{
		&cs.ID,
		&cs.UserID,
		&title,
		&cs.ModelName,
		&systemPrompt,
		&cs.IsActive,
		&createdAt,
		&updatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	cs.Title = stringPtr(title)
	cs.SystemPrompt = stringPtr(systemPrompt)

	var err error
	if cs.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if cs.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &cs, nil
}

func (s *Store) CreateSession(ctx context.Context, session *domain.ChatSession) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var ownerID string
		err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = ?`, session.UserID).Scan(&ownerID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrUserNotFound
			}
			return fmt.Errorf("failed to verify session owner: %w", err)
		}

		query := `
			INSERT INTO sessions (id, user_id, title, model_name, system_prompt, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err = tx.ExecContext(ctx, query,
			session.ID,
			session.UserID,
			nullString(session.Title),
			session.ModelName,
			nullString(session.SystemPrompt),
			session.IsActive,
			formatTime(session.CreatedAt),
			formatTime(session.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		return nil
	})
}

func (s *Store) GetSession(ctx context.Context, id, userID string) (*domain.ChatSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions s WHERE s.id = ? AND s.user_id = ?`

	cs, err := scanSession(s.db.QueryRowContext(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return cs, nil
}

func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id, userID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var found string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM sessions WHERE id = ? AND user_id = ?`,
			id, userID,
		).Scan(&found)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrSessionNotFound
			}
			return fmt.Errorf("failed to find session: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete session messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return nil
	})
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]domain.SessionSummary, error) {
	query := `
		SELECT ` + sessionColumns + `, COUNT(m.id)
		FROM sessions s
		LEFT JOIN messages m ON m.session_id = s.id
		WHERE s.user_id = ?
		GROUP BY s.id
		ORDER BY s.updated_at DESC, s.created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.SessionSummary, 0)
	for rows.Next() {
		var count int
		cs, err := scanSession(rows, &count)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, domain.SessionSummary{ChatSession: *cs, MessageCount: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

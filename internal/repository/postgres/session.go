package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Rrens/llm-gateway/internal/domain"
)

func (s *Store) CreateSession(ctx context.Context, session *domain.ChatSession) error {
	return pgx.BeginFunc(ctx, s.db.Pool, func(tx pgx.Tx) error {
		var ownerID string
		err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR SHARE`, session.UserID).Scan(&ownerID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrUserNotFound
			}
			return fmt.Errorf("failed to verify session owner: %w", err)
		}

		query := `
			INSERT INTO sessions (id, user_id, title, model_name, system_prompt, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		_, err = tx.Exec(ctx, query,
			session.ID,
			session.UserID,
			session.Title,
			session.ModelName,
			session.SystemPrompt,
			session.IsActive,
			session.CreatedAt,
			session.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		return nil
	})
}

func (s *Store) GetSession(ctx context.Context, id, userID string) (*domain.ChatSession, error) {
	query := `
		SELECT id, user_id, title, model_name, system_prompt, is_active, created_at, updated_at
		FROM sessions
		WHERE id = $1 AND user_id = $2
	`
	var cs domain.ChatSession
	err := s.db.Pool.QueryRow(ctx, query, id, userID).Scan(
		&cs.ID,
		&cs.UserID,
		&cs.Title,
		&cs.ModelName,
		&cs.SystemPrompt,
		&cs.IsActive,
		&cs.CreatedAt,
		&cs.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &cs, nil
}

func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.Pool.Exec(ctx, `UPDATE sessions SET updated_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id, userID string) error {
	return pgx.BeginFunc(ctx, s.db.Pool, func(tx pgx.Tx) error {
		var found string
		err := tx.QueryRow(ctx,
			`SELECT id FROM sessions WHERE id = $1 AND user_id = $2 FOR UPDATE`,
			id, userID,
		).Scan(&found)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrSessionNotFound
			}
			return fmt.Errorf("failed to find session: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE session_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete session messages: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return nil
	})
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]domain.SessionSummary, error) {
	query := `
		SELECT s.id, s.user_id, s.title, s.model_name, s.system_prompt, s.is_active,
		       s.created_at, s.updated_at, COUNT(m.id)
		FROM sessions s
		LEFT JOIN messages m ON m.session_id = s.id
		WHERE s.user_id = $1
		GROUP BY s.id
		ORDER BY s.updated_at DESC, s.created_at DESC
	`
	rows, err := s.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.SessionSummary, 0)
	for rows.Next() {
		var ss domain.SessionSummary
		if err := rows.Scan(
			&ss.ID,
			&ss.UserID,
			&ss.Title,
			&ss.ModelName,
			&ss.SystemPrompt,
			&ss.IsActive,
			&ss.CreatedAt,
			&ss.UpdatedAt,
			&ss.MessageCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, ss)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

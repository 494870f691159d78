package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/llm-gateway/internal/domain"
)

// ResolveOrCreateUser returns the user with id, provisioning it on first use.
// A conflicting concurrent insert is treated as "already exists".
func (s *Store) ResolveOrCreateUser(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.getUser(ctx, id)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	fresh := domain.NewUser(id, time.Now().UTC())
	created, err := s.insertUserIfAbsent(ctx, fresh)
	if err != nil {
		return nil, err
	}
	if created {
		return s.getUser(ctx, id)
	}

	// Nothing inserted: either the id was created concurrently or the
	// username is held by a different user.
	user, err = s.getUser(ctx, id)
	if !errors.Is(err, domain.ErrUserNotFound) {
		if err == nil {
			log.Debug().Str("user_id", id).Msg("User created concurrently, using existing row")
		}
		return user, err
	}

	log.Warn().Str("user_id", id).Msg("Username taken by another user, provisioning with a suffixed username")
	fresh.Username = domain.FallbackUsername(id)
	if _, err := s.insertUserIfAbsent(ctx, fresh); err != nil {
		return nil, err
	}
	return s.getUser(ctx, id)
}

// insertUserIfAbsent reports false when the row conflicts with an existing
// id or username.
func (s *Store) insertUserIfAbsent(ctx context.Context, u *domain.User) (bool, error) {
	query := `
		INSERT INTO users (id, username, email, api_key, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
	`
	tag, err := s.db.Pool.Exec(ctx, query,
		u.ID,
		u.Username,
		u.Email,
		u.APIKey,
		u.IsActive,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create user: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) getUser(ctx context.Context, id string) (*domain.User, error) {
	query := `
		SELECT id, username, email, api_key, is_active, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	var u domain.User
	err := s.db.Pool.QueryRow(ctx, query, id).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.APIKey,
		&u.IsActive,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

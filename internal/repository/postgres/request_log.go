package postgres

import (
	"context"
	"fmt"

	"github.com/Rrens/llm-gateway/internal/domain"
)

func (s *Store) LogRequest(ctx context.Context, entry *domain.RequestLog) error {
	query := `
		INSERT INTO request_logs (
			id, user_id, session_id, endpoint, method, ip_address, user_agent,
			request_data, response_status, response_time_ms, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.Pool.Exec(ctx, query,
		entry.ID,
		entry.UserID,
		entry.SessionID,
		entry.Endpoint,
		entry.Method,
		entry.IPAddress,
		entry.UserAgent,
		entry.RequestData,
		entry.ResponseStatus,
		entry.ResponseTimeMs,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to log request: %w", err)
	}
	return nil
}

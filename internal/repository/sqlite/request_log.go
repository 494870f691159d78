package sqlite

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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		nullString(entry.UserID),
		nullString(entry.SessionID),
		entry.Endpoint,
		entry.Method,
		entry.IPAddress,
		entry.UserAgent,
		entry.RequestData,
		entry.ResponseStatus,
		entry.ResponseTimeMs,
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to log request: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"errors"
	"fmt"
)

// CreateRequest records an API request for usage auditing.
func (s *Store) CreateRequest(ctx context.Context, method, endpoint string, statusCode, responseTimeMs, responseSizeBytes int) error {
	if s == nil || s.db == nil {
		return errors.New("store: db cannot be nil")
	}

	query := `
INSERT INTO requests (method, endpoint, status_code, response_time_ms, response_size_bytes)
VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := s.db.ExecContext(ctx, query, method, endpoint, statusCode, responseTimeMs, responseSizeBytes); err != nil {
		return fmt.Errorf("store: create request: %w", err)
	}

	return nil
}

package database

import (
	"context"
	"fmt"

	"escrow-engine-go/internal/models"

	"github.com/google/uuid"
)

// AppendMessage stores one chat line. CreatedAt must already be set by the
// caller; it is persisted with nanosecond precision.
func (s *Service) AppendMessage(ctx context.Context, m *models.Message) error {
	if m.Id == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate message id: %w", err)
		}
		m.Id = id.String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, queryInsertMessage, m.Id, m.TradeId, m.SenderId, m.Body, m.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// ListMessages returns a trade's messages ordered by (created_at, id).
func (s *Service) ListMessages(ctx context.Context, tradeId string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, queryListMessages, tradeId)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		var createdAt int64
		if err := rows.Scan(&m.Id, &m.TradeId, &m.SenderId, &m.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.CreatedAt = fromUnixNano(createdAt)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/worker"
)

// CreateMessage inserts one message row. Campaign and rule linkage columns
// are nullable; empty strings persist as NULL.
func (s *Store) CreateMessage(ctx context.Context, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_type, content, status, sent_at, campaign_id, rule_id)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''))`,
		m.ID, m.ConversationID, m.SenderType, m.Content, m.Status, m.Timestamp, m.CampaignID, m.RuleID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage fetches one message by ID.
func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_type, content, status, sent_at,
			COALESCE(campaign_id, ''), COALESCE(rule_id, ''), created_at
		FROM messages
		WHERE id = $1`, id)
	return scanMessage(row)
}

// ListConversationMessages returns a conversation's messages, oldest first.
func (s *Store) ListConversationMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_type, content, status, sent_at,
			COALESCE(campaign_id, ''), COALESCE(rule_id, ''), created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY sent_at ASC
		LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var m domain.Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderType, &m.Content, &m.Status, &m.Timestamp,
		&m.CampaignID, &m.RuleID, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, worker.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return &m, nil
}

// UpdateMessageStatus sets a message's delivery status.
func (s *Store) UpdateMessageStatus(ctx context.Context, id string, status domain.MessageStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = $2
		WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return worker.ErrNotFound
	}
	return nil
}

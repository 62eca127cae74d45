package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/worker"
)

// CreateRule appends a rule to the workspace's sequence. Order is implicit:
// creation time decides the rule's position.
func (s *Store) CreateRule(ctx context.Context, r *domain.SequenceRule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sequence_rules (id, workspace_id, delay_millis, template)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		r.ID, r.WorkspaceID, r.DelayMillis, r.Template).Scan(&r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// ListRules returns a workspace's rules ordered by creation time. The ID
// tiebreak keeps the order total when two rules share a timestamp.
func (s *Store) ListRules(ctx context.Context, workspaceID string) ([]domain.SequenceRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, delay_millis, template, created_at
		FROM sequence_rules
		WHERE workspace_id = $1
		ORDER BY created_at ASC, id ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []domain.SequenceRule
	for rows.Next() {
		var r domain.SequenceRule
		if err := rows.Scan(&r.ID, &r.WorkspaceID, &r.DelayMillis, &r.Template, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRule removes a rule. In-flight follow-ups referencing it complete on
// their next step.
func (s *Store) DeleteRule(ctx context.Context, workspaceID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sequence_rules
		WHERE id = $1 AND workspace_id = $2`, id, workspaceID)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
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

const followUpColumns = `id, workspace_id, client_id, conversation_id, status,
	current_step_order, next_message_at, started_at, completed_at, created_at, updated_at`

// GetFollowUp fetches one follow-up by ID.
func (s *Store) GetFollowUp(ctx context.Context, id string) (*domain.FollowUp, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+followUpColumns+`
		FROM follow_ups
		WHERE id = $1`, id)
	return scanFollowUp(row)
}

// ListFollowUps returns a workspace's follow-ups, newest first.
func (s *Store) ListFollowUps(ctx context.Context, workspaceID string) ([]domain.FollowUp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+followUpColumns+`
		FROM follow_ups
		WHERE workspace_id = $1
		ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list follow-ups: %w", err)
	}
	defer rows.Close()

	var out []domain.FollowUp
	for rows.Next() {
		f, err := scanFollowUp(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func scanFollowUp(row rowScanner) (*domain.FollowUp, error) {
	var f domain.FollowUp
	err := row.Scan(&f.ID, &f.WorkspaceID, &f.ClientID, &f.ConversationID, &f.Status,
		&f.CurrentStepOrder, &f.NextMessageAt, &f.StartedAt, &f.CompletedAt, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, worker.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan follow-up: %w", err)
	}
	return &f, nil
}

// HasActiveFollowUp reports whether the client already has an active
// follow-up in the workspace.
func (s *Store) HasActiveFollowUp(ctx context.Context, workspaceID, clientID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM follow_ups
			WHERE workspace_id = $1 AND client_id = $2 AND status = 'active'
		)`, workspaceID, clientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active follow-up: %w", err)
	}
	return exists, nil
}

// CreateFollowUp inserts a new follow-up.
func (s *Store) CreateFollowUp(ctx context.Context, f *domain.FollowUp) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO follow_ups (id, workspace_id, client_id, conversation_id, status,
			current_step_order, next_message_at, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		f.ID, f.WorkspaceID, f.ClientID, f.ConversationID, f.Status,
		f.CurrentStepOrder, f.NextMessageAt, f.StartedAt)
	if err != nil {
		return fmt.Errorf("insert follow-up: %w", err)
	}
	return nil
}

// UpdateFollowUpProgress records the processed step and the next due time.
func (s *Store) UpdateFollowUpProgress(ctx context.Context, id string, stepOrder int, nextAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE follow_ups
		SET current_step_order = $2, next_message_at = $3, updated_at = NOW()
		WHERE id = $1`, id, stepOrder, nextAt)
	if err != nil {
		return fmt.Errorf("update follow-up progress: %w", err)
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

// SetFollowUpStatus updates the status. Terminal statuses also stamp
// completed_at.
func (s *Store) SetFollowUpStatus(ctx context.Context, id string, status domain.FollowUpStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE follow_ups
		SET status = $2,
			completed_at = CASE WHEN $2 IN ('completed', 'failed', 'converted', 'cancelled') THEN NOW() ELSE completed_at END,
			updated_at = NOW()
		WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set follow-up status: %w", err)
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

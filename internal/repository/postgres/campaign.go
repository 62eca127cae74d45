package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/worker"
)

const campaignColumns = `id, workspace_id, name, channel, template, use_template, status,
	send_interval_seconds, allowed_send_start, allowed_send_end, allowed_send_days,
	started_at, completed_at, created_at, updated_at`

// CreateCampaign inserts a campaign and its contacts in one transaction.
func (s *Store) CreateCampaign(ctx context.Context, c *domain.Campaign, contacts []domain.CampaignContact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = domain.CampaignPending
	}

	days := make([]int64, len(c.SendDays))
	for i, d := range c.SendDays {
		days[i] = int64(d)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaigns (id, workspace_id, name, channel, template, use_template, status,
			send_interval_seconds, allowed_send_start, allowed_send_end, allowed_send_days)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.WorkspaceID, c.Name, c.Channel, c.Template, c.UseTemplate, c.Status,
		c.SendIntervalSeconds, c.SendStart, c.SendEnd, pq.Array(days))
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}

	for i := range contacts {
		ct := &contacts[i]
		if ct.ID == "" {
			ct.ID = uuid.NewString()
		}
		ct.CampaignID = c.ID
		if ct.Status == "" {
			ct.Status = domain.ContactPending
		}
		vars, err := json.Marshal(ct.Variables)
		if err != nil {
			return fmt.Errorf("marshal contact variables: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO campaign_contacts (id, campaign_id, address, display_name, variables, status)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			ct.ID, ct.CampaignID, ct.Address, ct.DisplayName, vars, ct.Status)
		if err != nil {
			return fmt.Errorf("insert contact: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetCampaign fetches one campaign by ID.
func (s *Store) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE id = $1`, id)
	return scanCampaign(row)
}

// ListCampaigns returns a workspace's campaigns, newest first.
func (s *Store) ListCampaigns(ctx context.Context, workspaceID string) ([]domain.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE workspace_id = $1
		ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	var c domain.Campaign
	var days []int64
	err := row.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Channel, &c.Template, &c.UseTemplate, &c.Status,
		&c.SendIntervalSeconds, &c.SendStart, &c.SendEnd, pq.Array(&days),
		&c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, worker.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan campaign: %w", err)
	}
	c.SendDays = make([]int, len(days))
	for i, d := range days {
		c.SendDays[i] = int(d)
	}
	return &c, nil
}

// MarkCampaignRunning transitions pending->running. The status guard in the
// WHERE clause is what makes concurrent dispatchers safe.
func (s *Store) MarkCampaignRunning(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'running', started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("mark campaign running: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkCampaignCompleted transitions a pending or running campaign to
// completed.
func (s *Store) MarkCampaignCompleted(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'completed', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'running')`, id)
	if err != nil {
		return false, fmt.Errorf("mark campaign completed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkCampaignFailed records a campaign-level failure.
func (s *Store) MarkCampaignFailed(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'failed', error_text = $2, updated_at = NOW()
		WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("mark campaign failed: %w", err)
	}
	return nil
}

// SetCampaignStatus applies a manual pause/resume/cancel. The transition is
// only applied when the current status is one of allowedFrom.
func (s *Store) SetCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus, allowedFrom ...domain.CampaignStatus) (bool, error) {
	from := make([]string, len(allowedFrom))
	for i, st := range allowedFrom {
		from[i] = string(st)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)`, id, status, pq.Array(from))
	if err != nil {
		return false, fmt.Errorf("set campaign status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListPendingContacts returns a campaign's pending contacts in creation
// order, the order the pacing cursor assigns send times in.
func (s *Store) ListPendingContacts(ctx context.Context, campaignID string) ([]domain.CampaignContact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, address, display_name, variables, status, error_text, created_at, updated_at
		FROM campaign_contacts
		WHERE campaign_id = $1 AND status = 'pending'
		ORDER BY created_at ASC, id ASC`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list pending contacts: %w", err)
	}
	defer rows.Close()

	var out []domain.CampaignContact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetContact fetches one campaign contact by ID.
func (s *Store) GetContact(ctx context.Context, id string) (*domain.CampaignContact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, address, display_name, variables, status, error_text, created_at, updated_at
		FROM campaign_contacts
		WHERE id = $1`, id)
	return scanContact(row)
}

func scanContact(row rowScanner) (*domain.CampaignContact, error) {
	var c domain.CampaignContact
	var vars []byte
	err := row.Scan(&c.ID, &c.CampaignID, &c.Address, &c.DisplayName, &vars, &c.Status, &c.ErrorText, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, worker.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan contact: %w", err)
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &c.Variables); err != nil {
			return nil, fmt.Errorf("unmarshal contact variables: %w", err)
		}
	}
	return &c, nil
}

// UpdateContactStatus sets a contact's delivery status and error text.
func (s *Store) UpdateContactStatus(ctx context.Context, id string, status domain.ContactStatus, errorText string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaign_contacts
		SET status = $2, error_text = $3, updated_at = NOW()
		WHERE id = $1`, id, status, errorText)
	if err != nil {
		return fmt.Errorf("update contact status: %w", err)
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

// CountOpenContacts counts contacts that are not yet terminal.
func (s *Store) CountOpenContacts(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM campaign_contacts
		WHERE campaign_id = $1 AND status IN ('pending', 'scheduled')`, campaignID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open contacts: %w", err)
	}
	return n, nil
}

// CampaignProgress summarizes contact outcomes for the API.
type CampaignProgress struct {
	Pending   int `json:"pending"`
	Scheduled int `json:"scheduled"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// GetCampaignProgress returns per-status contact counts for a campaign.
func (s *Store) GetCampaignProgress(ctx context.Context, campaignID string) (*CampaignProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM campaign_contacts
		WHERE campaign_id = $1
		GROUP BY status`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign progress: %w", err)
	}
	defer rows.Close()

	var p CampaignProgress
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		switch domain.ContactStatus(status) {
		case domain.ContactPending:
			p.Pending = n
		case domain.ContactScheduled:
			p.Scheduled = n
		case domain.ContactSent:
			p.Sent = n
		case domain.ContactFailed:
			p.Failed = n
		}
	}
	return &p, rows.Err()
}

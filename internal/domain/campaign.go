package domain

import "time"

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignPending   CampaignStatus = "pending"
	CampaignRunning   CampaignStatus = "running"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Campaign represents a batch outbound-messaging job targeting many contacts
// with one template and pacing rules. Status is mutated only by the dispatcher
// (pending->running, and ->completed once every contact is terminal).
type Campaign struct {
	ID          string         `json:"id" db:"id"`
	WorkspaceID string         `json:"workspace_id" db:"workspace_id"`
	Name        string         `json:"name" db:"name"`
	Channel     string         `json:"channel" db:"channel"`
	Template    string         `json:"template" db:"template"`
	UseTemplate bool           `json:"use_template" db:"use_template"`
	Status      CampaignStatus `json:"status" db:"status"`

	// Pacing constraints. Send times computed for contacts always fall on an
	// allowed weekday inside [SendStart, SendEnd) of that day, at least
	// SendIntervalSeconds apart.
	SendIntervalSeconds int    `json:"send_interval_seconds" db:"send_interval_seconds"`
	SendStart           string `json:"allowed_send_start" db:"allowed_send_start"` // "HH:MM"
	SendEnd             string `json:"allowed_send_end" db:"allowed_send_end"`     // "HH:MM"
	SendDays            []int  `json:"allowed_send_days" db:"allowed_send_days"`   // 0=Sunday .. 6=Saturday

	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignFailed || c.Status == CampaignCancelled
}

// ContactStatus enumerates the delivery states of a single campaign recipient.
type ContactStatus string

const (
	ContactPending   ContactStatus = "pending"
	ContactScheduled ContactStatus = "scheduled"
	ContactSent      ContactStatus = "sent"
	ContactFailed    ContactStatus = "failed"
)

// IsTerminal reports whether a contact needs no further work. A campaign is
// complete once every contact is terminal.
func (s ContactStatus) IsTerminal() bool {
	return s == ContactSent || s == ContactFailed
}

// CampaignContact is one recipient within a campaign and its per-recipient
// delivery state. Variables feed {{key}} substitution in the campaign template.
type CampaignContact struct {
	ID          string            `json:"id" db:"id"`
	CampaignID  string            `json:"campaign_id" db:"campaign_id"`
	Address     string            `json:"address" db:"address"` // raw destination, pre-normalization
	DisplayName string            `json:"display_name" db:"display_name"`
	Variables   map[string]string `json:"variables" db:"variables"`
	Status      ContactStatus     `json:"status" db:"status"`
	ErrorText   string            `json:"error_text" db:"error_text"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

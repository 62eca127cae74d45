package domain

import "time"

// SequenceRule is one timed step (delay + message template) in a workspace's
// drip sequence definition. Rules carry no successor pointer: the workspace's
// rules ordered ascending by CreatedAt define the sequence, and "next" is
// positional. A rule is immutable once an in-flight follow-up references it.
type SequenceRule struct {
	ID          string    `json:"id" db:"id"`
	WorkspaceID string    `json:"workspace_id" db:"workspace_id"`
	DelayMillis int64     `json:"delay_millis" db:"delay_millis"`
	Template    string    `json:"template" db:"template"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// FollowUpStatus enumerates the lifecycle states of a drip sequence instance.
type FollowUpStatus string

const (
	FollowUpActive    FollowUpStatus = "active"
	FollowUpPaused    FollowUpStatus = "paused"
	FollowUpCompleted FollowUpStatus = "completed"
	FollowUpFailed    FollowUpStatus = "failed"
	FollowUpConverted FollowUpStatus = "converted"
	FollowUpCancelled FollowUpStatus = "cancelled"
)

// FollowUp tracks one client's progress through a workspace's ordered
// sequence rules. At most one active follow-up may exist per (client,
// workspace); enforcement is a best-effort check-then-create at initiation,
// not a database constraint.
type FollowUp struct {
	ID             string         `json:"id" db:"id"`
	WorkspaceID    string         `json:"workspace_id" db:"workspace_id"`
	ClientID       string         `json:"client_id" db:"client_id"`
	ConversationID string         `json:"conversation_id" db:"conversation_id"`
	Status         FollowUpStatus `json:"status" db:"status"`

	// CurrentStepOrder is the index of the most recently processed rule in the
	// workspace's creation-ordered rule list. -1 until the first step runs.
	CurrentStepOrder int        `json:"current_step_order" db:"current_step_order"`
	NextMessageAt    *time.Time `json:"next_message_at" db:"next_message_at"`

	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

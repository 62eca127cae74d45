package domain

import "time"

// MessageStatus enumerates the delivery states of a persisted message.
type MessageStatus string

const (
	MessagePending MessageStatus = "pending"
	MessageSent    MessageStatus = "sent"
	MessageFailed  MessageStatus = "failed"
)

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderUser      SenderType = "user"
	SenderAutomated SenderType = "automated"
)

// Message is one outbound message in a conversation. Rows are written once by
// whichever component causes the send (campaign dispatch or sequence step) and
// never mutated by the other component.
type Message struct {
	ID             string        `json:"id" db:"id"`
	ConversationID string        `json:"conversation_id" db:"conversation_id"`
	SenderType     SenderType    `json:"sender_type" db:"sender_type"`
	Content        string        `json:"content" db:"content"`
	Status         MessageStatus `json:"status" db:"status"`
	Timestamp      time.Time     `json:"timestamp" db:"timestamp"`

	// Linkage metadata. At most one of these is set.
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	RuleID     string `json:"rule_id,omitempty" db:"rule_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

package domain

import "time"

// ConversationStatus enumerates the states of a provider conversation.
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
)

// Conversation is a message thread with one client on one channel. The store
// enforces uniqueness per (workspace, client, channel).
type Conversation struct {
	ID             string             `json:"id" db:"id"`
	WorkspaceID    string             `json:"workspace_id" db:"workspace_id"`
	ClientID       string             `json:"client_id" db:"client_id"`
	Channel        string             `json:"channel" db:"channel"`
	ProviderHandle string             `json:"provider_handle" db:"provider_handle"`
	Status         ConversationStatus `json:"status" db:"status"`
	LastMessageAt  *time.Time         `json:"last_message_at" db:"last_message_at"`
	CreatedAt      time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" db:"updated_at"`
}

// Client is a person reachable at one normalized address on one channel.
type Client struct {
	ID          string    `json:"id" db:"id"`
	WorkspaceID string    `json:"workspace_id" db:"workspace_id"`
	Address     string    `json:"address" db:"address"` // normalized
	DisplayName string    `json:"display_name" db:"display_name"`
	Channel     string    `json:"channel" db:"channel"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

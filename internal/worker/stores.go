package worker

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/distlock"
)

// Sentinel errors shared by the store implementations and the consumers.
var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrFollowUpExists is returned when a client already has an active
	// follow-up in the workspace.
	ErrFollowUpExists = errors.New("client already has an active follow-up")
	// ErrNoRules is returned when a follow-up is initiated in a workspace
	// with no sequence rules defined.
	ErrNoRules = errors.New("workspace has no sequence rules")
	// ErrInvalidTransition is returned for a follow-up control call that
	// does not apply to the current status.
	ErrInvalidTransition = errors.New("invalid follow-up status transition")
	// ErrNoCredentials is returned when a workspace has no provider
	// credentials configured.
	ErrNoCredentials = errors.New("workspace has no provider credentials")
)

// CampaignStore is the campaign-side persistence used by the dispatcher and
// the per-contact dispatch handler.
type CampaignStore interface {
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)

	// MarkCampaignRunning transitions pending->running. Returns false when
	// the campaign was not pending, which means another worker won the race.
	MarkCampaignRunning(ctx context.Context, id string) (bool, error)

	// MarkCampaignCompleted transitions a pending or running campaign to
	// completed and stamps completed_at. Returns false if the campaign was
	// already terminal.
	MarkCampaignCompleted(ctx context.Context, id string) (bool, error)

	MarkCampaignFailed(ctx context.Context, id, reason string) error

	// ListPendingContacts returns the campaign's pending contacts ordered by
	// creation time, which is the order the pacing cursor walks them in.
	ListPendingContacts(ctx context.Context, campaignID string) ([]domain.CampaignContact, error)
	GetContact(ctx context.Context, id string) (*domain.CampaignContact, error)
	UpdateContactStatus(ctx context.Context, id string, status domain.ContactStatus, errorText string) error

	// CountOpenContacts counts contacts still pending or scheduled. Zero
	// means every contact reached a terminal status.
	CountOpenContacts(ctx context.Context, campaignID string) (int, error)
}

// Resolution is the result of resolving a raw contact address to a client
// and conversation. The created flags drive new-lead side effects.
type Resolution struct {
	Client          *domain.Client
	Conversation    *domain.Conversation
	NewClient       bool
	NewConversation bool
}

// ClientStore resolves contacts to clients and conversations.
type ClientStore interface {
	// ResolveClient finds or creates the client for a normalized address and
	// the conversation for (workspace, client, channel). Idempotent: a second
	// call with the same identity returns the same rows with created flags
	// unset.
	ResolveClient(ctx context.Context, workspaceID, channel, address, displayName string) (*Resolution, error)
	GetClient(ctx context.Context, id string) (*domain.Client, error)
}

// ConversationStore reads and touches conversation threads.
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error
}

// MessageStore persists outbound messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *domain.Message) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	UpdateMessageStatus(ctx context.Context, id string, status domain.MessageStatus) error
}

// SequenceStore is the drip-sequence persistence used by the step processor
// and the follow-up service.
type SequenceStore interface {
	// ListRules returns the workspace's rules ordered ascending by creation
	// time. Position in this slice is the step order.
	ListRules(ctx context.Context, workspaceID string) ([]domain.SequenceRule, error)

	GetFollowUp(ctx context.Context, id string) (*domain.FollowUp, error)
	HasActiveFollowUp(ctx context.Context, workspaceID, clientID string) (bool, error)
	CreateFollowUp(ctx context.Context, f *domain.FollowUp) error

	// UpdateFollowUpProgress records that the rule at stepOrder was processed
	// and when the next step is due. nextAt is nil for the final step.
	UpdateFollowUpProgress(ctx context.Context, id string, stepOrder int, nextAt *time.Time) error

	// SetFollowUpStatus updates the status. Terminal statuses also stamp
	// completed_at.
	SetFollowUpStatus(ctx context.Context, id string, status domain.FollowUpStatus) error
}

// LeadNotifier reports newly created clients to interested parties. Calls
// are fire-and-forget; failures must not abort the caller.
type LeadNotifier interface {
	NotifyNewLead(ctx context.Context, client *domain.Client)
}

// LockFactory builds a distributed lock for a key. The dispatcher takes a
// per-campaign lock so two workers never pace the same campaign at once.
type LockFactory func(key string) distlock.DistLock

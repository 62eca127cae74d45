package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/notify"
	"github.com/ignite/outreach-engine/internal/queue"
	"github.com/ignite/outreach-engine/internal/sender"
)

// pausedRecheckDelay is how long a dispatch job sleeps before re-checking a
// paused campaign.
const pausedRecheckDelay = time.Minute

// MessageDispatcher consumes campaign.dispatch jobs: it performs the actual
// provider send for one contact and runs the campaign completion check
// afterwards. Whichever dispatch settles the last open contact flips the
// campaign to completed.
type MessageDispatcher struct {
	store         CampaignStore
	conversations ConversationStore
	messages      MessageStore
	credentials   sender.CredentialStore
	sender        sender.Sender
	enqueuer      queue.Enqueuer
	notifier      notify.Notifier

	now func() time.Time

	sent   int64
	failed int64
}

// NewMessageDispatcher creates a dispatch handler. notifier may be nil.
func NewMessageDispatcher(store CampaignStore, conversations ConversationStore, messages MessageStore, credentials sender.CredentialStore, snd sender.Sender, enqueuer queue.Enqueuer, notifier notify.Notifier) *MessageDispatcher {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &MessageDispatcher{
		store:         store,
		conversations: conversations,
		messages:      messages,
		credentials:   credentials,
		sender:        snd,
		enqueuer:      enqueuer,
		notifier:      notifier,
		now:           time.Now,
	}
}

// Handle processes one campaign.dispatch job.
func (d *MessageDispatcher) Handle(ctx context.Context, job *queue.Job) error {
	var payload DispatchPayload
	if err := job.Decode(&payload); err != nil {
		log.Printf("[MessageDispatcher] Undecodable payload for job %s: %v", job.ID, err)
		return nil
	}

	campaign, err := d.store.GetCampaign(ctx, payload.CampaignID)
	if errors.Is(err, ErrNotFound) {
		log.Printf("[MessageDispatcher] Campaign %s no longer exists, dropping job %s", payload.CampaignID, job.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get campaign: %w", err)
	}

	contact, err := d.store.GetContact(ctx, payload.ContactID)
	if errors.Is(err, ErrNotFound) {
		log.Printf("[MessageDispatcher] Contact %s no longer exists, dropping job %s", payload.ContactID, job.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get contact: %w", err)
	}
	if contact.Status != domain.ContactScheduled {
		// Redelivered job whose contact already settled.
		log.Printf("[MessageDispatcher] Contact %s is %s, not scheduled, skipping", contact.ID, contact.Status)
		return nil
	}

	switch campaign.Status {
	case domain.CampaignPaused:
		// Pause is advisory: the job parks itself and looks again later. No
		// idempotency key here, the original key already fired.
		_, err := d.enqueuer.Enqueue(ctx, JobTypeMessageDispatch, payload, queue.Options{Delay: pausedRecheckDelay})
		if err != nil {
			return fmt.Errorf("requeue for paused campaign: %w", err)
		}
		return nil
	case domain.CampaignCancelled, domain.CampaignFailed:
		if err := d.settleContact(ctx, campaign, payload, false, "campaign "+string(campaign.Status)); err != nil {
			return err
		}
		return d.checkCompletion(ctx, campaign)
	}

	msg, err := d.messages.GetMessage(ctx, payload.MessageID)
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}
	conv, err := d.conversations.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}

	creds, err := d.credentials.GetCredentials(ctx, payload.WorkspaceID)
	if errors.Is(err, ErrNoCredentials) {
		// Not retryable. Settle the contact so the campaign can finish.
		if err := d.settleContact(ctx, campaign, payload, false, "no provider credentials"); err != nil {
			return err
		}
		return d.checkCompletion(ctx, campaign)
	}
	if err != nil {
		return fmt.Errorf("get credentials: %w", err)
	}

	res, err := d.sender.Send(ctx, *creds, conv.ProviderHandle, msg.Content)
	if err != nil {
		// Transport-level failure: nothing settled, let the queue retry.
		return fmt.Errorf("provider send: %w", err)
	}

	if res.Success {
		if err := d.settleContact(ctx, campaign, payload, true, ""); err != nil {
			return err
		}
		if err := d.conversations.TouchConversation(ctx, conv.ID, d.now()); err != nil {
			log.Printf("[MessageDispatcher] Touch conversation %s: %v", conv.ID, err)
		}
	} else {
		if err := d.settleContact(ctx, campaign, payload, false, res.Reason); err != nil {
			return err
		}
	}

	return d.checkCompletion(ctx, campaign)
}

// settleContact writes the terminal message and contact statuses for one
// dispatch outcome and publishes the realtime event.
func (d *MessageDispatcher) settleContact(ctx context.Context, campaign *domain.Campaign, payload DispatchPayload, success bool, reason string) error {
	msgStatus, contactStatus := domain.MessageSent, domain.ContactSent
	event := "message.sent"
	if !success {
		msgStatus, contactStatus = domain.MessageFailed, domain.ContactFailed
		event = "message.failed"
	}

	if err := d.messages.UpdateMessageStatus(ctx, payload.MessageID, msgStatus); err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	if err := d.store.UpdateContactStatus(ctx, payload.ContactID, contactStatus, reason); err != nil {
		return fmt.Errorf("update contact status: %w", err)
	}

	if success {
		atomic.AddInt64(&d.sent, 1)
	} else {
		atomic.AddInt64(&d.failed, 1)
		log.Printf("[MessageDispatcher] Contact %s in campaign %s failed: %s", payload.ContactID, payload.CampaignID, reason)
	}
	d.notifier.Publish(ctx, campaign.WorkspaceID, event, map[string]string{
		"campaign_id": payload.CampaignID,
		"contact_id":  payload.ContactID,
		"message_id":  payload.MessageID,
		"reason":      reason,
	})
	return nil
}

// checkCompletion completes the campaign once no contact is left pending or
// scheduled. Running it after every settled contact makes the last dispatch
// the one that flips the status, no matter which worker runs it.
func (d *MessageDispatcher) checkCompletion(ctx context.Context, campaign *domain.Campaign) error {
	open, err := d.store.CountOpenContacts(ctx, campaign.ID)
	if err != nil {
		return fmt.Errorf("count open contacts: %w", err)
	}
	if open > 0 {
		return nil
	}

	completed, err := d.store.MarkCampaignCompleted(ctx, campaign.ID)
	if err != nil {
		return fmt.Errorf("complete campaign: %w", err)
	}
	if completed {
		log.Printf("[MessageDispatcher] Campaign %s completed", campaign.ID)
		d.notifier.Publish(ctx, campaign.WorkspaceID, "campaign.completed", map[string]string{"campaign_id": campaign.ID})
	}
	return nil
}

// Stats returns lifetime send counters.
func (d *MessageDispatcher) Stats() (sent, failed int64) {
	return atomic.LoadInt64(&d.sent), atomic.LoadInt64(&d.failed)
}

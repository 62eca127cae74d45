package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/notify"
	"github.com/ignite/outreach-engine/internal/queue"
	"github.com/ignite/outreach-engine/internal/schedule"
	"github.com/ignite/outreach-engine/internal/template"
)

// dispatchLockTTL bounds how long a crashed worker can hold a campaign's
// dispatch lock.
const dispatchLockTTL = 10 * time.Minute

// CampaignDispatcher consumes campaign.start jobs. For each pending campaign
// it walks the contacts in creation order, assigns each a send time from the
// pacing cursor, resolves the contact to a client and conversation, writes
// the pending message row, and enqueues a delayed campaign.dispatch job.
//
// The first contact sends as soon as the window allows; after that the pacing
// cursor advances for every contact, including ones that fail resolution, so
// send times stay evenly spaced regardless of failures.
type CampaignDispatcher struct {
	store    CampaignStore
	clients  ClientStore
	messages MessageStore
	enqueuer queue.Enqueuer
	locks    LockFactory
	leads    LeadNotifier
	notifier notify.Notifier

	// now is swappable for tests.
	now func() time.Time

	contactsScheduled int64
	contactsFailed    int64
	campaignsStarted  int64
}

// NewCampaignDispatcher creates a dispatcher. leads and notifier may be nil.
func NewCampaignDispatcher(store CampaignStore, clients ClientStore, messages MessageStore, enqueuer queue.Enqueuer, locks LockFactory, leads LeadNotifier, notifier notify.Notifier) *CampaignDispatcher {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &CampaignDispatcher{
		store:    store,
		clients:  clients,
		messages: messages,
		enqueuer: enqueuer,
		locks:    locks,
		leads:    leads,
		notifier: notifier,
		now:      time.Now,
	}
}

// Handle processes one campaign.start job.
func (d *CampaignDispatcher) Handle(ctx context.Context, job *queue.Job) error {
	var payload StartCampaignPayload
	if err := job.Decode(&payload); err != nil {
		log.Printf("[CampaignDispatcher] Undecodable payload for job %s: %v", job.ID, err)
		return nil
	}

	lock := d.locks("campaign:dispatch:" + payload.CampaignID)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire dispatch lock: %w", err)
	}
	if !acquired {
		log.Printf("[CampaignDispatcher] Campaign %s is being dispatched elsewhere, skipping", payload.CampaignID)
		return nil
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			log.Printf("[CampaignDispatcher] Release lock for campaign %s: %v", payload.CampaignID, err)
		}
	}()

	return d.dispatch(ctx, payload.CampaignID)
}

func (d *CampaignDispatcher) dispatch(ctx context.Context, campaignID string) error {
	campaign, err := d.store.GetCampaign(ctx, campaignID)
	if errors.Is(err, ErrNotFound) {
		log.Printf("[CampaignDispatcher] Campaign %s no longer exists, skipping", campaignID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get campaign: %w", err)
	}

	if campaign.Status != domain.CampaignPending {
		log.Printf("[CampaignDispatcher] Campaign %s is %s, not pending, skipping", campaignID, campaign.Status)
		return nil
	}

	window, err := schedule.ParseWindow(campaign.SendStart, campaign.SendEnd)
	if err != nil {
		// Bad pacing config cannot heal on retry. Fail the campaign and stop.
		log.Printf("[CampaignDispatcher] Campaign %s has invalid send window: %v", campaignID, err)
		if ferr := d.store.MarkCampaignFailed(ctx, campaignID, err.Error()); ferr != nil {
			return fmt.Errorf("mark campaign failed: %w", ferr)
		}
		return nil
	}
	days := schedule.Days(campaign.SendDays...)

	contacts, err := d.store.ListPendingContacts(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("list pending contacts: %w", err)
	}

	if len(contacts) == 0 {
		if _, err := d.store.MarkCampaignCompleted(ctx, campaignID); err != nil {
			return fmt.Errorf("complete empty campaign: %w", err)
		}
		log.Printf("[CampaignDispatcher] Campaign %s has no contacts, completed immediately", campaignID)
		d.notifier.Publish(ctx, campaign.WorkspaceID, "campaign.completed", map[string]string{"campaign_id": campaignID})
		return nil
	}

	started, err := d.store.MarkCampaignRunning(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("mark campaign running: %w", err)
	}
	if !started {
		log.Printf("[CampaignDispatcher] Campaign %s was claimed by another worker, skipping", campaignID)
		return nil
	}
	atomic.AddInt64(&d.campaignsStarted, 1)

	cursor := d.now()
	scheduled, failed := 0, 0

	for i := range contacts {
		contact := &contacts[i]

		// The first contact anchors at dispatch time; each later contact adds
		// one pacing interval. The cursor advances before the outcome is
		// known, so a failed contact leaves a gap in the schedule rather than
		// compressing it.
		interval := campaign.SendIntervalSeconds
		if i == 0 {
			interval = 0
		}
		cursor = schedule.NextValidSendTime(cursor, interval, window, days)

		if err := d.scheduleContact(ctx, campaign, contact, cursor); err != nil {
			failed++
			atomic.AddInt64(&d.contactsFailed, 1)
			log.Printf("[CampaignDispatcher] Contact %s in campaign %s failed: %v", contact.ID, campaignID, err)
			if uerr := d.store.UpdateContactStatus(ctx, contact.ID, domain.ContactFailed, err.Error()); uerr != nil {
				log.Printf("[CampaignDispatcher] Mark contact %s failed: %v", contact.ID, uerr)
			}
			continue
		}
		scheduled++
		atomic.AddInt64(&d.contactsScheduled, 1)
	}

	log.Printf("[CampaignDispatcher] Campaign %s dispatched: %d scheduled, %d failed", campaignID, scheduled, failed)
	d.notifier.Publish(ctx, campaign.WorkspaceID, "campaign.started", map[string]interface{}{
		"campaign_id": campaignID,
		"scheduled":   scheduled,
		"failed":      failed,
	})

	// Every contact may already be terminal when all of them failed
	// resolution. Nothing will dispatch later, so close the campaign here.
	if scheduled == 0 {
		if _, err := d.store.MarkCampaignCompleted(ctx, campaignID); err != nil {
			return fmt.Errorf("complete campaign with no scheduled contacts: %w", err)
		}
		d.notifier.Publish(ctx, campaign.WorkspaceID, "campaign.completed", map[string]string{"campaign_id": campaignID})
	}
	return nil
}

// scheduleContact performs the per-contact pipeline: normalize, resolve,
// render, persist the pending message, enqueue the delayed dispatch job, and
// mark the contact scheduled.
func (d *CampaignDispatcher) scheduleContact(ctx context.Context, campaign *domain.Campaign, contact *domain.CampaignContact, sendAt time.Time) error {
	address, err := NormalizeAddress(contact.Address)
	if err != nil {
		return fmt.Errorf("normalize address: %w", err)
	}

	res, err := d.clients.ResolveClient(ctx, campaign.WorkspaceID, campaign.Channel, address, contact.DisplayName)
	if err != nil {
		return fmt.Errorf("resolve client: %w", err)
	}
	if res.NewClient && d.leads != nil {
		d.leads.NotifyNewLead(ctx, res.Client)
		d.notifier.Publish(ctx, campaign.WorkspaceID, "lead.created", map[string]string{
			"client_id": res.Client.ID,
			"address":   res.Client.Address,
		})
	}

	body := campaign.Template
	if campaign.UseTemplate {
		vars := contact.Variables
		if _, ok := vars["name"]; !ok && contact.DisplayName != "" {
			merged := make(map[string]string, len(vars)+1)
			for k, v := range vars {
				merged[k] = v
			}
			merged["name"] = contact.DisplayName
			vars = merged
		}
		body = template.Render(campaign.Template, vars)
	}

	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: res.Conversation.ID,
		SenderType:     domain.SenderAutomated,
		Content:        body,
		Status:         domain.MessagePending,
		Timestamp:      sendAt,
		CampaignID:     campaign.ID,
	}
	if err := d.messages.CreateMessage(ctx, msg); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	d.notifier.Publish(ctx, campaign.WorkspaceID, "message.created", map[string]string{
		"message_id":  msg.ID,
		"campaign_id": campaign.ID,
		"contact_id":  contact.ID,
	})

	_, err = d.enqueuer.Enqueue(ctx, JobTypeMessageDispatch, DispatchPayload{
		CampaignID:  campaign.ID,
		ContactID:   contact.ID,
		MessageID:   msg.ID,
		WorkspaceID: campaign.WorkspaceID,
		SendAt:      sendAt,
	}, queue.Options{
		Delay:          time.Until(sendAt),
		IdempotencyKey: DispatchKey(campaign.ID, contact.ID),
	})
	if err != nil && !errors.Is(err, queue.ErrDuplicate) {
		return fmt.Errorf("enqueue dispatch: %w", err)
	}

	if err := d.store.UpdateContactStatus(ctx, contact.ID, domain.ContactScheduled, ""); err != nil {
		return fmt.Errorf("mark contact scheduled: %w", err)
	}
	return nil
}

// Stats returns lifetime dispatcher counters.
func (d *CampaignDispatcher) Stats() (campaigns, scheduled, failed int64) {
	return atomic.LoadInt64(&d.campaignsStarted),
		atomic.LoadInt64(&d.contactsScheduled),
		atomic.LoadInt64(&d.contactsFailed)
}

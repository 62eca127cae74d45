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
	"github.com/ignite/outreach-engine/internal/sender"
	"github.com/ignite/outreach-engine/internal/template"
)

// SequenceStepProcessor consumes sequence.step jobs. Each job sends one rule's
// message for one follow-up, then either schedules the next rule or completes
// the follow-up when the rule list is exhausted.
//
// A provider failure marks the follow-up failed before the error is re-raised
// to the queue. A retried delivery then finds a non-active follow-up and
// skips, so a send failure is terminal for the chain even while the job
// itself burns through its remaining retry attempts. Store errors re-raise
// without touching the follow-up: if persistence is down, a status write
// would fail anyway, and the retry may find it healthy again.
type SequenceStepProcessor struct {
	store         SequenceStore
	clients       ClientStore
	conversations ConversationStore
	messages      MessageStore
	credentials   sender.CredentialStore
	sender        sender.Sender
	enqueuer      queue.Enqueuer
	notifier      notify.Notifier

	now func() time.Time

	stepsSent   int64
	stepsFailed int64
	completed   int64
}

// NewSequenceStepProcessor creates a step processor. notifier may be nil.
func NewSequenceStepProcessor(store SequenceStore, clients ClientStore, conversations ConversationStore, messages MessageStore, credentials sender.CredentialStore, snd sender.Sender, enqueuer queue.Enqueuer, notifier notify.Notifier) *SequenceStepProcessor {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &SequenceStepProcessor{
		store:         store,
		clients:       clients,
		conversations: conversations,
		messages:      messages,
		credentials:   credentials,
		sender:        snd,
		enqueuer:      enqueuer,
		notifier:      notifier,
		now:           time.Now,
	}
}

// Handle processes one sequence.step job.
func (p *SequenceStepProcessor) Handle(ctx context.Context, job *queue.Job) error {
	var payload StepPayload
	if err := job.Decode(&payload); err != nil {
		log.Printf("[SequenceProcessor] Undecodable payload for job %s: %v", job.ID, err)
		return nil
	}

	if err := p.runStep(ctx, payload); err != nil {
		atomic.AddInt64(&p.stepsFailed, 1)
		log.Printf("[SequenceProcessor] Step for follow-up %s rule %s failed: %v", payload.FollowUpID, payload.RuleID, err)
		var ce chainError
		if errors.As(err, &ce) {
			if serr := p.store.SetFollowUpStatus(ctx, payload.FollowUpID, domain.FollowUpFailed); serr != nil {
				log.Printf("[SequenceProcessor] Mark follow-up %s failed: %v", payload.FollowUpID, serr)
			}
			p.notifier.Publish(ctx, payload.WorkspaceID, "followup.failed", map[string]string{
				"follow_up_id": payload.FollowUpID,
				"rule_id":      payload.RuleID,
			})
		}
		return err
	}
	return nil
}

// chainError wraps a failure that is fatal to the follow-up chain, as opposed
// to a store error where no status write is attempted.
type chainError struct{ err error }

func (e chainError) Error() string { return e.err.Error() }
func (e chainError) Unwrap() error { return e.err }

func (p *SequenceStepProcessor) runStep(ctx context.Context, payload StepPayload) error {
	fu, err := p.store.GetFollowUp(ctx, payload.FollowUpID)
	if errors.Is(err, ErrNotFound) {
		log.Printf("[SequenceProcessor] Follow-up %s no longer exists, skipping", payload.FollowUpID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get follow-up: %w", err)
	}

	if fu.Status != domain.FollowUpActive {
		log.Printf("[SequenceProcessor] Follow-up %s is %s, not active, skipping rule %s", fu.ID, fu.Status, payload.RuleID)
		return nil
	}

	rules, err := p.store.ListRules(ctx, payload.WorkspaceID)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}

	stepIdx := -1
	for i, r := range rules {
		if r.ID == payload.RuleID {
			stepIdx = i
			break
		}
	}
	if stepIdx == -1 {
		// The rule was deleted after this job was scheduled. There is nothing
		// left to send for it; close the chain.
		log.Printf("[SequenceProcessor] Rule %s is gone, completing follow-up %s", payload.RuleID, fu.ID)
		return p.complete(ctx, fu)
	}
	if stepIdx <= fu.CurrentStepOrder {
		// Redelivered job for a step that already ran.
		log.Printf("[SequenceProcessor] Step %d of follow-up %s already processed, skipping", stepIdx, fu.ID)
		return nil
	}
	rule := rules[stepIdx]

	// A vanished client or conversation, or a workspace with no sending
	// credentials, drops the step without failing the chain: there is no
	// address to deliver to and a retry would find the same hole.
	client, err := p.clients.GetClient(ctx, fu.ClientID)
	if errors.Is(err, ErrNotFound) {
		log.Printf("[SequenceProcessor] Client %s for follow-up %s is gone, dropping step", fu.ClientID, fu.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get client: %w", err)
	}
	conv, err := p.conversations.GetConversation(ctx, fu.ConversationID)
	if errors.Is(err, ErrNotFound) {
		log.Printf("[SequenceProcessor] Conversation %s for follow-up %s is gone, dropping step", fu.ConversationID, fu.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}
	creds, err := p.credentials.GetCredentials(ctx, payload.WorkspaceID)
	if errors.Is(err, ErrNoCredentials) {
		log.Printf("[SequenceProcessor] Workspace %s has no sending credentials, dropping step for follow-up %s", payload.WorkspaceID, fu.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get credentials: %w", err)
	}

	body := template.Render(rule.Template, map[string]string{"name": client.DisplayName})

	res, err := p.sender.Send(ctx, *creds, conv.ProviderHandle, body)
	if err != nil {
		return chainError{fmt.Errorf("provider send: %w", err)}
	}
	if !res.Success {
		return chainError{fmt.Errorf("provider rejected step message: %s", res.Reason)}
	}

	now := p.now()
	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderType:     domain.SenderAutomated,
		Content:        body,
		Status:         domain.MessageSent,
		Timestamp:      now,
		RuleID:         rule.ID,
	}
	if err := p.messages.CreateMessage(ctx, msg); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	if err := p.conversations.TouchConversation(ctx, conv.ID, now); err != nil {
		log.Printf("[SequenceProcessor] Touch conversation %s: %v", conv.ID, err)
	}
	atomic.AddInt64(&p.stepsSent, 1)
	p.notifier.Publish(ctx, payload.WorkspaceID, "sequence.message.sent", map[string]interface{}{
		"follow_up_id": fu.ID,
		"rule_id":      rule.ID,
		"step":         stepIdx,
	})

	if stepIdx+1 >= len(rules) {
		fu.CurrentStepOrder = stepIdx
		return p.complete(ctx, fu)
	}

	next := rules[stepIdx+1]
	if next.DelayMillis < 0 {
		// Rule creation rejects negative delays, so only a corrupted row can
		// get here. Close the chain instead of firing the step immediately.
		log.Printf("[SequenceProcessor] Rule %s has negative delay, completing follow-up %s", next.ID, fu.ID)
		fu.CurrentStepOrder = stepIdx
		return p.complete(ctx, fu)
	}
	delay := time.Duration(next.DelayMillis) * time.Millisecond
	nextAt := now.Add(delay)
	if err := p.store.UpdateFollowUpProgress(ctx, fu.ID, stepIdx, &nextAt); err != nil {
		return fmt.Errorf("update follow-up progress: %w", err)
	}

	_, err = p.enqueuer.Enqueue(ctx, JobTypeSequenceStep, StepPayload{
		FollowUpID:  fu.ID,
		RuleID:      next.ID,
		WorkspaceID: payload.WorkspaceID,
	}, queue.Options{Delay: delay, IdempotencyKey: StepKey(fu.ID, next.ID)})
	if err != nil && !errors.Is(err, queue.ErrDuplicate) {
		return fmt.Errorf("enqueue next step: %w", err)
	}
	return nil
}

func (p *SequenceStepProcessor) complete(ctx context.Context, fu *domain.FollowUp) error {
	if err := p.store.UpdateFollowUpProgress(ctx, fu.ID, fu.CurrentStepOrder, nil); err != nil {
		return fmt.Errorf("clear next message time: %w", err)
	}
	if err := p.store.SetFollowUpStatus(ctx, fu.ID, domain.FollowUpCompleted); err != nil {
		return fmt.Errorf("complete follow-up: %w", err)
	}
	atomic.AddInt64(&p.completed, 1)
	log.Printf("[SequenceProcessor] Follow-up %s completed after step %d", fu.ID, fu.CurrentStepOrder)
	p.notifier.Publish(ctx, fu.WorkspaceID, "followup.completed", map[string]string{"follow_up_id": fu.ID})
	return nil
}

// Stats returns lifetime step counters.
func (p *SequenceStepProcessor) Stats() (sent, failed, completed int64) {
	return atomic.LoadInt64(&p.stepsSent), atomic.LoadInt64(&p.stepsFailed), atomic.LoadInt64(&p.completed)
}

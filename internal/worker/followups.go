package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/notify"
	"github.com/ignite/outreach-engine/internal/queue"
)

// FollowUpService owns the follow-up lifecycle: initiation and the manual
// pause/resume/cancel/convert controls. The step processor advances active
// chains; this service only starts, parks, and re-arms them.
type FollowUpService struct {
	store    SequenceStore
	enqueuer queue.Enqueuer
	notifier notify.Notifier

	now func() time.Time
}

// NewFollowUpService creates the service. notifier may be nil.
func NewFollowUpService(store SequenceStore, enqueuer queue.Enqueuer, notifier notify.Notifier) *FollowUpService {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &FollowUpService{store: store, enqueuer: enqueuer, notifier: notifier, now: time.Now}
}

// Initiate starts a follow-up for a client's conversation. At most one active
// follow-up may exist per (workspace, client); the guard is a check-then-create
// so a concurrent pair of calls can slip through, which the product accepts.
func (s *FollowUpService) Initiate(ctx context.Context, workspaceID, clientID, conversationID string) (*domain.FollowUp, error) {
	active, err := s.store.HasActiveFollowUp(ctx, workspaceID, clientID)
	if err != nil {
		return nil, fmt.Errorf("check active follow-up: %w", err)
	}
	if active {
		return nil, ErrFollowUpExists
	}

	rules, err := s.store.ListRules(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, ErrNoRules
	}

	first := rules[0]
	now := s.now()
	delay := time.Duration(first.DelayMillis) * time.Millisecond
	nextAt := now.Add(delay)

	fu := &domain.FollowUp{
		ID:               uuid.NewString(),
		WorkspaceID:      workspaceID,
		ClientID:         clientID,
		ConversationID:   conversationID,
		Status:           domain.FollowUpActive,
		CurrentStepOrder: -1,
		NextMessageAt:    &nextAt,
		StartedAt:        now,
	}
	if err := s.store.CreateFollowUp(ctx, fu); err != nil {
		return nil, fmt.Errorf("create follow-up: %w", err)
	}

	_, err = s.enqueuer.Enqueue(ctx, JobTypeSequenceStep, StepPayload{
		FollowUpID:  fu.ID,
		RuleID:      first.ID,
		WorkspaceID: workspaceID,
	}, queue.Options{Delay: delay, IdempotencyKey: StepKey(fu.ID, first.ID)})
	if err != nil && !errors.Is(err, queue.ErrDuplicate) {
		return nil, fmt.Errorf("enqueue first step: %w", err)
	}

	log.Printf("[FollowUps] Started follow-up %s for client %s, first step at %s", fu.ID, clientID, nextAt.Format(time.RFC3339))
	s.notifier.Publish(ctx, workspaceID, "followup.started", map[string]string{
		"follow_up_id": fu.ID,
		"client_id":    clientID,
	})
	return fu, nil
}

// Pause parks an active follow-up. Any step job that arrives while paused
// skips itself, so pausing breaks the chain until Resume re-arms it.
func (s *FollowUpService) Pause(ctx context.Context, id string) error {
	fu, err := s.store.GetFollowUp(ctx, id)
	if err != nil {
		return err
	}
	if fu.Status != domain.FollowUpActive {
		return fmt.Errorf("%w: cannot pause %s follow-up", ErrInvalidTransition, fu.Status)
	}
	if err := s.store.SetFollowUpStatus(ctx, id, domain.FollowUpPaused); err != nil {
		return fmt.Errorf("pause follow-up: %w", err)
	}
	s.notifier.Publish(ctx, fu.WorkspaceID, "followup.paused", map[string]string{"follow_up_id": id})
	return nil
}

// Resume re-activates a paused follow-up and re-enqueues its next step. Any
// remaining wait from the original schedule is honored; an overdue step runs
// immediately.
func (s *FollowUpService) Resume(ctx context.Context, id string) error {
	fu, err := s.store.GetFollowUp(ctx, id)
	if err != nil {
		return err
	}
	if fu.Status != domain.FollowUpPaused {
		return fmt.Errorf("%w: cannot resume %s follow-up", ErrInvalidTransition, fu.Status)
	}

	rules, err := s.store.ListRules(ctx, fu.WorkspaceID)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	nextIdx := fu.CurrentStepOrder + 1
	if nextIdx >= len(rules) {
		// Nothing left to send; resuming just closes the chain.
		if err := s.store.SetFollowUpStatus(ctx, id, domain.FollowUpCompleted); err != nil {
			return fmt.Errorf("complete follow-up: %w", err)
		}
		s.notifier.Publish(ctx, fu.WorkspaceID, "followup.completed", map[string]string{"follow_up_id": id})
		return nil
	}
	next := rules[nextIdx]

	var delay time.Duration
	if fu.NextMessageAt != nil {
		if remaining := fu.NextMessageAt.Sub(s.now()); remaining > 0 {
			delay = remaining
		}
	}

	if err := s.store.SetFollowUpStatus(ctx, id, domain.FollowUpActive); err != nil {
		return fmt.Errorf("reactivate follow-up: %w", err)
	}

	// The original step key may have been consumed by a job that arrived
	// during the pause and skipped, so the resume job carries a fresh key.
	key := fmt.Sprintf("%s:resume:%d", StepKey(id, next.ID), s.now().UnixNano())
	_, err = s.enqueuer.Enqueue(ctx, JobTypeSequenceStep, StepPayload{
		FollowUpID:  id,
		RuleID:      next.ID,
		WorkspaceID: fu.WorkspaceID,
	}, queue.Options{Delay: delay, IdempotencyKey: key})
	if err != nil && !errors.Is(err, queue.ErrDuplicate) {
		return fmt.Errorf("enqueue resumed step: %w", err)
	}

	log.Printf("[FollowUps] Resumed follow-up %s, next rule %s in %s", id, next.ID, delay)
	s.notifier.Publish(ctx, fu.WorkspaceID, "followup.resumed", map[string]string{"follow_up_id": id})
	return nil
}

// Cancel terminates an active or paused follow-up.
func (s *FollowUpService) Cancel(ctx context.Context, id string) error {
	return s.finish(ctx, id, domain.FollowUpCancelled, "followup.cancelled")
}

// Convert marks a follow-up as converted, ending the chain because the client
// responded. Valid from active or paused.
func (s *FollowUpService) Convert(ctx context.Context, id string) error {
	return s.finish(ctx, id, domain.FollowUpConverted, "followup.converted")
}

func (s *FollowUpService) finish(ctx context.Context, id string, status domain.FollowUpStatus, event string) error {
	fu, err := s.store.GetFollowUp(ctx, id)
	if err != nil {
		return err
	}
	if fu.Status != domain.FollowUpActive && fu.Status != domain.FollowUpPaused {
		return fmt.Errorf("%w: follow-up is already %s", ErrInvalidTransition, fu.Status)
	}
	if err := s.store.SetFollowUpStatus(ctx, id, status); err != nil {
		return fmt.Errorf("set follow-up %s: %w", status, err)
	}
	s.notifier.Publish(ctx, fu.WorkspaceID, event, map[string]string{"follow_up_id": id})
	return nil
}

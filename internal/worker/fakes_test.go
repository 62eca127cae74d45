package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/distlock"
	"github.com/ignite/outreach-engine/internal/queue"
	"github.com/ignite/outreach-engine/internal/sender"
)

// memStore is an in-memory implementation of the worker store interfaces.
type memStore struct {
	mu            sync.Mutex
	campaigns     map[string]*domain.Campaign
	contacts      map[string]*domain.CampaignContact
	clients       map[string]*domain.Client
	conversations map[string]*domain.Conversation
	messages      map[string]*domain.Message
	rules         []domain.SequenceRule
	followUps     map[string]*domain.FollowUp

	resolveErr error
}

func newMemStore() *memStore {
	return &memStore{
		campaigns:     make(map[string]*domain.Campaign),
		contacts:      make(map[string]*domain.CampaignContact),
		clients:       make(map[string]*domain.Client),
		conversations: make(map[string]*domain.Conversation),
		messages:      make(map[string]*domain.Message),
		followUps:     make(map[string]*domain.FollowUp),
	}
}

func (s *memStore) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) MarkCampaignRunning(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.Status != domain.CampaignPending {
		return false, nil
	}
	now := time.Now()
	c.Status = domain.CampaignRunning
	c.StartedAt = &now
	return true, nil
}

func (s *memStore) MarkCampaignCompleted(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || (c.Status != domain.CampaignPending && c.Status != domain.CampaignRunning) {
		return false, nil
	}
	now := time.Now()
	c.Status = domain.CampaignCompleted
	c.CompletedAt = &now
	return true, nil
}

func (s *memStore) MarkCampaignFailed(_ context.Context, id, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = domain.CampaignFailed
	return nil
}

func (s *memStore) ListPendingContacts(_ context.Context, campaignID string) ([]domain.CampaignContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CampaignContact
	for _, c := range s.contacts {
		if c.CampaignID == campaignID && c.Status == domain.ContactPending {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) GetContact(_ context.Context, id string) (*domain.CampaignContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) UpdateContactStatus(_ context.Context, id string, status domain.ContactStatus, errorText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.ErrorText = errorText
	return nil
}

func (s *memStore) CountOpenContacts(_ context.Context, campaignID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.contacts {
		if c.CampaignID == campaignID && !c.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (s *memStore) ResolveClient(_ context.Context, workspaceID, channel, address, displayName string) (*Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}

	res := &Resolution{}
	for _, c := range s.clients {
		if c.WorkspaceID == workspaceID && c.Address == address && c.Channel == channel {
			cp := *c
			res.Client = &cp
		}
	}
	if res.Client == nil {
		c := &domain.Client{
			ID:          uuid.NewString(),
			WorkspaceID: workspaceID,
			Address:     address,
			DisplayName: displayName,
			Channel:     channel,
			CreatedAt:   time.Now(),
		}
		s.clients[c.ID] = c
		cp := *c
		res.Client = &cp
		res.NewClient = true
	}

	for _, cv := range s.conversations {
		if cv.WorkspaceID == workspaceID && cv.ClientID == res.Client.ID && cv.Channel == channel {
			cp := *cv
			res.Conversation = &cp
		}
	}
	if res.Conversation == nil {
		cv := &domain.Conversation{
			ID:             uuid.NewString(),
			WorkspaceID:    workspaceID,
			ClientID:       res.Client.ID,
			Channel:        channel,
			ProviderHandle: strings.TrimPrefix(address, "+") + "@chat",
			Status:         domain.ConversationActive,
			CreatedAt:      time.Now(),
		}
		s.conversations[cv.ID] = cv
		cp := *cv
		res.Conversation = &cp
		res.NewConversation = true
	}
	return res, nil
}

func (s *memStore) GetClient(_ context.Context, id string) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) GetConversation(_ context.Context, id string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) TouchConversation(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.LastMessageAt = &at
	return nil
}

func (s *memStore) CreateMessage(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages[m.ID] = &cp
	return nil
}

func (s *memStore) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) UpdateMessageStatus(_ context.Context, id string, status domain.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.Status = status
	return nil
}

func (s *memStore) ListRules(_ context.Context, workspaceID string) ([]domain.SequenceRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SequenceRule
	for _, r := range s.rules {
		if r.WorkspaceID == workspaceID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) GetFollowUp(_ context.Context, id string) (*domain.FollowUp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.followUps[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *memStore) HasActiveFollowUp(_ context.Context, workspaceID, clientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.followUps {
		if f.WorkspaceID == workspaceID && f.ClientID == clientID && f.Status == domain.FollowUpActive {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) CreateFollowUp(_ context.Context, f *domain.FollowUp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *f
	s.followUps[f.ID] = &cp
	return nil
}

func (s *memStore) UpdateFollowUpProgress(_ context.Context, id string, stepOrder int, nextAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.followUps[id]
	if !ok {
		return ErrNotFound
	}
	f.CurrentStepOrder = stepOrder
	f.NextMessageAt = nextAt
	return nil
}

func (s *memStore) SetFollowUpStatus(_ context.Context, id string, status domain.FollowUpStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.followUps[id]
	if !ok {
		return ErrNotFound
	}
	f.Status = status
	switch status {
	case domain.FollowUpCompleted, domain.FollowUpFailed, domain.FollowUpConverted, domain.FollowUpCancelled:
		now := time.Now()
		f.CompletedAt = &now
	}
	return nil
}

// capturedJob records one Enqueue call.
type capturedJob struct {
	Type    string
	Payload []byte
	Opts    queue.Options
}

func (j capturedJob) decode(t interface{ Fatalf(string, ...interface{}) }, v interface{}) {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		t.Fatalf("decode captured job: %v", err)
	}
}

// captureQueue records enqueued jobs and mimics idempotency key rejection.
type captureQueue struct {
	mu   sync.Mutex
	jobs []capturedJob
	keys map[string]bool
	err  error
}

func newCaptureQueue() *captureQueue {
	return &captureQueue{keys: make(map[string]bool)}
}

func (q *captureQueue) Enqueue(_ context.Context, jobType string, payload interface{}, opts queue.Options) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	if opts.IdempotencyKey != "" {
		key := jobType + ":" + opts.IdempotencyKey
		if q.keys[key] {
			return "", queue.ErrDuplicate
		}
		q.keys[key] = true
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	q.jobs = append(q.jobs, capturedJob{Type: jobType, Payload: body, Opts: opts})
	return uuid.NewString(), nil
}

func (q *captureQueue) ofType(jobType string) []capturedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []capturedJob
	for _, j := range q.jobs {
		if j.Type == jobType {
			out = append(out, j)
		}
	}
	return out
}

// fakeLock is an in-process DistLock.
type fakeLock struct{ busy bool }

func (l *fakeLock) Acquire(context.Context) (bool, error) { return !l.busy, nil }
func (l *fakeLock) Release(context.Context) error         { return nil }

func freeLocks(string) distlock.DistLock { return &fakeLock{} }
func busyLocks(string) distlock.DistLock { return &fakeLock{busy: true} }

// fakeSender replays scripted results in call order.
type fakeSender struct {
	mu      sync.Mutex
	results []sendOutcome
	calls   []sendCall
}

type sendOutcome struct {
	res *sender.Result
	err error
}

type sendCall struct {
	Handle string
	Body   string
}

func (s *fakeSender) Send(_ context.Context, _ sender.Credentials, handle, body string) (*sender.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sendCall{Handle: handle, Body: body})
	if len(s.results) == 0 {
		return &sender.Result{Success: true, ProviderMessageID: fmt.Sprintf("prov-%d", len(s.calls))}, nil
	}
	out := s.results[0]
	s.results = s.results[1:]
	return out.res, out.err
}

// fakeCreds returns fixed credentials per workspace. A non-nil err simulates
// a store outage.
type fakeCreds struct {
	creds map[string]sender.Credentials
	err   error
}

func (c *fakeCreds) GetCredentials(_ context.Context, workspaceID string) (*sender.Credentials, error) {
	if c.err != nil {
		return nil, c.err
	}
	cr, ok := c.creds[workspaceID]
	if !ok {
		return nil, ErrNoCredentials
	}
	return &cr, nil
}

// fakeNotifier records published events.
type fakeNotifier struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	WorkspaceID string
	Event       string
}

func (n *fakeNotifier) Publish(_ context.Context, workspaceID, event string, _ interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, publishedEvent{WorkspaceID: workspaceID, Event: event})
}

func (n *fakeNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Event == event {
			c++
		}
	}
	return c
}

// fakeLeads records reported new leads.
type fakeLeads struct {
	mu      sync.Mutex
	clients []*domain.Client
}

func (l *fakeLeads) NotifyNewLead(_ context.Context, client *domain.Client) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clients = append(l.clients, client)
}

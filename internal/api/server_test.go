package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/queue"
	"github.com/ignite/outreach-engine/internal/repository/postgres"
	"github.com/ignite/outreach-engine/internal/sender"
	"github.com/ignite/outreach-engine/internal/worker"
)

// apiStore is an in-memory Store plus the SequenceStore needed by the
// follow-up service.
type apiStore struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
	contacts  map[string][]domain.CampaignContact
	rules     []domain.SequenceRule
	followUps map[string]*domain.FollowUp
	creds     map[string]sender.Credentials
}

func newAPIStore() *apiStore {
	return &apiStore{
		campaigns: make(map[string]*domain.Campaign),
		contacts:  make(map[string][]domain.CampaignContact),
		followUps: make(map[string]*domain.FollowUp),
		creds:     make(map[string]sender.Credentials),
	}
}

func (s *apiStore) CreateCampaign(_ context.Context, c *domain.Campaign, contacts []domain.CampaignContact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.campaigns[c.ID] = c
	s.contacts[c.ID] = contacts
	return nil
}

func (s *apiStore) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, worker.ErrNotFound
	}
	return c, nil
}

func (s *apiStore) ListCampaigns(_ context.Context, workspaceID string) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if c.WorkspaceID == workspaceID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *apiStore) GetCampaignProgress(_ context.Context, campaignID string) (*postgres.CampaignProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &postgres.CampaignProgress{}
	for _, c := range s.contacts[campaignID] {
		switch c.Status {
		case domain.ContactPending:
			p.Pending++
		case domain.ContactScheduled:
			p.Scheduled++
		case domain.ContactSent:
			p.Sent++
		case domain.ContactFailed:
			p.Failed++
		}
	}
	return p, nil
}

func (s *apiStore) SetCampaignStatus(_ context.Context, id string, status domain.CampaignStatus, allowedFrom ...domain.CampaignStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return false, nil
	}
	for _, from := range allowedFrom {
		if c.Status == from {
			c.Status = status
			return true, nil
		}
	}
	return false, nil
}

func (s *apiStore) CreateRule(_ context.Context, r *domain.SequenceRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = time.Now()
	s.rules = append(s.rules, *r)
	return nil
}

func (s *apiStore) ListRules(_ context.Context, workspaceID string) ([]domain.SequenceRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SequenceRule
	for _, r := range s.rules {
		if r.WorkspaceID == workspaceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *apiStore) DeleteRule(_ context.Context, workspaceID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rules {
		if r.ID == id && r.WorkspaceID == workspaceID {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return nil
		}
	}
	return worker.ErrNotFound
}

func (s *apiStore) ListFollowUps(_ context.Context, workspaceID string) ([]domain.FollowUp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.FollowUp
	for _, f := range s.followUps {
		if f.WorkspaceID == workspaceID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (s *apiStore) GetFollowUp(_ context.Context, id string) (*domain.FollowUp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.followUps[id]
	if !ok {
		return nil, worker.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *apiStore) HasActiveFollowUp(_ context.Context, workspaceID, clientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.followUps {
		if f.WorkspaceID == workspaceID && f.ClientID == clientID && f.Status == domain.FollowUpActive {
			return true, nil
		}
	}
	return false, nil
}

func (s *apiStore) CreateFollowUp(_ context.Context, f *domain.FollowUp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *f
	s.followUps[f.ID] = &cp
	return nil
}

func (s *apiStore) UpdateFollowUpProgress(_ context.Context, id string, stepOrder int, nextAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.followUps[id]
	if !ok {
		return worker.ErrNotFound
	}
	f.CurrentStepOrder = stepOrder
	f.NextMessageAt = nextAt
	return nil
}

func (s *apiStore) SetFollowUpStatus(_ context.Context, id string, status domain.FollowUpStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.followUps[id]
	if !ok {
		return worker.ErrNotFound
	}
	f.Status = status
	return nil
}

func (s *apiStore) UpsertCredentials(_ context.Context, c *sender.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[c.WorkspaceID] = *c
	return nil
}

// testQueue records enqueued jobs.
type testQueue struct {
	mu   sync.Mutex
	jobs []string
	keys map[string]bool
}

func (q *testQueue) Enqueue(_ context.Context, jobType string, _ interface{}, opts queue.Options) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.keys == nil {
		q.keys = make(map[string]bool)
	}
	if opts.IdempotencyKey != "" {
		if q.keys[opts.IdempotencyKey] {
			return "", queue.ErrDuplicate
		}
		q.keys[opts.IdempotencyKey] = true
	}
	q.jobs = append(q.jobs, jobType)
	return uuid.NewString(), nil
}

func newTestServer() (*Server, *apiStore, *testQueue) {
	store := newAPIStore()
	q := &testQueue{}
	return NewServer(store, q, worker.NewFollowUpService(store, q, nil)), store, q
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreateCampaignEndpoint(t *testing.T) {
	srv, store, _ := newTestServer()

	rec := doJSON(t, srv, http.MethodPost, "/api/workspaces/ws1/campaigns", createCampaignRequest{
		Name:                "launch",
		Template:            "Hi {{name}}",
		SendIntervalSeconds: 60,
		AllowedSendStart:    "09:00",
		AllowedSendEnd:      "17:00",
		AllowedSendDays:     []int{1, 2, 3, 4, 5},
		Contacts: []createContactRequest{
			{Address: "+14155550001", DisplayName: "Ada"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created domain.Campaign
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	require.Equal(t, domain.CampaignPending, created.Status)
	require.Len(t, store.contacts[created.ID], 1)
}

func TestCreateCampaignValidation(t *testing.T) {
	srv, _, _ := newTestServer()

	rec := doJSON(t, srv, http.MethodPost, "/api/workspaces/ws1/campaigns", createCampaignRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/workspaces/ws1/campaigns", createCampaignRequest{
		Name:             "bad window",
		AllowedSendStart: "17:00",
		AllowedSendEnd:   "09:00",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartCampaignEndpoint(t *testing.T) {
	srv, store, q := newTestServer()
	store.campaigns["c1"] = &domain.Campaign{ID: "c1", WorkspaceID: "ws1", Status: domain.CampaignPending}

	rec := doJSON(t, srv, http.MethodPost, "/api/campaigns/c1/start", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []string{worker.JobTypeCampaignStart}, q.jobs)

	// A second start request dedupes at the queue but still reports queued.
	rec = doJSON(t, srv, http.MethodPost, "/api/campaigns/c1/start", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, q.jobs, 1)
}

func TestStartNonPendingCampaignConflicts(t *testing.T) {
	srv, store, _ := newTestServer()
	store.campaigns["c1"] = &domain.Campaign{ID: "c1", Status: domain.CampaignRunning}

	rec := doJSON(t, srv, http.MethodPost, "/api/campaigns/c1/start", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCampaignPauseResumeCancel(t *testing.T) {
	srv, store, _ := newTestServer()
	store.campaigns["c1"] = &domain.Campaign{ID: "c1", Status: domain.CampaignRunning}

	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, "/api/campaigns/c1/pause", nil).Code)
	require.Equal(t, domain.CampaignPaused, store.campaigns["c1"].Status)

	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, "/api/campaigns/c1/resume", nil).Code)
	require.Equal(t, domain.CampaignRunning, store.campaigns["c1"].Status)

	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, "/api/campaigns/c1/cancel", nil).Code)
	require.Equal(t, domain.CampaignCancelled, store.campaigns["c1"].Status)

	// Terminal campaigns reject further transitions.
	require.Equal(t, http.StatusConflict, doJSON(t, srv, http.MethodPost, "/api/campaigns/c1/pause", nil).Code)
}

func TestGetCampaignNotFoundEndpoint(t *testing.T) {
	srv, _, _ := newTestServer()
	rec := doJSON(t, srv, http.MethodGet, "/api/campaigns/ghost/", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRuleEndpoints(t *testing.T) {
	srv, _, _ := newTestServer()

	rec := doJSON(t, srv, http.MethodPost, "/api/workspaces/ws1/rules", createRuleRequest{
		DelayMillis: 60000,
		Template:    "Still interested?",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var rule domain.SequenceRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rule))

	rec = doJSON(t, srv, http.MethodGet, "/api/workspaces/ws1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rules []domain.SequenceRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	require.Len(t, rules, 1)

	rec = doJSON(t, srv, http.MethodDelete, "/api/workspaces/ws1/rules/"+rule.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/api/workspaces/ws1/rules/"+rule.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRuleValidation(t *testing.T) {
	srv, _, _ := newTestServer()
	rec := doJSON(t, srv, http.MethodPost, "/api/workspaces/ws1/rules", createRuleRequest{DelayMillis: -1, Template: "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/workspaces/ws1/rules", createRuleRequest{DelayMillis: 1000})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInitiateFollowUpEndpoint(t *testing.T) {
	srv, store, q := newTestServer()
	store.rules = []domain.SequenceRule{
		{ID: "r1", WorkspaceID: "ws1", DelayMillis: 1000, Template: "hello", CreatedAt: time.Now()},
	}

	rec := doJSON(t, srv, http.MethodPost, "/api/workspaces/ws1/followups", initiateFollowUpRequest{
		ClientID:       "cl1",
		ConversationID: "cv1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, q.jobs, worker.JobTypeSequenceStep)

	// Second initiation for the same client conflicts.
	rec = doJSON(t, srv, http.MethodPost, "/api/workspaces/ws1/followups", initiateFollowUpRequest{
		ClientID:       "cl1",
		ConversationID: "cv1",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestInitiateFollowUpWithoutRules(t *testing.T) {
	srv, _, _ := newTestServer()
	rec := doJSON(t, srv, http.MethodPost, "/api/workspaces/ws1/followups", initiateFollowUpRequest{
		ClientID:       "cl1",
		ConversationID: "cv1",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUpsertCredentialsEndpoint(t *testing.T) {
	srv, store, _ := newTestServer()
	rec := doJSON(t, srv, http.MethodPut, "/api/workspaces/ws1/credentials", upsertCredentialsRequest{
		InstanceID: "inst1",
		APIToken:   "tok",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "tok", store.creds["ws1"].APIToken)

	rec = doJSON(t, srv, http.MethodPut, "/api/workspaces/ws1/credentials", upsertCredentialsRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer()
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/httputil"
	"github.com/ignite/outreach-engine/internal/queue"
	"github.com/ignite/outreach-engine/internal/schedule"
	"github.com/ignite/outreach-engine/internal/worker"
)

type createCampaignRequest struct {
	Name                string                 `json:"name"`
	Channel             string                 `json:"channel"`
	Template            string                 `json:"template"`
	UseTemplate         *bool                  `json:"use_template"`
	SendIntervalSeconds int                    `json:"send_interval_seconds"`
	AllowedSendStart    string                 `json:"allowed_send_start"`
	AllowedSendEnd      string                 `json:"allowed_send_end"`
	AllowedSendDays     []int                  `json:"allowed_send_days"`
	Contacts            []createContactRequest `json:"contacts"`
}

type createContactRequest struct {
	Address     string            `json:"address"`
	DisplayName string            `json:"display_name"`
	Variables   map[string]string `json:"variables"`
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")

	var req createCampaignRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.BadRequest(w, "name is required")
		return
	}
	if req.AllowedSendStart == "" {
		req.AllowedSendStart = "00:00"
	}
	if req.AllowedSendEnd == "" {
		req.AllowedSendEnd = "00:00"
	}
	if _, err := schedule.ParseWindow(req.AllowedSendStart, req.AllowedSendEnd); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if len(req.AllowedSendDays) == 0 {
		req.AllowedSendDays = []int{0, 1, 2, 3, 4, 5, 6}
	}
	if req.Channel == "" {
		req.Channel = "chat"
	}
	useTemplate := true
	if req.UseTemplate != nil {
		useTemplate = *req.UseTemplate
	}

	campaign := &domain.Campaign{
		WorkspaceID:         workspaceID,
		Name:                req.Name,
		Channel:             req.Channel,
		Template:            req.Template,
		UseTemplate:         useTemplate,
		Status:              domain.CampaignPending,
		SendIntervalSeconds: req.SendIntervalSeconds,
		SendStart:           req.AllowedSendStart,
		SendEnd:             req.AllowedSendEnd,
		SendDays:            req.AllowedSendDays,
	}

	contacts := make([]domain.CampaignContact, 0, len(req.Contacts))
	for _, c := range req.Contacts {
		if c.Address == "" {
			httputil.BadRequest(w, "contact address is required")
			return
		}
		contacts = append(contacts, domain.CampaignContact{
			Address:     c.Address,
			DisplayName: c.DisplayName,
			Variables:   c.Variables,
			Status:      domain.ContactPending,
		})
	}

	if err := s.store.CreateCampaign(r.Context(), campaign, contacts); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, campaign)
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.store.ListCampaigns(r.Context(), chi.URLParam(r, "workspaceID"))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if campaigns == nil {
		campaigns = []domain.Campaign{}
	}
	httputil.OK(w, campaigns)
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")
	campaign, err := s.store.GetCampaign(r.Context(), id)
	if errors.Is(err, worker.ErrNotFound) {
		httputil.NotFound(w, "campaign not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	progress, err := s.store.GetCampaignProgress(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"campaign": campaign,
		"progress": progress,
	})
}

// handleStartCampaign enqueues the campaign.start job. Starting is
// asynchronous: the dispatcher picks the job up and fans the campaign out.
func (s *Server) handleStartCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")

	campaign, err := s.store.GetCampaign(r.Context(), id)
	if errors.Is(err, worker.ErrNotFound) {
		httputil.NotFound(w, "campaign not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if campaign.Status != domain.CampaignPending {
		httputil.Conflict(w, "campaign is "+string(campaign.Status)+", only pending campaigns can start")
		return
	}

	_, err = s.enqueuer.Enqueue(r.Context(), worker.JobTypeCampaignStart, worker.StartCampaignPayload{
		CampaignID:  id,
		WorkspaceID: campaign.WorkspaceID,
	}, queue.Options{IdempotencyKey: worker.StartCampaignKey(id)})
	if err != nil && !errors.Is(err, queue.ErrDuplicate) {
		httputil.InternalError(w, err)
		return
	}
	httputil.Accepted(w, map[string]string{"status": "queued", "campaign_id": id})
}

func (s *Server) handlePauseCampaign(w http.ResponseWriter, r *http.Request) {
	s.transitionCampaign(w, r, domain.CampaignPaused, domain.CampaignRunning)
}

func (s *Server) handleResumeCampaign(w http.ResponseWriter, r *http.Request) {
	s.transitionCampaign(w, r, domain.CampaignRunning, domain.CampaignPaused)
}

func (s *Server) handleCancelCampaign(w http.ResponseWriter, r *http.Request) {
	s.transitionCampaign(w, r, domain.CampaignCancelled,
		domain.CampaignPending, domain.CampaignRunning, domain.CampaignPaused)
}

func (s *Server) transitionCampaign(w http.ResponseWriter, r *http.Request, to domain.CampaignStatus, from ...domain.CampaignStatus) {
	id := chi.URLParam(r, "campaignID")
	ok, err := s.store.SetCampaignStatus(r.Context(), id, to, from...)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if !ok {
		httputil.Conflict(w, "campaign cannot transition to "+string(to))
		return
	}
	httputil.OK(w, map[string]string{"campaign_id": id, "status": string(to)})
}

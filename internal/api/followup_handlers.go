package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/httputil"
	"github.com/ignite/outreach-engine/internal/worker"
)

type initiateFollowUpRequest struct {
	ClientID       string `json:"client_id"`
	ConversationID string `json:"conversation_id"`
}

func (s *Server) handleInitiateFollowUp(w http.ResponseWriter, r *http.Request) {
	var req initiateFollowUpRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.ClientID == "" || req.ConversationID == "" {
		httputil.BadRequest(w, "client_id and conversation_id are required")
		return
	}

	fu, err := s.followUps.Initiate(r.Context(), chi.URLParam(r, "workspaceID"), req.ClientID, req.ConversationID)
	switch {
	case errors.Is(err, worker.ErrFollowUpExists):
		httputil.Conflict(w, "client already has an active follow-up")
	case errors.Is(err, worker.ErrNoRules):
		httputil.Unprocessable(w, "workspace has no sequence rules")
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.Created(w, fu)
	}
}

func (s *Server) handleListFollowUps(w http.ResponseWriter, r *http.Request) {
	followUps, err := s.store.ListFollowUps(r.Context(), chi.URLParam(r, "workspaceID"))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if followUps == nil {
		followUps = []domain.FollowUp{}
	}
	httputil.OK(w, followUps)
}

func (s *Server) handleGetFollowUp(w http.ResponseWriter, r *http.Request) {
	fu, err := s.store.GetFollowUp(r.Context(), chi.URLParam(r, "followUpID"))
	if errors.Is(err, worker.ErrNotFound) {
		httputil.NotFound(w, "follow-up not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, fu)
}

func (s *Server) handlePauseFollowUp(w http.ResponseWriter, r *http.Request) {
	s.controlFollowUp(w, r, s.followUps.Pause)
}

func (s *Server) handleResumeFollowUp(w http.ResponseWriter, r *http.Request) {
	s.controlFollowUp(w, r, s.followUps.Resume)
}

func (s *Server) handleCancelFollowUp(w http.ResponseWriter, r *http.Request) {
	s.controlFollowUp(w, r, s.followUps.Cancel)
}

func (s *Server) handleConvertFollowUp(w http.ResponseWriter, r *http.Request) {
	s.controlFollowUp(w, r, s.followUps.Convert)
}

func (s *Server) controlFollowUp(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	id := chi.URLParam(r, "followUpID")
	err := op(r.Context(), id)
	switch {
	case errors.Is(err, worker.ErrNotFound):
		httputil.NotFound(w, "follow-up not found")
	case errors.Is(err, worker.ErrInvalidTransition):
		httputil.Conflict(w, err.Error())
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.OK(w, map[string]string{"follow_up_id": id, "status": "ok"})
	}
}

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/httputil"
	"github.com/ignite/outreach-engine/internal/sender"
	"github.com/ignite/outreach-engine/internal/worker"
)

type createRuleRequest struct {
	DelayMillis int64  `json:"delay_millis"`
	Template    string `json:"template"`
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.DelayMillis < 0 {
		httputil.BadRequest(w, "delay_millis must not be negative")
		return
	}
	if req.Template == "" {
		httputil.BadRequest(w, "template is required")
		return
	}

	rule := &domain.SequenceRule{
		WorkspaceID: chi.URLParam(r, "workspaceID"),
		DelayMillis: req.DelayMillis,
		Template:    req.Template,
	}
	if err := s.store.CreateRule(r.Context(), rule); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, rule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListRules(r.Context(), chi.URLParam(r, "workspaceID"))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if rules == nil {
		rules = []domain.SequenceRule{}
	}
	httputil.OK(w, rules)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteRule(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "ruleID"))
	if errors.Is(err, worker.ErrNotFound) {
		httputil.NotFound(w, "rule not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

type upsertCredentialsRequest struct {
	InstanceID string `json:"instance_id"`
	APIToken   string `json:"api_token"`
}

func (s *Server) handleUpsertCredentials(w http.ResponseWriter, r *http.Request) {
	var req upsertCredentialsRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.APIToken == "" {
		httputil.BadRequest(w, "api_token is required")
		return
	}

	creds := &sender.Credentials{
		WorkspaceID: chi.URLParam(r, "workspaceID"),
		InstanceID:  req.InstanceID,
		APIToken:    req.APIToken,
	}
	if err := s.store.UpsertCredentials(r.Context(), creds); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"workspace_id": creds.WorkspaceID, "status": "saved"})
}

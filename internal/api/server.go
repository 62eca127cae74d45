// Package api serves the engine's management HTTP API: campaign creation
// and control, sequence rule CRUD, follow-up controls, and workspace
// credentials.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/queue"
	"github.com/ignite/outreach-engine/internal/repository/postgres"
	"github.com/ignite/outreach-engine/internal/sender"
	"github.com/ignite/outreach-engine/internal/worker"
)

// Store is the persistence surface the API needs. *postgres.Store satisfies
// it; tests plug in fakes.
type Store interface {
	CreateCampaign(ctx context.Context, c *domain.Campaign, contacts []domain.CampaignContact) error
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	ListCampaigns(ctx context.Context, workspaceID string) ([]domain.Campaign, error)
	GetCampaignProgress(ctx context.Context, campaignID string) (*postgres.CampaignProgress, error)
	SetCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus, allowedFrom ...domain.CampaignStatus) (bool, error)

	CreateRule(ctx context.Context, r *domain.SequenceRule) error
	ListRules(ctx context.Context, workspaceID string) ([]domain.SequenceRule, error)
	DeleteRule(ctx context.Context, workspaceID, id string) error

	ListFollowUps(ctx context.Context, workspaceID string) ([]domain.FollowUp, error)
	GetFollowUp(ctx context.Context, id string) (*domain.FollowUp, error)

	UpsertCredentials(ctx context.Context, c *sender.Credentials) error
}

// Server is the management API server.
type Server struct {
	store     Store
	enqueuer  queue.Enqueuer
	followUps *worker.FollowUpService
	router    chi.Router
}

// NewServer builds the server and its routes.
func NewServer(store Store, enqueuer queue.Enqueuer, followUps *worker.FollowUpService) *Server {
	s := &Server{
		store:     store,
		enqueuer:  enqueuer,
		followUps: followUps,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/workspaces/{workspaceID}", func(r chi.Router) {
		r.Post("/campaigns", s.handleCreateCampaign)
		r.Get("/campaigns", s.handleListCampaigns)

		r.Post("/rules", s.handleCreateRule)
		r.Get("/rules", s.handleListRules)
		r.Delete("/rules/{ruleID}", s.handleDeleteRule)

		r.Post("/followups", s.handleInitiateFollowUp)
		r.Get("/followups", s.handleListFollowUps)

		r.Put("/credentials", s.handleUpsertCredentials)
	})

	r.Route("/api/campaigns/{campaignID}", func(r chi.Router) {
		r.Get("/", s.handleGetCampaign)
		r.Post("/start", s.handleStartCampaign)
		r.Post("/pause", s.handlePauseCampaign)
		r.Post("/resume", s.handleResumeCampaign)
		r.Post("/cancel", s.handleCancelCampaign)
	})

	r.Route("/api/followups/{followUpID}", func(r chi.Router) {
		r.Get("/", s.handleGetFollowUp)
		r.Post("/pause", s.handlePauseFollowUp)
		r.Post("/resume", s.handleResumeFollowUp)
		r.Post("/cancel", s.handleCancelFollowUp)
		r.Post("/convert", s.handleConvertFollowUp)
	})

	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe runs the server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, host string, port int) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// requestLogger emits one structured entry per request. PII in query strings
// or paths is redacted by the logger itself.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

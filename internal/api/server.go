// Package api serves the dashboard read endpoints and the workflow
// trigger and status surface over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/triage/internal/core/domain"
	"github.com/vietddude/triage/internal/infra/storage"
	"github.com/vietddude/triage/internal/workflow"
)

// FeedbackReader serves the read endpoints.
type FeedbackReader interface {
	List(ctx context.Context, filter storage.FeedbackFilter) ([]*domain.Feedback, error)
	Stats(ctx context.Context) (*domain.Stats, error)
}

// WorkflowHost starts runs and reports their status.
type WorkflowHost interface {
	Trigger(ctx context.Context, triggeredBy string) (*workflow.Status, error)
	Status(ctx context.Context, id string) (*workflow.Status, error)
	List(ctx context.Context, limit int) ([]*workflow.Status, error)
}

// HealthHandler serves the health endpoints.
type HealthHandler interface {
	HandleHealth(w http.ResponseWriter, r *http.Request)
	HandleDetailed(w http.ResponseWriter, r *http.Request)
}

// Config holds HTTP server configuration.
type Config struct {
	Port int `yaml:"port"`
	// TriggerToken, when set, is required as a bearer token on POST /trigger.
	TriggerToken string `yaml:"trigger_token"`
	CORSOrigin   string `yaml:"cors_origin"`
}

// Server provides the HTTP API.
type Server struct {
	feedback FeedbackReader
	host     WorkflowHost
	health   HealthHandler
	cfg      Config
	router   chi.Router
	server   *http.Server
}

// NewServer creates a new API server. health may be nil.
func NewServer(cfg Config, feedback FeedbackReader, host WorkflowHost, health HealthHandler) *Server {
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}

	s := &Server{
		feedback: feedback,
		host:     host,
		health:   health,
		cfg:      cfg,
	}
	s.router = s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors(s.cfg.CORSOrigin))
	r.Use(countRequests)

	r.Get("/api/feedback", s.handleListFeedback)
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/runs", s.handleListRuns)

	r.With(bearerAuth(s.cfg.TriggerToken)).Post("/trigger", s.handleTrigger)
	r.Get("/status", s.handleStatus)

	if s.health != nil {
		r.Get("/health", s.health.HandleHealth)
		r.Get("/health/detailed", s.health.HandleDetailed)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

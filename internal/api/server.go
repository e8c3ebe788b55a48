package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/opensource-finance/fraudwatch/internal/metrics"
	"github.com/opensource-finance/fraudwatch/internal/pipeline"
	"github.com/opensource-finance/fraudwatch/internal/rules"
	"github.com/opensource-finance/fraudwatch/internal/tuning"
)

// Server is the HTTP API.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// Dependencies are the components the API serves.
type Dependencies struct {
	Repo    domain.Repository
	Cache   domain.Cache
	Scorer  *pipeline.Scorer
	Store   *rules.Store
	Admin   *tuning.Admin
	Version string
	Metrics domain.MetricsConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Dependencies) *Server {
	handler := NewHandler(deps.Repo, deps.Cache, deps.Scorer, deps.Store, deps.Admin, deps.Version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(TracingMiddleware)
	router.Use(ObserveMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if deps.Metrics.Enabled {
		path := deps.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, metrics.Handler())
	}

	// Scoring
	router.Post("/score", handler.Score)
	router.Get("/transactions/{id}", handler.GetTransaction)
	router.Get("/decisions", handler.ListDecisions)
	router.Get("/decisions/{id}", handler.GetDecision)

	// Rule document
	router.Get("/rules", handler.GetRules)
	router.Post("/rules/reload", handler.ReloadRules)

	// Tuning loop
	router.Get("/suggestions", handler.ListSuggestions)
	router.Post("/suggestions/{id}/approve", handler.ApproveSuggestion)
	router.Post("/suggestions/{id}/reject", handler.RejectSuggestion)
	router.Post("/advisor/run", handler.RunAdvisor)
	router.Post("/apply_rules", handler.ApplyRules)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
		server: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       time.Duration(cfg.ReadTimeout) * time.Second,
			WriteTimeout:      time.Duration(cfg.WriteTimeout) * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Addr is the listen address.
func (s *Server) Addr() string { return s.server.Addr }

// Start serves until Shutdown; it then returns http.ErrServerClosed.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router exposes the routes for httptest.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) Handler() *Handler {
	return s.handler
}

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/workpaper"
)

// Dependencies wires the server. Cache, Bus and Metrics are optional.
type Dependencies struct {
	Service    *workpaper.Service
	Repository domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Metrics    *metrics.Metrics

	// MetricsPath defaults to /metrics.
	MetricsPath string
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Dependencies, version string) *Server {
	handler := NewHandler(deps, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	if deps.Metrics != nil {
		router.Use(MetricsMiddleware(deps.Metrics))
	}
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Operational endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if deps.Metrics != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, deps.Metrics.Handler())
	}

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Put("/clients/{clientId}/account-mappings", handler.SaveAccountMappings)

		r.Route("/ledgers/{clientId}/{fiscalYear}", func(r chi.Router) {
			r.Post("/transactions", handler.ImportTransactions)
			r.Post("/population", handler.Population)
			r.Post("/plans", handler.GeneratePlan)
			r.Post("/plans/async", handler.RequestPlan)
			r.Get("/plans", handler.ListPlans)
		})

		r.Get("/plans/{id}", handler.GetPlan)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/carsim/internal/domain"
	"github.com/opensource-finance/carsim/internal/i18n"
	"github.com/opensource-finance/carsim/internal/rules"
	"github.com/opensource-finance/carsim/internal/simulation"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, simulations *simulation.Service, engine *rules.Engine, catalog *i18n.Catalog, version string) *Server {
	handler := NewHandler(repo, cache, bus, simulations, engine, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no locale negotiation)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Group(func(r chi.Router) {
		r.Use(LocaleMiddleware(catalog))

		// Simulations
		r.Post("/simulations", handler.Simulate)
		r.Post("/simulations/async", handler.SimulateAsync)
		r.Get("/simulations", handler.ListSimulations)
		r.Get("/simulations/{id}", handler.GetSimulation)
		r.Delete("/simulations/{id}", handler.DeleteSimulation)

		r.Group(func(r chi.Router) {
			r.Use(handler.RequireStore)

			// Reference data
			handler.routeReference(r)

			// Adjustment rule management
			r.Get("/adjustment-rules", handler.ListAdjustmentRules)
			r.Post("/adjustment-rules", handler.CreateAdjustmentRule)
			r.Delete("/adjustment-rules/{id}", handler.DeleteAdjustmentRule)
			r.Post("/adjustment-rules/reload", handler.ReloadAdjustmentRules)
		})
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

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}

package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/watchtower/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Dependencies) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware(cfg.AllowedOrigins)) // CORS for dashboards
	router.Use(TracingMiddleware)                  // OpenTelemetry tracing
	router.Use(LoggingMiddleware)                  // Request logging
	router.Use(RecoverMiddleware)                  // Panics become logged 500s
	router.Use(middleware.RealIP)                  // Extract real IP
	router.Use(middleware.Compress(5))             // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Form options and rule transparency
	router.Get("/catalog", handler.Catalog)
	router.Get("/rules/{detector}", handler.ListRules)

	// Interactive detectors
	router.Route("/detect", func(r chi.Router) {
		r.Post("/phishing", handler.DetectPhishing)
		r.Post("/bot", handler.DetectBot)
		r.Post("/network", handler.DetectNetwork)
	})

	// Synthetic traffic
	router.Get("/samples/{detector}", handler.Sample)

	// Live simulation
	router.Route("/simulation", func(r chi.Router) {
		r.Get("/", handler.GetSimulation)
		r.Post("/start", handler.StartSimulation)
		r.Post("/stop", handler.StopSimulation)
		r.Get("/stream", handler.StreamSimulation)
	})

	router.Get("/stats", handler.Stats)

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
		BaseContext: func(net.Listener) context.Context {
			return s.handler.deps.FeedContext
		},
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

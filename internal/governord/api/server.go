package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/crawlytics/governor/pkg/health"
	"github.com/crawlytics/governor/pkg/logging"
	"github.com/crawlytics/governor/pkg/memopt"
	"github.com/crawlytics/governor/pkg/metrics"
	"github.com/crawlytics/governor/pkg/ratelimit"
	"github.com/crawlytics/governor/pkg/retry"
)

// Core is the governor surface the operator API needs.
type Core interface {
	RunHealthChecks() health.Report
	CurrentMetrics() metrics.Current
	PerformanceReport(lastMinutes int) (metrics.PerformanceReport, error)
	CurrentLimits() ratelimit.Limits
	RetryMetrics() retry.Metrics
	Cleanup(aggressive bool) memopt.CleanupResult
}

// Config holds the server configuration
type Config struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxHeaderBytes int
}

// Dependencies holds the server dependencies
type Dependencies struct {
	Logger      logging.Logger
	Core        Core
	PromHandler http.Handler
}

// Server is the operator-facing HTTP surface: read-only snapshots of the
// core plus the manual cleanup trigger.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	logger     logging.Logger
}

// NewServer creates the API server.
func NewServer(cfg Config, deps Dependencies) *Server {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxHeaderBytes == 0 {
		cfg.MaxHeaderBytes = 1 << 20 // 1MB
	}

	router := mux.NewRouter()
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept"},
	})

	srv := &Server{
		router: router,
		logger: deps.Logger,
		httpServer: &http.Server{
			Addr:           fmt.Sprintf(":%s", cfg.Port),
			Handler:        corsHandler.Handler(router),
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
		},
	}

	router.Use(recoveryMiddleware(deps.Logger))
	router.Use(requestLogMiddleware(deps.Logger))
	srv.routes(deps)
	return srv
}

func (s *Server) routes(deps Dependencies) {
	h := newHandler(deps.Logger, deps.Core)

	s.router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	s.router.HandleFunc("/status", h.Status).Methods(http.MethodGet)
	s.router.HandleFunc("/report", h.Report).Methods(http.MethodGet)
	s.router.HandleFunc("/limits", h.Limits).Methods(http.MethodGet)
	s.router.HandleFunc("/retry", h.Retry).Methods(http.MethodGet)
	s.router.HandleFunc("/cleanup", h.Cleanup).Methods(http.MethodPost)

	if deps.PromHandler != nil {
		s.router.Handle("/metrics", deps.PromHandler).Methods(http.MethodGet)
	}
}

// Router exposes the handler tree, used by tests.
func (s *Server) Router() http.Handler {
	return s.httpServer.Handler
}

// Start starts the server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("Starting API server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	return s.httpServer.Shutdown(ctx)
}

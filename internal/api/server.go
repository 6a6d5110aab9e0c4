// Package api serves the monitor's query surface over HTTP: opportunities,
// alert history, live configuration, status, the websocket feed and metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"arbwatch/internal/config"
	"arbwatch/internal/database"
	"arbwatch/internal/model"
	"arbwatch/internal/monitor"
)

// Service is the part of the monitor the API reads and writes.
type Service interface {
	Status() monitor.Status
	ListOpportunities(ctx context.Context, f database.OpportunityFilter) ([]model.SpreadOpportunity, error)
	ListAlerts(limit int, f monitor.AlertFilter) []model.Alert
	Config() config.Snapshot
	UpdateAlertRule(rule model.AlertRule) (config.Snapshot, error)
	UpdateFeeProfile(exchange string, profile model.FeeProfile) (config.Snapshot, error)
}

// Config holds the HTTP server configuration.
type Config struct {
	Addr        string
	CORSOrigins []string
	// Feed upgrades /ws requests; nil disables the endpoint.
	Feed http.HandlerFunc
	// Metrics serves /metrics; nil disables the endpoint.
	Metrics http.Handler
}

// Server is the query API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a Server with every route registered.
func NewServer(cfg Config, svc Service, logger *slog.Logger) *Server {
	logger = logger.With("component", "api")
	h := &handlers{svc: svc, logger: logger, started: time.Now()}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /api/v1/status", h.status)
	mux.HandleFunc("GET /api/v1/opportunities", h.listOpportunities)
	mux.HandleFunc("GET /api/v1/alerts", h.listAlerts)
	mux.HandleFunc("GET /api/v1/config", h.getConfig)
	mux.HandleFunc("PUT /api/v1/config/alert-rule", h.updateAlertRule)
	mux.HandleFunc("PUT /api/v1/config/fee-profile/{exchange}", h.updateFeeProfile)
	if cfg.Feed != nil {
		mux.HandleFunc("GET /ws", cfg.Feed)
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	var handler http.Handler = mux
	handler = logging(logger)(handler)
	handler = cors(cfg.CORSOrigins)(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		handler: handler,
		logger:  logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("API server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

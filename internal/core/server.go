// Package core provides the HTTP chassis for the ledger API. It builds a chi
// router usable both as a local HTTP server and behind a Lambda Function
// URL, and enforces cross-cutting concerns (recovery, logging, metrics,
// authentication) before requests reach domain handlers.
package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lexledger/internal/config"
)

// MetricsCollector records API request telemetry.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts a group of handlers under /v1.
type RouteRegistrar func(r chi.Router)

// Server holds the dependencies shared by every request.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Metrics       MetricsCollector
	Authenticator Authenticator
	CronVerifier  CronVerifier
	HealthProbes  []HealthProbe

	// V1RouteRegistrars are populated by cmd/api; core cannot import the
	// handler packages without a cycle.
	V1RouteRegistrars []RouteRegistrar

	// Closers are released on Shutdown in order (pool, sqlite handle).
	Closers []io.Closer

	router *chi.Mux
}

// NewServer creates a Server. Routes are mounted separately by MountRoutes
// so tests can customise registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases storage handles.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")
	var firstErr error
	for _, c := range s.Closers {
		if err := c.Close(); err != nil {
			s.Logger.ErrorContext(ctx, "error closing resource", "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("closing resources: %w", err)
			}
		}
	}
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return firstErr
}

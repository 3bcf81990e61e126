package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kaizen/internal/orchestrator"
	"github.com/ashita-ai/kaizen/internal/ratelimit"
)

// Server is the Kaizen HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Pinger reports whether the storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusReporter exposes the latest orchestration status report.
type StatusReporter interface {
	GetAgentStatusReport() orchestrator.StatusReport
	Running() bool
}

// Config holds all dependencies and configuration for creating a Server.
// Storage, MCPServer and Limiter are optional.
type Config struct {
	Status    StatusReporter
	Storage   Pinger
	MCPServer *mcpserver.MCPServer
	// Limiter throttles /mcp per client address.
	Limiter ratelimit.Limiter
	Logger  *slog.Logger

	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
	// DegradedHealth marks the service degraded when overall health is below it.
	DegradedHealth float64
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := &healthHandler{
		status:    cfg.Status,
		storage:   cfg.Storage,
		version:   cfg.Version,
		degraded:  cfg.DegradedHealth,
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	if cfg.MCPServer != nil {
		limit := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, cfg.Logger)
		mux.Handle("/mcp", limit(mcpserver.NewStreamableHTTPServer(cfg.MCPServer)))
	}
	mux.HandleFunc("GET /health", h.ServeHTTP)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

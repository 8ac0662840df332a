package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aescanero/genflow/internal/application/orchestrator"
	"github.com/aescanero/genflow/internal/application/workers"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Defaults for the SSE stream
const (
	DefaultStreamPollInterval = 2 * time.Second
	DefaultStreamMaxDuration  = time.Hour
)

// JobSubmitter queues background work. *workers.Pool satisfies it.
type JobSubmitter interface {
	Submit(job workers.Job) error
}

// HealthReporter reports worker health. *workers.HealthMonitor satisfies it.
type HealthReporter interface {
	GetStatus() *workers.HealthStatus
}

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	server       *http.Server
	orchestrator *orchestrator.Manager
	jobs         JobSubmitter
	health       HealthReporter
	logger       *zap.Logger

	pollInterval      time.Duration
	maxStreamDuration time.Duration
}

// Config holds HTTP server configuration
type Config struct {
	Port         int
	Orchestrator *orchestrator.Manager
	Jobs         JobSubmitter
	Health       HealthReporter

	// MetricsHandler serves /metrics; promhttp.Handler() when nil
	MetricsHandler http.Handler

	// Auth verifies bearer tokens on /api/v1; nil disables authentication
	Auth TokenVerifier

	StreamPollInterval time.Duration
	StreamMaxDuration  time.Duration

	Logger *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:            router,
		orchestrator:      cfg.Orchestrator,
		jobs:              cfg.Jobs,
		health:            cfg.Health,
		logger:            logger,
		pollInterval:      cfg.StreamPollInterval,
		maxStreamDuration: cfg.StreamMaxDuration,
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultStreamPollInterval
	}
	if s.maxStreamDuration <= 0 {
		s.maxStreamDuration = DefaultStreamMaxDuration
	}

	metrics := cfg.MetricsHandler
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	s.setupRoutes(metrics, AuthMiddleware(cfg.Auth, logger))

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(metrics http.Handler, auth gin.HandlerFunc) {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Prometheus
	s.router.GET("/metrics", gin.WrapH(metrics))

	// API v1
	v1 := s.router.Group("/api/v1", auth)
	{
		v1.GET("/pipelines", s.handleListPipelines)
		v1.GET("/pipelines/:id", s.handleGetPipeline)

		v1.POST("/processes", s.handleStartProcess)
		v1.GET("/processes", s.handleListProcesses)
		v1.GET("/processes/:id", s.handleGetStatus)
		v1.GET("/processes/:id/data", s.handleGetData)
		v1.POST("/processes/:id/cancel", s.handleCancelProcess)
		v1.POST("/processes/:id/steps/:step/retry", s.handleRetryStep)
		v1.GET("/processes/:id/events", s.handleListEvents)
		v1.GET("/processes/:id/stream", s.handleStream)

		v1.GET("/metrics", s.handleMetrics)
	}
}

// SetupWebSocket adds the WebSocket stream handler under the API group
func (s *Server) SetupWebSocket(handler gin.HandlerFunc, verifier TokenVerifier) {
	s.router.GET("/api/v1/processes/:id/ws", AuthMiddleware(verifier, s.logger), handler)
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

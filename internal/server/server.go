package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/OpenNSW/batchrun/internal/auth"
	"github.com/OpenNSW/batchrun/internal/config"
	"github.com/OpenNSW/batchrun/internal/metrics"
	"github.com/OpenNSW/batchrun/internal/task/manager"
	"github.com/OpenNSW/batchrun/internal/task/persistence"
)

// LogSource streams archived result logs.
type LogSource interface {
	Open(ctx context.Context, runID uuid.UUID) (io.ReadCloser, string, error)
}

// Dependencies are the collaborators served by the API. Store, Logs and
// Gatherer are optional.
type Dependencies struct {
	Manager  manager.RunManager
	Store    persistence.RunStoreInterface
	Logs     LogSource
	Health   func(ctx context.Context) error
	Gatherer prometheus.Gatherer
}

// Server is the HTTP API.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	shutdown   time.Duration
}

// New builds the router. It fails when no API token is configured.
func New(cfg config.ServerConfig, deps Dependencies) (*Server, error) {
	if deps.Manager == nil {
		return nil, fmt.Errorf("run manager cannot be nil")
	}
	authService, err := auth.NewAuthService(cfg.APIToken)
	if err != nil {
		return nil, err
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	h := &handlers{deps: deps}
	engine.GET("/healthz", h.health)
	engine.GET("/metrics", gin.WrapH(metrics.Handler(deps.Gatherer)))

	api := engine.Group("/api", auth.RequireAuth(authService))
	api.POST("/runs", h.createRun)
	api.GET("/runs", h.listRuns)
	api.GET("/runs/:id", h.getRun)
	api.GET("/runs/:id/log", h.getRunLog)

	return &Server{
		engine: engine,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdown: cfg.ShutdownTimeout,
	}, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.shutdown
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	slog.Info("shutting down API server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.InfoContext(c.Request.Context(), "request handled",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

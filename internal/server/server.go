package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xaenox/helpdesk-agent/internal/agent"
	"github.com/xaenox/helpdesk-agent/internal/idempotency"
	"github.com/xaenox/helpdesk-agent/internal/retrieval"
	"go.uber.org/zap"
)

type Resolver interface {
	Resolve(ctx context.Context, ticketID, customerMessage string) (*agent.Result, error)
}

type Ingester interface {
	Ingest(ctx context.Context, req retrieval.IngestRequest) (*retrieval.IngestResult, error)
}

// ReplyCache deduplicates retried resolve requests.
type ReplyCache interface {
	Claim(ctx context.Context, key string) (*idempotency.Reply, string, error)
	Complete(ctx context.Context, key, token string, reply idempotency.Reply) error
	Release(ctx context.Context, key, token string) error
}

// ModelChecker reports whether the model provider can serve requests.
type ModelChecker interface {
	Ping(ctx context.Context) error
}

const modelCheckTimeout = 5 * time.Second

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type Server struct {
	resolver Resolver
	ingester Ingester
	replies  ReplyCache
	model    ModelChecker
	config   Config
	logger   *zap.Logger
}

// NewServer builds the HTTP API. replies may be nil, in which case requests
// are never deduplicated.
func NewServer(resolver Resolver, ingester Ingester, replies ReplyCache, config Config, logger *zap.Logger) *Server {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		resolver: resolver,
		ingester: ingester,
		replies:  replies,
		config:   config,
		logger:   logger,
	}
}

// WithModelCheck enables GET /healthz?deep=true, which also pings the model
// provider through m.
func (s *Server) WithModelCheck(m ModelChecker) *Server {
	s.model = m
	return s
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())

	r.GET("/healthz", s.Health)

	v1 := r.Group("/v1")
	{
		v1.POST("/help-agent", s.HelpAgent)
		v1.POST("/chunk-embed", s.ChunkEmbed)
	}
	return r
}

// Health reports liveness. With deep=true and a model check configured it
// also reports whether the model provider answers.
// GET /healthz
func (s *Server) Health(c *gin.Context) {
	if c.Query("deep") != "true" || s.model == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), modelCheckTimeout)
	defer cancel()
	if err := s.model.Ping(ctx); err != nil {
		s.logger.Warn("Model provider health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "model": "unreachable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "model": "ok"})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.config.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

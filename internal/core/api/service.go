// Package api provides the local HTTP ingestion surface host processes use to
// feed the SDK.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/solatis/engage/internal/core/auth"
)

// Client is the part of *sdk.SDK the API drives.
type Client interface {
	ReportEvent(name string, params map[string]any)
	ReportScreenVisit(path, title, category string)
	SetUserID(id string)
	SetUserEmail(email string)
	SignOutUser()
	DispatchNow()
	SetDeviceToken(token string)
	Unregister()
	OptIn()
	OptOut()
	Foreground()
	Ready() bool
}

// Server serves the ingestion API.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewRouter wires public endpoints and the authenticated /v1 group.
// Public: /health, /ready. Authentication is skipped when authenticator has
// no secrets.
func NewRouter(client Client, authenticator *auth.Authenticator, logger *slog.Logger) (*gin.Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if authenticator == nil {
		return nil, fmt.Errorf("authenticator cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if !client.Ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	v1 := r.Group("/v1")
	if authenticator.Enabled() {
		v1.Use(authenticator.Middleware())
	} else {
		logger.Warn("ingestion API running without authentication (set ENGAGE_API_SECRET)")
	}

	registerReportRoutes(v1, client)
	registerIdentityRoutes(v1, client)
	return r, nil
}

// NewServer creates a server listening on host:port.
func NewServer(host string, port int, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("ingestion API listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to serve %s: %w", s.srv.Addr, err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("api request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

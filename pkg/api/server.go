// Package api exposes the compliance engine and the prompt-cache admin
// surface over HTTP.
package api

import (
	"context"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maulikganatra-bit/ai-compliance-check/pkg/config"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/engine"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/prompt"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/ratelimit"
)

// Server is the HTTP front of the compliance service.
type Server struct {
	cfg      *config.Config
	engine   *engine.Engine
	resolver *prompt.Resolver
	limiter  *ratelimit.Limiter
	registry *prompt.Client

	echo *echo.Echo
	srv  *http.Server
}

// NewServer creates the API server and registers all routes.
func NewServer(cfg *config.Config, eng *engine.Engine, resolver *prompt.Resolver, limiter *ratelimit.Limiter) *Server {
	s := &Server{
		cfg:      cfg,
		engine:   eng,
		resolver: resolver,
		limiter:  limiter,
	}

	e := echo.New()
	e.Use(requestID())
	e.Use(securityHeaders())

	e.POST("/api/v1/compliance/check", s.checkHandler)
	e.POST("/api/v1/compliance/check/validate", s.validateHandler)
	e.POST("/api/v1/cache/refresh", s.cacheRefreshHandler)
	e.POST("/api/v1/cache/clear", s.cacheClearHandler)
	e.GET("/api/v1/cache/stats", s.cacheStatsHandler)
	e.POST("/api/v1/cache/sync", s.cacheSyncHandler)

	e.GET("/health", s.healthHandler)
	e.GET("/metrics", func(c *echo.Context) error {
		promhttp.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})

	s.echo = e
	return s
}

// SetRegistryClient wires the registry client used by the replica sync
// endpoint. Without it POST /api/v1/cache/sync returns 503.
func (s *Server) SetRegistryClient(client *prompt.Client) {
	s.registry = client
}

// Start begins serving on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.echo}
	return s.srv.ListenAndServe()
}

// StartWithListener serves on an existing listener. Lets tests bind an
// ephemeral port before starting.
func (s *Server) StartWithListener(l net.Listener) error {
	s.srv = &http.Server{Handler: s.echo}
	return s.srv.Serve(l)
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

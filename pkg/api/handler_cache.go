package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// cacheRefreshHandler handles POST /api/v1/cache/refresh.
// The optional body narrows the scope: both fields refresh one
// (rule, tenant) pair, rule_id alone refreshes every tenant cached under
// that rule, an empty or missing body refreshes everything.
func (s *Server) cacheRefreshHandler(c *echo.Context) error {
	// 1. Bind the optional body
	var req CacheRefreshRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, &ErrorDetail{Detail: err.Error()})
	}
	if req.RuleID == "" && req.TenantID != "" {
		return c.JSON(http.StatusBadRequest, &ErrorDetail{Detail: "tenant_id requires rule_id"})
	}

	ctx := c.Request().Context()

	// 2. Single pair
	if req.RuleID != "" && req.TenantID != "" {
		found := s.resolver.Refresh(ctx, req.RuleID, req.TenantID) != nil
		return c.JSON(http.StatusOK, &CacheActionResponse{
			Message: fmt.Sprintf("Refreshed prompt (%s, %s)", strings.ToUpper(req.RuleID), req.TenantID),
			Found:   &found,
			Stats:   s.resolver.Stats(),
		})
	}

	// 3. Whole rule
	if req.RuleID != "" {
		s.resolver.RefreshRule(ctx, req.RuleID)
		return c.JSON(http.StatusOK, &CacheActionResponse{
			Message: fmt.Sprintf("Refreshed all prompts for rule %s", strings.ToUpper(req.RuleID)),
			Stats:   s.resolver.Stats(),
		})
	}

	// 4. Everything
	s.resolver.RefreshAll(ctx)
	return c.JSON(http.StatusOK, &CacheActionResponse{
		Message: "Refreshed all cached prompts",
		Stats:   s.resolver.Stats(),
	})
}

// cacheClearHandler handles POST /api/v1/cache/clear.
// Prompts are re-fetched from the registry on the next compliance request.
func (s *Server) cacheClearHandler(c *echo.Context) error {
	s.resolver.Clear()
	return c.JSON(http.StatusOK, &CacheActionResponse{
		Message: "Cache cleared successfully",
		Stats:   s.resolver.Stats(),
	})
}

// cacheStatsHandler handles GET /api/v1/cache/stats.
func (s *Server) cacheStatsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.resolver.Stats())
}

// cacheSyncHandler handles POST /api/v1/cache/sync.
// Walks the registry and copies every prompt version missing from the local
// replica. Bounded by the request context; a large registry can take a
// while.
func (s *Server) cacheSyncHandler(c *echo.Context) error {
	if s.registry == nil {
		return c.JSON(http.StatusServiceUnavailable, &ErrorDetail{Detail: "prompt replication is not configured"})
	}

	result, err := s.registry.SyncReplica(c.Request().Context())
	if err != nil {
		slog.Error("Replica sync failed", "error", err)
		return c.JSON(http.StatusBadGateway, &ErrorDetail{Detail: "replica sync failed"})
	}
	return c.JSON(http.StatusOK, result)
}

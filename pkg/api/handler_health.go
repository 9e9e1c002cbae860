package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/maulikganatra-bit/ai-compliance-check/pkg/version"
)

// healthHandler handles GET /health.
// Returns a minimal response suitable for unauthenticated liveness probes.
// Upstream dependencies (the LLM backend, the prompt registry) are not
// probed, so a flaky upstream cannot make an orchestrator restart a healthy
// service.
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &HealthResponse{
		Status:  "ok",
		Message: "AI Compliance Checker API is running",
		Version: version.GitCommit,
	})
}

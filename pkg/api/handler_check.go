package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/maulikganatra-bit/ai-compliance-check/pkg/models"
)

// checkHandler handles POST /api/v1/compliance/check.
// Runs the full compliance job synchronously and returns the response
// envelope. Validation failures and unresolvable prompts reject the whole
// job before any model call is made.
func (s *Server) checkHandler(c *echo.Context) error {
	// 1. Bind HTTP request
	var req models.CheckRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, &ErrorDetail{Detail: err.Error()})
	}

	// 2. Run the job
	resp, err := s.engine.Check(c.Request().Context(), &req, 0)
	if err != nil {
		return writeCheckError(c, err)
	}

	// 3. Return the envelope
	return c.JSON(http.StatusOK, resp)
}

// validateHandler handles POST /api/v1/compliance/check/validate.
// Same contract as checkHandler with every prompt pinned to the requested
// registry version. Pinned fetches bypass the cache, so historical prompts
// can be replayed without disturbing production entries.
func (s *Server) validateHandler(c *echo.Context) error {
	// 1. Bind HTTP request
	var req ValidateCheckRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, &ErrorDetail{Detail: err.Error()})
	}

	// 2. Reject nonsense versions
	if req.PromptVersion < 0 {
		return c.JSON(http.StatusBadRequest, &ErrorDetail{Detail: "prompt_version must be zero or positive"})
	}

	// 3. Run the job against the pinned version
	resp, err := s.engine.Check(c.Request().Context(), &req.CheckRequest, req.PromptVersion)
	if err != nil {
		return writeCheckError(c, err)
	}

	// 4. Return the envelope
	return c.JSON(http.StatusOK, resp)
}

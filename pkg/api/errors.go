package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/maulikganatra-bit/ai-compliance-check/pkg/engine"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/models"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/trace"
)

// writeCheckError renders an engine failure in the wire shape clients
// expect: rejections as 400 with a detail string, job failures as a 500
// response envelope carrying error_message.
func writeCheckError(c *echo.Context, err error) error {
	if engine.IsValidationError(err) {
		return c.JSON(http.StatusBadRequest, &ErrorDetail{Detail: err.Error()})
	}

	var missingErr *engine.MissingPromptsError
	if errors.As(err, &missingErr) {
		return c.JSON(http.StatusBadRequest, &ErrorDetail{Detail: err.Error()})
	}

	var timeoutErr *engine.JobTimeoutError
	if errors.As(err, &timeoutErr) {
		return c.JSON(http.StatusInternalServerError, errorEnvelope(c, err.Error()))
	}

	// Unexpected error
	slog.Error("Unexpected engine error", "error", err)
	return c.JSON(http.StatusInternalServerError, errorEnvelope(c, "internal server error"))
}

// errorEnvelope builds the failure variant of the check response. Results is
// present but empty so clients can decode both outcomes into one shape.
func errorEnvelope(c *echo.Context, msg string) *models.CheckResponse {
	return &models.CheckResponse{
		OK:           http.StatusInternalServerError,
		Results:      []*models.RecordResult{},
		RequestID:    trace.RequestID(c.Request().Context()),
		ErrorMessage: msg,
	}
}

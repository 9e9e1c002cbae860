package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maulikganatra-bit/ai-compliance-check/pkg/trace"
)

func TestRequestID(t *testing.T) {
	var seen string

	e := echo.New()
	e.Use(requestID())
	e.GET("/test", func(c *echo.Context) error {
		seen = trace.RequestID(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	header := rec.Header().Get(trace.HeaderRequestID)
	require.NotEmpty(t, header)
	_, err := uuid.Parse(header)
	require.NoError(t, err, "X-Request-ID should be a UUID")
	assert.Equal(t, header, seen, "handler context should carry the header's ID")

	// A second request gets its own ID.
	rec2 := httptest.NewRecorder()
	e.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.NotEqual(t, header, rec2.Header().Get(trace.HeaderRequestID))
}

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	e.Use(securityHeaders())
	e.GET("/test", func(c *echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "camera=(), microphone=(), geolocation=()", rec.Header().Get("Permissions-Policy"))
}

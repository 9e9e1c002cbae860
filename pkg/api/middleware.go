package api

import (
	echo "github.com/labstack/echo/v5"

	"github.com/maulikganatra-bit/ai-compliance-check/pkg/trace"
)

// requestID returns middleware that assigns every request a fresh UUID,
// threads it through the request context, and echoes it in the X-Request-ID
// response header. The engine reads the same ID back when it builds the
// response envelope, so the header and the request_id field always agree.
func requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := trace.NewRequestID()
			ctx := trace.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Response().Header().Set(trace.HeaderRequestID, id)
			return next(c)
		}
	}
}

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

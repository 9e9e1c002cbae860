// Package trace carries the per-job request identifier through context,
// logs, and HTTP headers.
package trace

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// HeaderRequestID is the response header that echoes the job's request id.
const HeaderRequestID = "X-Request-ID"

// NewRequestID returns a fresh v4 identifier.
func NewRequestID() string {
	return uuid.New().String()
}

// WithRequestID returns a context carrying the given request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID retrieves the request id from context, or "" if absent.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Logger returns a logger annotated with the context's request id. Without
// one it returns the default logger unchanged.
func Logger(ctx context.Context) *slog.Logger {
	if id := RequestID(ctx); id != "" {
		return slog.Default().With("request_id", id)
	}
	return slog.Default()
}

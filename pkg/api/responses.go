package api

import (
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/prompt"
)

// ErrorDetail is the body of a rejected request.
type ErrorDetail struct {
	Detail string `json:"detail"`
}

// CacheActionResponse is returned by the cache refresh and clear endpoints.
// Found is only set for single-pair refreshes and reports whether the pair
// resolved to any prompt (custom or default) after the reload.
type CacheActionResponse struct {
	Message string       `json:"message"`
	Found   *bool        `json:"found,omitempty"`
	Stats   prompt.Stats `json:"stats"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Version string `json:"version"`
}

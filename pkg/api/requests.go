package api

import (
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/models"
)

// ValidateCheckRequest is the HTTP request body for
// POST /api/v1/compliance/check/validate. PromptVersion pins every prompt
// fetch to one registry version; zero means latest.
type ValidateCheckRequest struct {
	models.CheckRequest
	PromptVersion int `json:"prompt_version"`
}

// CacheRefreshRequest is the optional body for POST /api/v1/cache/refresh.
// Omit both fields (or send an empty body) to refresh every cached prompt,
// set rule_id alone to refresh all tenants under that rule, set both to
// refresh a single (rule, tenant) pair.
type CacheRefreshRequest struct {
	RuleID   string `json:"rule_id"`
	TenantID string `json:"tenant_id"`
}

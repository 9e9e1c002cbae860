// Package prompt resolves violation-check prompts from a remote registry.
//
// Prompt names follow a fixed convention, so no per-rule configuration is
// needed:
//
//	default prompt: {RULE_ID}_violation          e.g. FAIR_violation
//	custom prompt:  {RULE_ID}_{tenant}_violation e.g. FAIR_MIAMI_violation
//
// Resolved prompts are cached in a two-level map keyed by uppercase rule ID
// and verbatim tenant ID, with a TTL and a negative sentinel for tenants
// confirmed to have no custom prompt. An optional SQLite replica archives
// every prompt version the service fetches.
package prompt

import (
	"fmt"
	"strings"
)

// DefaultTenant is the reserved tenant key holding a rule's generic prompt.
// Tenant IDs are case-sensitive, so only this exact lowercase string is
// reserved.
const DefaultTenant = "default"

// Key identifies one (rule, tenant) prompt slot.
type Key struct {
	RuleID   string
	TenantID string
}

func (k Key) normalize() Key {
	return Key{RuleID: strings.ToUpper(k.RuleID), TenantID: k.TenantID}
}

// PromptConfig carries the generation parameters attached to a prompt in
// the registry. Nil fields fall back to the executor defaults.
type PromptConfig struct {
	Model           string   `json:"model,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"max_output_tokens,omitempty"`
	TopP            *float64 `json:"top_p,omitempty"`
}

// Entry is one resolved prompt.
type Entry struct {
	Name     string
	RuleID   string // uppercase
	TenantID string // verbatim, or DefaultTenant
	Text     string
	Config   PromptConfig
	Version  int
}

// customPromptName returns the registry name of a tenant-specific prompt.
// The rule is uppercased; the tenant is used exactly as given.
func customPromptName(ruleID, tenantID string) string {
	return fmt.Sprintf("%s_%s_violation", strings.ToUpper(ruleID), tenantID)
}

// defaultPromptName returns the registry name of a rule's generic prompt.
func defaultPromptName(ruleID string) string {
	return fmt.Sprintf("%s_violation", strings.ToUpper(ruleID))
}

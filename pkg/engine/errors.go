package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/maulikganatra-bit/ai-compliance-check/pkg/prompt"
)

// ValidationError reports a malformed request. The job is rejected before
// any prompt or LLM traffic.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return e.Detail
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// MissingPromptsError reports (rule, tenant) pairs for which neither a
// custom nor a default prompt could be resolved. The job is rejected before
// any LLM traffic.
type MissingPromptsError struct {
	Pairs []prompt.Key
}

func (e *MissingPromptsError) Error() string {
	parts := make([]string, 0, len(e.Pairs))
	for _, p := range e.Pairs {
		parts = append(parts, fmt.Sprintf("%s (tenant %q)", p.RuleID, p.TenantID))
	}
	return "no prompt found for: " + strings.Join(parts, ", ")
}

// JobTimeoutError reports that the whole job exceeded its processing
// deadline. Partial results are discarded.
type JobTimeoutError struct {
	Timeout time.Duration
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("job exceeded the %s processing deadline", e.Timeout)
}

// sortPairs orders (rule, tenant) pairs for stable error messages.
func sortPairs(pairs []prompt.Key) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].RuleID != pairs[j].RuleID {
			return pairs[i].RuleID < pairs[j].RuleID
		}
		return pairs[i].TenantID < pairs[j].TenantID
	})
}

package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/maulikganatra-bit/ai-compliance-check/pkg/models"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/prompt"
)

// ruleSpec is one rule scheduled against one tenant's records: the columns
// the caller asked to check plus the prompt the pair resolved to.
type ruleSpec struct {
	RuleID  string
	Tenant  string
	Columns []string
	Entry   *prompt.Entry
}

// fieldValues extracts the requested columns from a record. Validation has
// already guaranteed the keys are present; values may be empty strings.
func (s *ruleSpec) fieldValues(rec *models.Record) map[string]string {
	fields := make(map[string]string, len(s.Columns))
	for _, col := range s.Columns {
		v, _ := rec.Field(col)
		fields[col] = v
	}
	return fields
}

// jobPlan maps each tenant to the rules that apply to its records, in
// selector order.
type jobPlan map[string][]*ruleSpec

// pairs returns every (rule, tenant) pair in the plan, sorted.
func (p jobPlan) pairs() []prompt.Key {
	keys := make([]prompt.Key, 0, len(p))
	for tenant, specs := range p {
		for _, s := range specs {
			keys = append(keys, prompt.Key{RuleID: s.RuleID, TenantID: tenant})
		}
	}
	sortPairs(keys)
	return keys
}

// buildPlan validates the request and derives the per-tenant rule plan.
// Duplicate (rule, tenant) selectors merge by column union. Every failure
// is a ValidationError; none triggers prompt or LLM traffic.
func buildPlan(req *models.CheckRequest) (jobPlan, error) {
	if len(req.Data) == 0 {
		return nil, &ValidationError{Detail: "Empty data list"}
	}

	plan := make(jobPlan)
	index := make(map[prompt.Key]*ruleSpec, len(req.AIViolationID))
	for _, sel := range req.AIViolationID {
		ruleID := strings.ToUpper(strings.TrimSpace(sel.ID))
		if ruleID == "" {
			return nil, &ValidationError{Detail: "Selector is missing a rule ID"}
		}
		if sel.MLSID == "" {
			return nil, &ValidationError{
				Detail: fmt.Sprintf("Selector for rule %q is missing mlsId", ruleID),
			}
		}
		cols := sel.Columns()
		if len(cols) == 0 {
			return nil, &ValidationError{
				Detail: fmt.Sprintf("Selector for rule %q has no CheckColumns", ruleID),
			}
		}
		var invalid []string
		for _, c := range cols {
			if !models.IsKnownColumn(c) {
				invalid = append(invalid, c)
			}
		}
		if len(invalid) > 0 {
			return nil, &ValidationError{
				Detail: fmt.Sprintf("Invalid CheckColumns for rule %q: %v. Valid columns are: %v",
					ruleID, invalid, models.Columns()),
			}
		}

		key := prompt.Key{RuleID: ruleID, TenantID: sel.MLSID}
		if existing, ok := index[key]; ok {
			existing.Columns = unionColumns(existing.Columns, cols)
			continue
		}
		spec := &ruleSpec{RuleID: ruleID, Tenant: sel.MLSID, Columns: cols}
		index[key] = spec
		plan[sel.MLSID] = append(plan[sel.MLSID], spec)
	}

	for i := range req.Data {
		rec := &req.Data[i]
		specs, claimed := plan[rec.MLSID]
		if !claimed {
			return nil, &ValidationError{
				Detail: fmt.Sprintf("Record %q has mlsId %q with no matching selector",
					rec.MLSNum, rec.MLSID),
			}
		}

		var missing []string
		for _, col := range requiredColumns(specs) {
			if _, present := rec.Field(col); !present {
				missing = append(missing, col)
			}
		}
		if len(missing) > 0 {
			return nil, &ValidationError{
				Detail: fmt.Sprintf("Record %q is missing required columns: %v", rec.MLSNum, missing),
			}
		}

		var unknown []string
		for name := range rec.Fields {
			if !models.IsKnownColumn(name) {
				unknown = append(unknown, name)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return nil, &ValidationError{
				Detail: fmt.Sprintf("Record %q contains invalid fields: %v. Valid columns are: %v",
					rec.MLSNum, unknown, models.Columns()),
			}
		}
	}

	return plan, nil
}

// unionColumns merges two column sets into canonical column order.
func unionColumns(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for _, c := range a {
		seen[c] = true
	}
	for _, c := range b {
		seen[c] = true
	}
	out := make([]string, 0, len(seen))
	for _, c := range models.Columns() {
		if seen[c] {
			out = append(out, c)
		}
	}
	return out
}

// requiredColumns is the union of every rule's columns for one tenant.
func requiredColumns(specs []*ruleSpec) []string {
	var out []string
	for _, s := range specs {
		out = unionColumns(out, s.Columns)
	}
	return out
}

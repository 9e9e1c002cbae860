package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/maulikganatra-bit/ai-compliance-check/pkg/llm"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/metrics"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/models"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/prompt"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/ratelimit"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/trace"
)

// Sampling defaults applied when a prompt's config leaves them unset. The
// estimator's output allowance is a separate knob; see config.LimiterConfig.
const (
	defaultModel           = "gpt-4o"
	defaultTemperature     = 0.0
	defaultTopP            = 1.0
	defaultMaxOutputTokens = 6095
)

// CompletionClient is the slice of the LLM client the executor depends on.
type CompletionClient interface {
	Complete(ctx context.Context, req *llm.Request) (*llm.Response, error)
}

// Executor applies one rule to one record's column values: it gates on the
// rate limiter, renders the prompt, runs the LLM round trip, and maps the
// model's result back to API columns.
type Executor struct {
	client  CompletionClient
	limiter *ratelimit.Limiter
	metrics metrics.Recorder
}

// NewExecutor builds an executor. A nil recorder disables metrics.
func NewExecutor(client CompletionClient, limiter *ratelimit.Limiter, rec metrics.Recorder) *Executor {
	if rec == nil {
		rec = metrics.Nop()
	}
	return &Executor{client: client, limiter: limiter, metrics: rec}
}

// Execute runs one rule against one record. fields holds the requested
// columns with the record's values; entry must be non-nil. Failures never
// propagate: they come back as a finding carrying an error string, empty
// column lists, and zero tokens, so the record's other rules keep going.
func (x *Executor) Execute(ctx context.Context, ruleID string, fields map[string]string, entry *prompt.Entry) *models.RuleFinding {
	start := time.Now()
	finding, err := x.run(ctx, ruleID, fields, entry)
	if err != nil {
		trace.Logger(ctx).Error("Rule execution failed",
			"rule", ruleID, "prompt", entry.Name, "error", err)
		x.metrics.ObserveRuleCall(ruleID, true, time.Since(start))
		return errorFinding(fields, err)
	}
	x.metrics.ObserveRuleCall(ruleID, false, time.Since(start))
	return finding
}

func (x *Executor) run(ctx context.Context, ruleID string, fields map[string]string, entry *prompt.Entry) (*models.RuleFinding, error) {
	// Normalise the eight columns to template variables. Columns the caller
	// didn't request read as empty strings.
	vars := make(map[string]string, len(models.Columns()))
	values := make([]string, 0, len(models.Columns()))
	for _, col := range models.Columns() {
		name, _ := models.VariableFor(col)
		vars[name] = fields[col]
		values = append(values, fields[col])
	}

	estimated := x.limiter.EstimateTokens(strings.Join(values, " "))
	gateStart := time.Now()
	if err := x.limiter.WaitIfNeeded(ctx, estimated); err != nil {
		return nil, err
	}
	x.metrics.ObserveGateWait(time.Since(gateStart))

	req := completionRequest(entry, renderTemplate(entry.Text, vars))
	trace.Logger(ctx).Debug("Calling LLM",
		"rule", ruleID, "prompt", entry.Name, "model", req.Model, "estimated_tokens", estimated)
	resp, err := x.client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	return mapFinding(ctx, ruleID, fields, resp)
}

// completionRequest shapes the LLM request from the prompt's sampling
// config, falling back to service defaults for unset fields.
func completionRequest(entry *prompt.Entry, rendered string) *llm.Request {
	req := &llm.Request{
		Model:           entry.Config.Model,
		Input:           []llm.Message{{Role: "system", Content: rendered}},
		Temperature:     defaultTemperature,
		MaxOutputTokens: defaultMaxOutputTokens,
		TopP:            defaultTopP,
	}
	if req.Model == "" {
		req.Model = defaultModel
	}
	if entry.Config.Temperature != nil {
		req.Temperature = *entry.Config.Temperature
	}
	if entry.Config.MaxOutputTokens != nil {
		req.MaxOutputTokens = *entry.Config.MaxOutputTokens
	}
	if entry.Config.TopP != nil {
		req.TopP = *entry.Config.TopP
	}
	return req
}

// mapFinding extracts the result mapping from the model output and maps its
// variable keys back to API columns. Violations reported for a column whose
// input was empty are dropped with a warning; a column with non-empty input
// always appears, even with no violations; top-level keys beyond "result"
// and result keys beyond the known variables are preserved as extras.
func mapFinding(ctx context.Context, ruleID string, fields map[string]string, resp *llm.Response) (*models.RuleFinding, error) {
	parsed, err := llm.ParseObject(resp.OutputText)
	if err != nil {
		return nil, fmt.Errorf("parse model output: %w", err)
	}
	resultRaw, ok := parsed["result"]
	if !ok {
		return nil, fmt.Errorf("model output has no result mapping")
	}
	var result map[string]json.RawMessage
	if err := json.Unmarshal(resultRaw, &result); err != nil {
		return nil, fmt.Errorf("model result is not a mapping: %w", err)
	}

	finding := &models.RuleFinding{
		Columns:     make(map[string][]string),
		TotalTokens: resp.TotalTokens,
	}
	for _, col := range models.Columns() {
		name, _ := models.VariableFor(col)
		raw, reported := result[name]
		var violations []string
		if reported {
			if err := json.Unmarshal(raw, &violations); err != nil {
				return nil, fmt.Errorf("violations for %q are not a string list: %w", name, err)
			}
		}
		switch {
		case fields[col] != "":
			finding.Columns[col] = violations
		case len(violations) > 0:
			trace.Logger(ctx).Warn("Dropping violations reported for empty input",
				"rule", ruleID, "column", col, "count", len(violations))
		}
	}

	extra := make(map[string]json.RawMessage)
	for key, raw := range parsed {
		if key != "result" {
			extra[key] = raw
		}
	}
	for key, raw := range result {
		if _, known := models.ColumnFor(key); !known {
			extra[key] = raw
		}
	}
	if len(extra) > 0 {
		finding.Extra = extra
	}

	return finding, nil
}

// errorFinding is the local-failure result: every requested column whose
// input was non-empty gets an empty list, plus the error string.
func errorFinding(fields map[string]string, err error) *models.RuleFinding {
	finding := &models.RuleFinding{
		Columns: make(map[string][]string),
		Err:     err.Error(),
	}
	for col, value := range fields {
		if value != "" {
			finding.Columns[col] = []string{}
		}
	}
	return finding
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/maulikganatra-bit/ai-compliance-check/pkg/config"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/llm"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/metrics"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/models"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/prompt"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/ratelimit"
)

// fakeLLM scripts the completion client. The default handler returns an
// all-clear result; tests override handler to route or fail calls.
type fakeLLM struct {
	mu      sync.Mutex
	reqs    []*llm.Request
	handler func(ctx context.Context, req *llm.Request) (*llm.Response, error)
}

func (f *fakeLLM) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	handler := f.handler
	f.mu.Unlock()

	if handler != nil {
		return handler(ctx, req)
	}
	return &llm.Response{OutputText: allClearOutput(), TotalTokens: 42}, nil
}

func (f *fakeLLM) setHandler(h func(ctx context.Context, req *llm.Request) (*llm.Response, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func (f *fakeLLM) requests() []*llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*llm.Request(nil), f.reqs...)
}

// resultOutput builds a model output payload: a "result" mapping plus any
// additional top-level keys.
func resultOutput(result map[string]any, topLevel map[string]any) string {
	payload := map[string]any{"result": result}
	for k, v := range topLevel {
		payload[k] = v
	}
	out, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return string(out)
}

// allClearOutput reports empty violation lists for every known variable.
func allClearOutput() string {
	result := make(map[string]any)
	for _, col := range models.Columns() {
		name, _ := models.VariableFor(col)
		result[name] = []string{}
	}
	return resultOutput(result, nil)
}

// fakeFetcher is an in-memory prompt registry keyed by prompt name, with
// ascending versions per name.
type fakeFetcher struct {
	mu      sync.Mutex
	prompts map[string][]*prompt.Entry
	calls   int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{prompts: make(map[string][]*prompt.Entry)}
}

// add appends the next version of a named prompt. A zero Version is
// assigned the next ascending number.
func (f *fakeFetcher) add(name string, e *prompt.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.Name = name
	if e.Version == 0 {
		e.Version = len(f.prompts[name]) + 1
	}
	f.prompts[name] = append(f.prompts[name], e)
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFetcher) Fetch(_ context.Context, name string, version int) (*prompt.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	versions := f.prompts[name]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", prompt.ErrNotFound, name)
	}
	if version <= 0 {
		copied := *versions[len(versions)-1]
		return &copied, nil
	}
	for _, e := range versions {
		if e.Version == version {
			copied := *e
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: %s version %d", prompt.ErrNotFound, name, version)
}

// testEngine wires an engine over fakes, keeping handles on every
// collaborator for assertions.
type testEngine struct {
	engine   *Engine
	llm      *fakeLLM
	fetcher  *fakeFetcher
	resolver *prompt.Resolver
	limiter  *ratelimit.Limiter
	cfg      *config.Config
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	cfg := config.DefaultConfig()
	fetcher := newFakeFetcher()
	resolver := prompt.NewResolver(fetcher, cfg.Registry.CacheTTL)
	limiter := ratelimit.New(cfg.Limiter)
	client := &fakeLLM{}
	executor := NewExecutor(client, limiter, metrics.Nop())

	return &testEngine{
		engine:   New(cfg, resolver, executor, limiter, metrics.Nop()),
		llm:      client,
		fetcher:  fetcher,
		resolver: resolver,
		limiter:  limiter,
		cfg:      cfg,
	}
}

// rebuild re-wires the engine after cfg changes (timeouts, chunk size).
func (te *testEngine) rebuild() {
	executor := NewExecutor(te.llm, te.limiter, metrics.Nop())
	te.engine = New(te.cfg, te.resolver, executor, te.limiter, metrics.Nop())
}

func (te *testEngine) addDefaultPrompt(ruleID, text string) {
	te.fetcher.add(ruleID+"_violation", &prompt.Entry{Text: text})
}

func (te *testEngine) addCustomPrompt(ruleID, tenant, text string) {
	te.fetcher.add(ruleID+"_"+tenant+"_violation", &prompt.Entry{Text: text})
}

func selector(ruleID, tenant, columns string) models.RuleSelector {
	return models.RuleSelector{ID: ruleID, MLSID: tenant, CheckColumns: columns}
}

func record(mlsnum, tenant string, fields map[string]string) models.Record {
	if fields == nil {
		fields = make(map[string]string)
	}
	return models.Record{MLSNum: mlsnum, MLSID: tenant, Fields: fields}
}

func checkRequest(selectors []models.RuleSelector, records ...models.Record) *models.CheckRequest {
	return &models.CheckRequest{AIViolationID: selectors, Data: records}
}

// promptEntry builds a resolved default-tenant entry for driving the
// executor directly.
func promptEntry(ruleID, text string) *prompt.Entry {
	return &prompt.Entry{
		Name:     ruleID + "_violation",
		RuleID:   ruleID,
		TenantID: prompt.DefaultTenant,
		Text:     text,
		Version:  1,
	}
}

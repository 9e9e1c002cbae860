package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	echo "github.com/labstack/echo/v5"

	"github.com/maulikganatra-bit/ai-compliance-check/pkg/config"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/engine"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/llm"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/metrics"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/models"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/prompt"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/ratelimit"
)

// fakeLLM scripts the upstream model. Without a handler every call reports
// no violations and a fixed token count.
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
	return &llm.Response{OutputText: cleanOutput(), TotalTokens: 18}, nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func (f *fakeLLM) requests() []*llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*llm.Request(nil), f.reqs...)
}

// cleanOutput reports an empty violation list for every known variable.
func cleanOutput() string {
	result := make(map[string]any)
	for _, col := range models.Columns() {
		name, _ := models.VariableFor(col)
		result[name] = []string{}
	}
	out, _ := json.Marshal(map[string]any{"result": result})
	return string(out)
}

// fakeFetcher serves prompt entries by registry name. Fetch honors pinned
// versions: zero returns the stored entry, any other version must match it.
type fakeFetcher struct {
	mu      sync.Mutex
	prompts map[string]*prompt.Entry
}

func (f *fakeFetcher) add(name string, e *prompt.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prompts == nil {
		f.prompts = make(map[string]*prompt.Entry)
	}
	e.Name = name
	if e.Version == 0 {
		e.Version = 1
	}
	f.prompts[name] = e
}

func (f *fakeFetcher) Fetch(_ context.Context, name string, version int) (*prompt.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.prompts[name]
	if !ok || (version > 0 && version != e.Version) {
		return nil, fmt.Errorf("%w: %s", prompt.ErrNotFound, name)
	}
	copied := *e
	return &copied, nil
}

// testServer wires a real engine over scripted LLM and registry fakes and
// mounts it behind the full middleware chain.
type testServer struct {
	server   *Server
	llm      *fakeLLM
	fetcher  *fakeFetcher
	resolver *prompt.Resolver
	cfg      *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.DefaultConfig()
	fetcher := &fakeFetcher{}
	stub := &fakeLLM{}
	resolver := prompt.NewResolver(fetcher, cfg.Registry.CacheTTL)
	limiter := ratelimit.New(cfg.Limiter)
	executor := engine.NewExecutor(stub, limiter, metrics.Nop())
	eng := engine.New(cfg, resolver, executor, limiter, metrics.Nop())

	return &testServer{
		server:   NewServer(cfg, eng, resolver, limiter),
		llm:      stub,
		fetcher:  fetcher,
		resolver: resolver,
		cfg:      cfg,
	}
}

func (ts *testServer) addDefaultPrompt(ruleID, text string) {
	ts.fetcher.add(ruleID+"_violation", &prompt.Entry{Text: text})
}

func (ts *testServer) addCustomPrompt(ruleID, tenantID, text string) {
	ts.fetcher.add(ruleID+"_"+tenantID+"_violation", &prompt.Entry{Text: text})
}

// doJSON pushes one request through the full middleware chain.
func (ts *testServer) doJSON(method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	ts.server.echo.ServeHTTP(rec, req)
	return rec
}

// checkEnvelope mirrors the response envelope for assertions. Results stay
// loosely typed because record objects carry dynamic rule keys.
type checkEnvelope struct {
	OK           int              `json:"ok"`
	Results      []map[string]any `json:"results"`
	RequestID    string           `json:"request_id"`
	ErrorMessage string           `json:"error_message"`
	TotalTokens  int              `json:"total_tokens"`
	ElapsedTime  float64          `json:"elapsed_time"`
}

func decodeEnvelope(t *testing.T, body []byte) checkEnvelope {
	t.Helper()
	var env checkEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decoding response envelope: %v", err)
	}
	return env
}

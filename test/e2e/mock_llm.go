package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maulikganatra-bit/ai-compliance-check/pkg/models"
)

// defaultTokens is the usage reported when a script entry leaves Tokens
// unset.
const defaultTokens = 40

// LLMScript describes one scripted behaviour of the mock LLM backend.
// Entries are matched in order against the rendered prompt; the first entry
// whose Match substring occurs wins, and an empty Match matches every
// request.
type LLMScript struct {
	Match string

	// Violations maps template variables (public_remarks, ...) to the
	// violation lists the model reports. Unlisted variables come back as
	// empty lists.
	Violations map[string][]string

	// Extras adds top-level keys beside "result" in the model output.
	Extras map[string]any

	// RawOutput overrides the generated output_text entirely.
	RawOutput string

	// Tokens is the usage reported on success.
	Tokens int

	// Status, when not 200, is the HTTP status returned. FailTimes limits
	// how many calls fail before the entry starts succeeding; zero means
	// every call fails.
	Status    int
	FailTimes int

	// Headers are set on every response from this entry, for driving the
	// rate limiter (x-ratelimit-*).
	Headers map[string]string

	// Delay is slept before answering.
	Delay time.Duration

	failures int
}

// MockLLM is an httptest server speaking the responses API wire format.
type MockLLM struct {
	srv *httptest.Server

	mu       sync.Mutex
	script   []*LLMScript
	received []string
}

// NewMockLLM starts a mock backend that answers every request with an
// all-clean result until a script is installed.
func NewMockLLM(t *testing.T) *MockLLM {
	t.Helper()
	m := &MockLLM{}
	m.srv = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.srv.Close)
	return m
}

// URL returns the backend base URL.
func (m *MockLLM) URL() string { return m.srv.URL }

// Script installs the scripted behaviours, replacing any previous script.
func (m *MockLLM) Script(entries ...*LLMScript) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = entries
}

// Calls returns the number of requests served so far.
func (m *MockLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.received)
}

// Prompts returns the rendered prompt of every request, in arrival order.
func (m *MockLLM) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.received))
	copy(out, m.received)
	return out
}

func (m *MockLLM) handle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input []struct {
			Content string `json:"content"`
		} `json:"input"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	prompt := ""
	if len(req.Input) > 0 {
		prompt = req.Input[0].Content
	}

	m.mu.Lock()
	m.received = append(m.received, prompt)
	entry, fail := m.pick(prompt)
	m.mu.Unlock()

	if entry == nil {
		writeCompletion(w, nil, nil, "", defaultTokens)
		return
	}
	if entry.Delay > 0 {
		time.Sleep(entry.Delay)
	}
	for k, v := range entry.Headers {
		w.Header().Set(k, v)
	}
	if fail {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(entry.Status)
		_, _ = w.Write([]byte(`{"error": {"message": "scripted failure"}}`))
		return
	}
	tokens := entry.Tokens
	if tokens == 0 {
		tokens = defaultTokens
	}
	writeCompletion(w, entry.Violations, entry.Extras, entry.RawOutput, tokens)
}

// pick returns the first matching entry and whether this call should fail.
// Caller holds the mutex.
func (m *MockLLM) pick(prompt string) (*LLMScript, bool) {
	for _, e := range m.script {
		if e.Match != "" && !strings.Contains(prompt, e.Match) {
			continue
		}
		fail := e.Status != 0 && e.Status != http.StatusOK &&
			(e.FailTimes == 0 || e.failures < e.FailTimes)
		if fail {
			e.failures++
		}
		return e, fail
	}
	return nil, false
}

// writeCompletion emits a responses API body whose output_text carries a
// result mapping with every template variable present.
func writeCompletion(w http.ResponseWriter, violations map[string][]string, extras map[string]any, raw string, tokens int) {
	outputText := raw
	if outputText == "" {
		result := make(map[string][]string, len(models.Columns()))
		for _, col := range models.Columns() {
			name, _ := models.VariableFor(col)
			result[name] = []string{}
		}
		for name, v := range violations {
			result[name] = v
		}
		top := map[string]any{"result": result}
		for k, v := range extras {
			top[k] = v
		}
		encoded, _ := json.Marshal(top)
		outputText = string(encoded)
	}

	body := map[string]any{
		"output_text": outputText,
		"usage":       map[string]any{"total_tokens": tokens},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

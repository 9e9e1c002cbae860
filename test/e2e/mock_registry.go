package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// MockRegistry is an httptest server speaking the prompt registry wire
// format: a paginated name listing plus per-name version fetches. Versions
// are assigned in registration order, starting at 1.
type MockRegistry struct {
	srv *httptest.Server

	mu      sync.Mutex
	names   []string
	prompts map[string][]string // name -> prompt text per version, index 0 is version 1
	fetches int
}

// NewMockRegistry starts an empty mock registry.
func NewMockRegistry(t *testing.T) *MockRegistry {
	t.Helper()
	m := &MockRegistry{prompts: make(map[string][]string)}
	m.srv = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.srv.Close)
	return m
}

// URL returns the registry base URL.
func (m *MockRegistry) URL() string { return m.srv.URL }

// Add registers the next version of the named prompt.
func (m *MockRegistry) Add(name, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.prompts[name]; !ok {
		m.names = append(m.names, name)
	}
	m.prompts[name] = append(m.prompts[name], text)
}

// AddDefault registers the next version of a rule's default prompt.
func (m *MockRegistry) AddDefault(ruleID, text string) {
	m.Add(ruleID+"_violation", text)
}

// AddCustom registers the next version of a tenant-specific prompt.
func (m *MockRegistry) AddCustom(ruleID, tenantID, text string) {
	m.Add(ruleID+"_"+tenantID+"_violation", text)
}

// Fetches returns the number of single-prompt fetches served, misses
// included. Listing requests are not counted.
func (m *MockRegistry) Fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

func (m *MockRegistry) handle(w http.ResponseWriter, r *http.Request) {
	const base = "/api/public/v2/prompts"

	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == base {
		m.handleListing(w, r)
		return
	}
	if strings.HasPrefix(r.URL.Path, base+"/") {
		m.handleFetch(w, r, strings.TrimPrefix(r.URL.Path, base+"/"))
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (m *MockRegistry) handleListing(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		page, _ = strconv.Atoi(v)
	}

	data := make([]map[string]string, 0, len(m.names))
	if page == 1 {
		for _, name := range m.names {
			data = append(data, map[string]string{"name": name})
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": data,
		"meta": map[string]any{"total_items": len(m.names)},
	})
}

func (m *MockRegistry) handleFetch(w http.ResponseWriter, r *http.Request, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++

	versions := m.prompts[name]
	version := len(versions) // latest
	if v := r.URL.Query().Get("version"); v != "" {
		version, _ = strconv.Atoi(v)
	}
	if version < 1 || version > len(versions) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "prompt not found"}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"prompt":  versions[version-1],
		"version": version,
	})
}

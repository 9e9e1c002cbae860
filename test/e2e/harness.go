// Package e2e boots the complete compliance service over loopback HTTP and
// drives it the way an external caller would, against scripted LLM and
// prompt-registry backends. Every test gets its own server on a random
// port; shutdown is registered via t.Cleanup automatically.
package e2e

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maulikganatra-bit/ai-compliance-check/pkg/api"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/config"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/engine"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/llm"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/metrics"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/prompt"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/ratelimit"
)

// TestApp is a fully wired service instance plus handles on the pieces
// tests assert against.
type TestApp struct {
	Config   *config.Config
	LLM      *MockLLM
	Registry *MockRegistry
	Resolver *prompt.Resolver
	Limiter  *ratelimit.Limiter
	Server   *api.Server
	BaseURL  string

	// Replica is non-nil when the app was built WithReplica.
	Replica *prompt.Replica

	t *testing.T
}

type appOptions struct {
	jobTimeout time.Duration
	chunkSize  int
	cacheTTL   time.Duration
	maxRetries int
	baseDelay  time.Duration
	replica    bool
}

// TestAppOption customizes the wiring of a TestApp.
type TestAppOption func(*appOptions)

// WithJobTimeout overrides the per-job processing deadline.
func WithJobTimeout(d time.Duration) TestAppOption {
	return func(o *appOptions) { o.jobTimeout = d }
}

// WithChunkSize overrides the number of records admitted between
// concurrency re-evaluations.
func WithChunkSize(n int) TestAppOption {
	return func(o *appOptions) { o.chunkSize = n }
}

// WithCacheTTL overrides the prompt cache entry lifetime.
func WithCacheTTL(d time.Duration) TestAppOption {
	return func(o *appOptions) { o.cacheTTL = d }
}

// WithRetry sets the transient-failure retry count and base backoff delay.
func WithRetry(maxRetries int, baseDelay time.Duration) TestAppOption {
	return func(o *appOptions) {
		o.maxRetries = maxRetries
		o.baseDelay = baseDelay
	}
}

// WithReplica attaches a SQLite prompt replica in a temp directory, which
// also enables the sync admin endpoint.
func WithReplica() TestAppOption {
	return func(o *appOptions) { o.replica = true }
}

// NewTestApp creates and starts a full compliance service instance.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	o := &appOptions{
		jobTimeout: 30 * time.Second,
		chunkSize:  100,
		cacheTTL:   5 * time.Minute,
		maxRetries: 2,
		baseDelay:  10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(o)
	}

	// 1. Scripted upstream backends.
	mockLLM := NewMockLLM(t)
	mockRegistry := NewMockRegistry(t)

	// 2. Configuration pointing at the mocks. Backoff delays are short so
	// transient-failure scenarios finish quickly.
	t.Setenv("LLM_API_KEY", "e2e-test-key")
	cfg := config.DefaultConfig()
	cfg.LLM.BaseURL = mockLLM.URL()
	cfg.Registry.BaseURL = mockRegistry.URL()
	cfg.Registry.CacheTTL = o.cacheTTL
	cfg.Engine.JobTimeout = o.jobTimeout
	cfg.Engine.ChunkSize = o.chunkSize
	cfg.Retry.MaxRetries = o.maxRetries
	cfg.Retry.BaseDelay = o.baseDelay
	cfg.Retry.MaxDelay = 10 * o.baseDelay
	cfg.Retry.JitterRange = o.baseDelay
	require.NoError(t, cfg.Validate())

	// 3. Rate limiter, fed by every LLM response through the observer hook.
	limiter := ratelimit.New(cfg.Limiter)
	llmClient := llm.NewClient(cfg, llm.WithObserver(limiter))

	// 4. Registry client and prompt resolver, optionally with a replica.
	var replica *prompt.Replica
	var registryOpts []prompt.ClientOption
	if o.replica {
		r, err := prompt.OpenReplica(filepath.Join(t.TempDir(), "replica.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = r.Close() })
		replica = r
		registryOpts = append(registryOpts, prompt.WithReplica(replica))
	}
	registryClient := prompt.NewClient(cfg, registryOpts...)
	resolver := prompt.NewResolver(registryClient, cfg.Registry.CacheTTL)

	// 5. Engine.
	executor := engine.NewExecutor(llmClient, limiter, metrics.Nop())
	eng := engine.New(cfg, resolver, executor, limiter, metrics.Nop())

	// 6. HTTP server on a random loopback port.
	server := api.NewServer(cfg, eng, resolver, limiter)
	if o.replica {
		server.SetRegistryClient(registryClient)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = server.StartWithListener(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})

	return &TestApp{
		Config:   cfg,
		LLM:      mockLLM,
		Registry: mockRegistry,
		Resolver: resolver,
		Limiter:  limiter,
		Server:   server,
		BaseURL:  fmt.Sprintf("http://%s", ln.Addr().String()),
		Replica:  replica,
		t:        t,
	}
}

package prompt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu      sync.Mutex
	prompts map[string]*Entry
	calls   map[string]int
	err     error
}

func newFakeFetcher(prompts map[string]*Entry) *fakeFetcher {
	if prompts == nil {
		prompts = make(map[string]*Entry)
	}
	return &fakeFetcher{prompts: prompts, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(_ context.Context, name string, version int) (*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	if f.err != nil {
		return nil, f.err
	}
	e, ok := f.prompts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if version > 0 && e.Version != version {
		return nil, fmt.Errorf("%w: %s v%d", ErrNotFound, name, version)
	}
	cp := *e
	return &cp, nil
}

func (f *fakeFetcher) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeFetcher) set(name string, e *Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts[name] = e
}

func (f *fakeFetcher) remove(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.prompts, name)
}

// backdate rewrites the insertion timestamp of one cached slot so TTL
// behaviour can be tested without sleeping.
func backdate(r *Resolver, rule, tenant string, age time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stamps[rule][tenant] = time.Now().Add(-age)
}

func TestGet(t *testing.T) {
	ctx := context.Background()

	t.Run("custom prompt wins over default", func(t *testing.T) {
		f := newFakeFetcher(map[string]*Entry{
			"FAIR_Miami_violation": {Text: "custom text", Version: 1},
			"FAIR_violation":       {Text: "default text", Version: 1},
		})
		r := NewResolver(f, 300*time.Second)

		e := r.Get(ctx, "fair", "Miami")
		require.NotNil(t, e)
		assert.Equal(t, "custom text", e.Text)
		assert.Equal(t, "FAIR", e.RuleID)
		assert.Equal(t, "Miami", e.TenantID)

		r.Get(ctx, "FAIR", "Miami")
		assert.Equal(t, 1, f.callCount("FAIR_Miami_violation"), "second get must hit the cache")
		assert.Equal(t, 0, f.callCount("FAIR_violation"))
	})

	t.Run("falls back to default and stores a sentinel", func(t *testing.T) {
		f := newFakeFetcher(map[string]*Entry{
			"FAIR_violation": {Text: "default text", Version: 1},
		})
		r := NewResolver(f, 300*time.Second)

		e := r.Get(ctx, "FAIR", "Miami")
		require.NotNil(t, e)
		assert.Equal(t, "default text", e.Text)
		assert.Equal(t, DefaultTenant, e.TenantID)

		s := r.Stats()
		assert.Equal(t, []string{"Miami"}, s.Cache["FAIR"].UsesDefault)
		assert.Equal(t, []string{"default"}, s.Cache["FAIR"].Loaded)

		r.Get(ctx, "FAIR", "Miami")
		assert.Equal(t, 1, f.callCount("FAIR_Miami_violation"), "sentinel must suppress re-fetch")
		assert.Equal(t, 1, f.callCount("FAIR_violation"))
	})

	t.Run("nil when neither name exists", func(t *testing.T) {
		f := newFakeFetcher(nil)
		r := NewResolver(f, 300*time.Second)

		assert.Nil(t, r.Get(ctx, "FAIR", "Miami"))
		assert.Equal(t, 1, f.callCount("FAIR_Miami_violation"))
		assert.Equal(t, 1, f.callCount("FAIR_violation"))
	})

	t.Run("default tenant skips the custom name", func(t *testing.T) {
		f := newFakeFetcher(map[string]*Entry{
			"FAIR_violation": {Text: "default text", Version: 1},
		})
		r := NewResolver(f, 300*time.Second)

		e := r.Get(ctx, "FAIR", DefaultTenant)
		require.NotNil(t, e)
		assert.Equal(t, 0, f.callCount("FAIR_default_violation"))
		assert.Equal(t, 1, f.callCount("FAIR_violation"))
	})

	t.Run("tenants are case-sensitive", func(t *testing.T) {
		f := newFakeFetcher(map[string]*Entry{
			"FAIR_Miami_violation": {Text: "lower", Version: 1},
			"FAIR_MIAMI_violation": {Text: "upper", Version: 1},
		})
		r := NewResolver(f, 300*time.Second)

		assert.Equal(t, "lower", r.Get(ctx, "FAIR", "Miami").Text)
		assert.Equal(t, "upper", r.Get(ctx, "FAIR", "MIAMI").Text)

		s := r.Stats()
		assert.Equal(t, []string{"MIAMI", "Miami"}, s.Cache["FAIR"].Loaded)
	})

	t.Run("transport errors resolve as missing", func(t *testing.T) {
		f := newFakeFetcher(map[string]*Entry{
			"FAIR_violation": {Text: "default text", Version: 1},
		})
		f.err = errors.New("registry unreachable")
		r := NewResolver(f, 300*time.Second)

		assert.Nil(t, r.Get(ctx, "FAIR", "Miami"))
	})

	t.Run("concurrent gets are safe", func(t *testing.T) {
		f := newFakeFetcher(map[string]*Entry{
			"FAIR_violation": {Text: "default text", Version: 1},
		})
		r := NewResolver(f, 300*time.Second)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NotNil(t, r.Get(ctx, "FAIR", "Miami"))
			}()
		}
		wg.Wait()
	})
}

func TestTTL(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh entries are served from cache", func(t *testing.T) {
		f := newFakeFetcher(map[string]*Entry{
			"FAIR_violation": {Text: "default text", Version: 1},
		})
		r := NewResolver(f, 300*time.Second)

		r.Get(ctx, "FAIR", DefaultTenant)
		backdate(r, "FAIR", DefaultTenant, 100*time.Second)
		r.Get(ctx, "FAIR", DefaultTenant)
		assert.Equal(t, 1, f.callCount("FAIR_violation"))
	})

	t.Run("expired entries are reloaded", func(t *testing.T) {
		f := newFakeFetcher(map[string]*Entry{
			"FAIR_violation": {Text: "v1", Version: 1},
		})
		r := NewResolver(f, 300*time.Second)

		r.Get(ctx, "FAIR", DefaultTenant)
		f.set("FAIR_violation", &Entry{Text: "v2", Version: 2})
		backdate(r, "FAIR", DefaultTenant, 301*time.Second)

		e := r.Get(ctx, "FAIR", DefaultTenant)
		require.NotNil(t, e)
		assert.Equal(t, 2, e.Version)
		assert.Equal(t, 2, f.callCount("FAIR_violation"))
	})

	t.Run("zero ttl disables expiry", func(t *testing.T) {
		f := newFakeFetcher(map[string]*Entry{
			"FAIR_violation": {Text: "default text", Version: 1},
		})
		r := NewResolver(f, 0)

		r.Get(ctx, "FAIR", DefaultTenant)
		backdate(r, "FAIR", DefaultTenant, 10000*time.Hour)
		r.Get(ctx, "FAIR", DefaultTenant)
		assert.Equal(t, 1, f.callCount("FAIR_violation"))
	})

	t.Run("expired sentinel rechecks the registry", func(t *testing.T) {
		f := newFakeFetcher(map[string]*Entry{
			"FAIR_violation": {Text: "default text", Version: 1},
		})
		r := NewResolver(f, 300*time.Second)

		// First get confirms there is no custom prompt.
		r.Get(ctx, "FAIR", "Miami")

		// A custom prompt appears later; the sentinel still hides it.
		f.set("FAIR_Miami_violation", &Entry{Text: "new custom", Version: 1})
		assert.Equal(t, "default text", r.Get(ctx, "FAIR", "Miami").Text)
		assert.Equal(t, 1, f.callCount("FAIR_Miami_violation"))

		// Once the sentinel expires the custom prompt is discovered.
		backdate(r, "FAIR", "Miami", 301*time.Second)
		assert.Equal(t, "new custom", r.Get(ctx, "FAIR", "Miami").Text)
		assert.Equal(t, 2, f.callCount("FAIR_Miami_violation"))
	})
}

func TestLoadBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("returns a value for every pair", func(t *testing.T) {
		f := newFakeFetcher(map[string]*Entry{
			"FAIR_violation": {Text: "fair", Version: 1},
			"COMP_violation": {Text: "comp", Version: 1},
		})
		r := NewResolver(f, 300*time.Second)

		out := r.LoadBatch(ctx, []Key{
			{RuleID: "fair", TenantID: "Miami"},
			{RuleID: "COMP", TenantID: "Miami"},
			{RuleID: "MISSING", TenantID: "Miami"},
		})

		require.Len(t, out, 3)
		require.NotNil(t, out[Key{RuleID: "FAIR", TenantID: "Miami"}])
		assert.Equal(t, "fair", out[Key{RuleID: "FAIR", TenantID: "Miami"}].Text)
		assert.Equal(t, "comp", out[Key{RuleID: "COMP", TenantID: "Miami"}].Text)
		assert.Nil(t, out[Key{RuleID: "MISSING", TenantID: "Miami"}])
	})

	t.Run("snapshot survives immediate expiry", func(t *testing.T) {
		f := newFakeFetcher(map[string]*Entry{
			"FAIR_violation": {Text: "fair", Version: 1},
		})
		r := NewResolver(f, time.Nanosecond)

		out := r.LoadBatch(ctx, []Key{{RuleID: "FAIR", TenantID: DefaultTenant}})
		require.NotNil(t, out[Key{RuleID: "FAIR", TenantID: DefaultTenant}],
			"loaded value must be returned even if the cache entry expired meanwhile")
	})

	t.Run("duplicate pairs collapse to one load", func(t *testing.T) {
		f := newFakeFetcher(map[string]*Entry{
			"FAIR_violation": {Text: "fair", Version: 1},
		})
		r := NewResolver(f, 300*time.Second)

		out := r.LoadBatch(ctx, []Key{
			{RuleID: "FAIR", TenantID: DefaultTenant},
			{RuleID: "fair", TenantID: DefaultTenant},
		})
		assert.Len(t, out, 1)
		assert.Equal(t, 1, f.callCount("FAIR_violation"))
	})

	t.Run("cached pairs are not refetched", func(t *testing.T) {
		f := newFakeFetcher(map[string]*Entry{
			"FAIR_violation": {Text: "fair", Version: 1},
		})
		r := NewResolver(f, 300*time.Second)

		r.Get(ctx, "FAIR", DefaultTenant)
		out := r.LoadBatch(ctx, []Key{{RuleID: "FAIR", TenantID: DefaultTenant}})
		require.NotNil(t, out[Key{RuleID: "FAIR", TenantID: DefaultTenant}])
		assert.Equal(t, 1, f.callCount("FAIR_violation"))
	})
}

func TestPinnedBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves the pinned version without caching", func(t *testing.T) {
		f := newFakeFetcher(map[string]*Entry{
			"FAIR_violation": {Text: "fair v2", Version: 2},
		})
		r := NewResolver(f, 300*time.Second)

		out := r.PinnedBatch(ctx, []Key{{RuleID: "FAIR", TenantID: "Miami"}}, 2)
		require.NotNil(t, out[Key{RuleID: "FAIR", TenantID: "Miami"}])
		assert.Equal(t, 2, out[Key{RuleID: "FAIR", TenantID: "Miami"}].Version)

		assert.Equal(t, 0, r.Stats().TotalPromptsCached, "pinned fetches must not pollute the cache")
	})

	t.Run("missing pinned version resolves to nil", func(t *testing.T) {
		f := newFakeFetcher(map[string]*Entry{
			"FAIR_violation": {Text: "fair v2", Version: 2},
		})
		r := NewResolver(f, 300*time.Second)

		out := r.PinnedBatch(ctx, []Key{{RuleID: "FAIR", TenantID: DefaultTenant}}, 1)
		assert.Nil(t, out[Key{RuleID: "FAIR", TenantID: DefaultTenant}])
	})

	t.Run("version zero falls back to the cached path", func(t *testing.T) {
		f := newFakeFetcher(map[string]*Entry{
			"FAIR_violation": {Text: "fair", Version: 1},
		})
		r := NewResolver(f, 300*time.Second)

		out := r.PinnedBatch(ctx, []Key{{RuleID: "FAIR", TenantID: DefaultTenant}}, 0)
		require.NotNil(t, out[Key{RuleID: "FAIR", TenantID: DefaultTenant}])
		assert.Equal(t, 1, r.Stats().TotalPromptsCached)
	})
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("evicts and reloads", func(t *testing.T) {
		f := newFakeFetcher(map[string]*Entry{
			"FAIR_violation": {Text: "old", Version: 1},
		})
		r := NewResolver(f, 300*time.Second)
		r.Get(ctx, "FAIR", DefaultTenant)

		f.set("FAIR_violation", &Entry{Text: "new", Version: 2})
		e := r.Refresh(ctx, "FAIR", DefaultTenant)

		require.NotNil(t, e)
		assert.Equal(t, "new", e.Text)
		assert.Equal(t, 2, e.Version)
		assert.Equal(t, 2, f.callCount("FAIR_violation"))
	})

	t.Run("uses the verbatim tenant", func(t *testing.T) {
		f := newFakeFetcher(map[string]*Entry{
			"FAIR_Miami_violation": {Text: "lower", Version: 1},
			"FAIR_MIAMI_violation": {Text: "upper", Version: 1},
		})
		r := NewResolver(f, 300*time.Second)
		r.Get(ctx, "FAIR", "Miami")
		r.Get(ctx, "FAIR", "MIAMI")

		r.Refresh(ctx, "FAIR", "Miami")
		assert.Equal(t, 2, f.callCount("FAIR_Miami_violation"))
		assert.Equal(t, 1, f.callCount("FAIR_MIAMI_violation"))
	})

	t.Run("reports version changes", func(t *testing.T) {
		f := newFakeFetcher(map[string]*Entry{
			"FAIR_violation": {Text: "old", Version: 1},
		})
		var changes []VersionChange
		r := NewResolver(f, 300*time.Second, WithVersionChangeFunc(func(c VersionChange) {
			changes = append(changes, c)
		}))
		r.Get(ctx, "FAIR", DefaultTenant)

		f.set("FAIR_violation", &Entry{Text: "new", Version: 2})
		r.Refresh(ctx, "FAIR", DefaultTenant)

		require.Len(t, changes, 1)
		assert.Equal(t, 1, changes[0].OldVersion)
		assert.Equal(t, 2, changes[0].NewVersion)
		assert.Equal(t, "FAIR", changes[0].RuleID)

		// Same version again: no event.
		r.Refresh(ctx, "FAIR", DefaultTenant)
		assert.Len(t, changes, 1)
	})

	t.Run("returns nil when the prompt disappeared", func(t *testing.T) {
		f := newFakeFetcher(map[string]*Entry{
			"FAIR_Miami_violation": {Text: "custom", Version: 1},
		})
		r := NewResolver(f, 300*time.Second)
		r.Get(ctx, "FAIR", "Miami")

		f.remove("FAIR_Miami_violation")
		assert.Nil(t, r.Refresh(ctx, "FAIR", "Miami"))
	})
}

func TestRefreshRule(t *testing.T) {
	ctx := context.Background()

	f := newFakeFetcher(map[string]*Entry{
		"FAIR_Miami_violation": {Text: "custom", Version: 1},
		"FAIR_violation":       {Text: "fair default", Version: 1},
		"COMP_violation":       {Text: "comp default", Version: 1},
	})
	r := NewResolver(f, 300*time.Second)
	r.Get(ctx, "FAIR", "Miami")
	r.Get(ctx, "FAIR", DefaultTenant)
	r.Get(ctx, "COMP", DefaultTenant)

	n := r.RefreshRule(ctx, "fair")

	assert.Equal(t, 2, n)
	assert.Equal(t, 2, f.callCount("FAIR_Miami_violation"))
	assert.Equal(t, 1, f.callCount("COMP_violation"), "other rules must stay untouched")
}

func TestRefreshAll(t *testing.T) {
	ctx := context.Background()

	f := newFakeFetcher(map[string]*Entry{
		"FAIR_violation": {Text: "fair default", Version: 1},
		"COMP_violation": {Text: "comp default", Version: 1},
	})
	r := NewResolver(f, 300*time.Second)
	r.Get(ctx, "FAIR", "Miami") // sentinel + default
	r.Get(ctx, "COMP", DefaultTenant)

	// A custom prompt published after the sentinel was stored becomes
	// visible through a full refresh.
	f.set("FAIR_Miami_violation", &Entry{Text: "fresh custom", Version: 1})
	n := r.RefreshAll(ctx)

	assert.Equal(t, 3, n)
	e := r.Get(ctx, "FAIR", "Miami")
	require.NotNil(t, e)
	assert.Equal(t, "fresh custom", e.Text)
}

func TestClear(t *testing.T) {
	ctx := context.Background()

	f := newFakeFetcher(map[string]*Entry{
		"FAIR_violation": {Text: "fair default", Version: 1},
	})
	r := NewResolver(f, 300*time.Second)
	r.Get(ctx, "FAIR", DefaultTenant)

	r.Clear()

	s := r.Stats()
	assert.Equal(t, 0, s.TotalPromptsCached)
	assert.Equal(t, 0, s.TotalSentinelEntries)

	r.Get(ctx, "FAIR", DefaultTenant)
	assert.Equal(t, 2, f.callCount("FAIR_violation"))
}

func TestStats(t *testing.T) {
	ctx := context.Background()

	f := newFakeFetcher(map[string]*Entry{
		"FAIR_Miami_violation": {Text: "custom", Version: 1},
		"FAIR_violation":       {Text: "default", Version: 1},
	})
	r := NewResolver(f, 300*time.Second)
	r.Get(ctx, "FAIR", "Miami") // real custom
	r.Get(ctx, "FAIR", "Tampa") // sentinel + default

	s := r.Stats()
	assert.Equal(t, 2, s.TotalPromptsCached)
	assert.Equal(t, 1, s.TotalSentinelEntries)
	assert.Equal(t, 300.0, s.TTLSeconds)
	assert.Equal(t, []string{"Miami", "default"}, s.Cache["FAIR"].Loaded)
	assert.Equal(t, []string{"Tampa"}, s.Cache["FAIR"].UsesDefault)
}

package prompt

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Fetcher retrieves prompts by registry name. *Client satisfies it; tests
// substitute stubs.
type Fetcher interface {
	Fetch(ctx context.Context, name string, version int) (*Entry, error)
}

// negativeEntry marks a (rule, tenant) slot whose custom prompt is known
// not to exist. It is stored by identity and resolved to the rule's default
// slot on read, so a confirmed miss never costs a second registry round
// trip.
var negativeEntry = &Entry{Name: "USE_DEFAULT"}

// VersionChange describes a cached prompt being replaced by a different
// registry version.
type VersionChange struct {
	RuleID     string
	TenantID   string
	Name       string
	OldVersion int
	NewVersion int
}

// Resolver maps (rule, tenant) pairs to prompts through a TTL'd in-memory
// cache backed by a Fetcher. Rule IDs are uppercased for lookup; tenant IDs
// are case-sensitive, so "Miami" and "MIAMI" are distinct slots.
//
// Concurrent loads of the same pair are not deduplicated: they are
// idempotent and the last write wins.
type Resolver struct {
	mu      sync.Mutex
	entries map[string]map[string]*Entry
	stamps  map[string]map[string]time.Time

	fetcher Fetcher
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time

	onVersionChange func(VersionChange)
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithVersionChangeFunc registers a callback fired whenever a store
// replaces a cached entry with a different registry version.
func WithVersionChangeFunc(fn func(VersionChange)) ResolverOption {
	return func(r *Resolver) { r.onVersionChange = fn }
}

// NewResolver builds a resolver. Entries older than ttl are evicted on
// lookup; a zero ttl disables expiry.
func NewResolver(fetcher Fetcher, ttl time.Duration, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		entries: make(map[string]map[string]*Entry),
		stamps:  make(map[string]map[string]time.Time),
		fetcher: fetcher,
		ttl:     ttl,
		logger:  slog.With("component", "prompts"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the prompt for (ruleID, tenantID), loading it from the
// registry on a cache miss. A nil return means neither the custom nor the
// default name exists.
func (r *Resolver) Get(ctx context.Context, ruleID, tenantID string) *Entry {
	rule := strings.ToUpper(ruleID)

	r.mu.Lock()
	e, ok := r.freshLocked(rule, tenantID)
	r.mu.Unlock()

	if ok {
		if e == negativeEntry {
			// Confirmed "no custom exists": resolve against the default
			// slot, reloading it if it expired.
			return r.Get(ctx, rule, DefaultTenant)
		}
		return e
	}
	return r.load(ctx, rule, tenantID)
}

// freshLocked returns the live entry at (rule, tenant), evicting it first
// when it has outlived the TTL.
func (r *Resolver) freshLocked(rule, tenant string) (*Entry, bool) {
	e, ok := r.entries[rule][tenant]
	if !ok {
		return nil, false
	}
	if r.ttl > 0 && r.now().Sub(r.stamps[rule][tenant]) > r.ttl {
		delete(r.entries[rule], tenant)
		delete(r.stamps[rule], tenant)
		return nil, false
	}
	return e, true
}

// peek is the read-only variant of Get used when scanning batches: it
// resolves sentinels but never calls the registry.
func (r *Resolver) peek(ruleID, tenantID string) *Entry {
	rule := strings.ToUpper(ruleID)

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.freshLocked(rule, tenantID)
	if !ok {
		return nil
	}
	if e == negativeEntry {
		d, ok := r.freshLocked(rule, DefaultTenant)
		if !ok || d == negativeEntry {
			return nil
		}
		return d
	}
	return e
}

func (r *Resolver) store(rule, tenant string, e *Entry) {
	r.mu.Lock()
	prev := r.entries[rule][tenant]
	if r.entries[rule] == nil {
		r.entries[rule] = make(map[string]*Entry)
		r.stamps[rule] = make(map[string]time.Time)
	}
	r.entries[rule][tenant] = e
	r.stamps[rule][tenant] = r.now()
	r.mu.Unlock()

	r.emitVersionChange(rule, tenant, prev, e)
}

// emitVersionChange reports a cached prompt being replaced by a different
// registry version. Sentinels and empty slots never produce an event.
func (r *Resolver) emitVersionChange(rule, tenant string, old, cur *Entry) {
	if old == nil || cur == nil || old == negativeEntry || cur == negativeEntry {
		return
	}
	if old.Version == cur.Version {
		return
	}
	r.logger.Info("Prompt version changed",
		"prompt", cur.Name,
		"rule_id", rule,
		"tenant_id", tenant,
		"old_version", old.Version,
		"new_version", cur.Version)
	if r.onVersionChange != nil {
		r.onVersionChange(VersionChange{
			RuleID:     rule,
			TenantID:   tenant,
			Name:       cur.Name,
			OldVersion: old.Version,
			NewVersion: cur.Version,
		})
	}
}

// load implements the custom → default discovery strategy and caches what
// it finds.
func (r *Resolver) load(ctx context.Context, ruleID, tenantID string) *Entry {
	rule := strings.ToUpper(ruleID)

	if tenantID != DefaultTenant {
		name := customPromptName(rule, tenantID)
		if e := r.fetch(ctx, name, rule, tenantID, 0); e != nil {
			r.store(rule, tenantID, e)
			r.logger.Info("Loaded custom prompt", "prompt", name, "rule_id", rule, "tenant_id", tenantID)
			return e
		}
		// No custom prompt exists: remember that, so the next lookup for
		// this tenant resolves straight to the default.
		r.store(rule, tenantID, negativeEntry)
	}

	r.mu.Lock()
	cached, ok := r.freshLocked(rule, DefaultTenant)
	r.mu.Unlock()
	if ok && cached != negativeEntry {
		return cached
	}

	name := defaultPromptName(rule)
	if e := r.fetch(ctx, name, rule, DefaultTenant, 0); e != nil {
		r.store(rule, DefaultTenant, e)
		r.logger.Info("Loaded default prompt", "prompt", name, "rule_id", rule)
		return e
	}

	r.logger.Error("No prompt found for rule", "rule_id", rule, "tenant_id", tenantID, "default_name", name)
	return nil
}

// fetch wraps the registry call, collapsing not-found and transport errors
// into a nil entry so discovery can fall through to the next name.
func (r *Resolver) fetch(ctx context.Context, name, rule, tenant string, version int) *Entry {
	e, err := r.fetcher.Fetch(ctx, name, version)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.logger.Debug("Prompt not in registry", "prompt", name)
		} else {
			r.logger.Warn("Prompt fetch failed", "prompt", name, "error", err)
		}
		return nil
	}
	e.RuleID = rule
	e.TenantID = tenant
	return e
}

// LoadBatch ensures prompts for every pair are resolved and returns the
// values observed while doing so: hits are captured during the scan and
// misses as each load completes. A TTL expiry mid-batch therefore cannot
// null out a pair that did resolve. Map keys carry the uppercased rule ID.
func (r *Resolver) LoadBatch(ctx context.Context, pairs []Key) map[Key]*Entry {
	out := make(map[Key]*Entry, len(pairs))
	var misses []Key
	for _, p := range pairs {
		k := p.normalize()
		if _, done := out[k]; done {
			continue
		}
		if e := r.peek(k.RuleID, k.TenantID); e != nil {
			out[k] = e
		} else {
			out[k] = nil
			misses = append(misses, k)
		}
	}
	if len(misses) == 0 {
		return out
	}

	r.logger.Info("Batch-loading prompts", "pairs", len(pairs), "misses", len(misses))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, k := range misses {
		wg.Add(1)
		go func(k Key) {
			defer wg.Done()
			e := r.load(ctx, k.RuleID, k.TenantID)
			mu.Lock()
			out[k] = e
			mu.Unlock()
		}(k)
	}
	wg.Wait()
	return out
}

// PinnedBatch resolves every pair at one exact registry version, without
// reading or writing the cache. Used to validate historical prompts.
func (r *Resolver) PinnedBatch(ctx context.Context, pairs []Key, version int) map[Key]*Entry {
	if version <= 0 {
		return r.LoadBatch(ctx, pairs)
	}

	out := make(map[Key]*Entry, len(pairs))
	seen := make(map[Key]bool, len(pairs))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, p := range pairs {
		k := p.normalize()
		if seen[k] {
			continue
		}
		seen[k] = true
		wg.Add(1)
		go func(k Key) {
			defer wg.Done()
			e := r.loadPinned(ctx, k, version)
			mu.Lock()
			out[k] = e
			mu.Unlock()
		}(k)
	}
	wg.Wait()
	return out
}

// loadPinned mirrors the custom → default discovery order for one pinned
// version.
func (r *Resolver) loadPinned(ctx context.Context, k Key, version int) *Entry {
	if k.TenantID != DefaultTenant {
		if e := r.fetch(ctx, customPromptName(k.RuleID, k.TenantID), k.RuleID, k.TenantID, version); e != nil {
			return e
		}
	}
	return r.fetch(ctx, defaultPromptName(k.RuleID), k.RuleID, DefaultTenant, version)
}

// Refresh evicts one (rule, tenant) pair and reloads it. The tenant must be
// given exactly as originally cached. A reload that comes back at a
// different version is reported as a version change.
func (r *Resolver) Refresh(ctx context.Context, ruleID, tenantID string) *Entry {
	rule := strings.ToUpper(ruleID)
	r.logger.Info("Refreshing prompt", "rule_id", rule, "tenant_id", tenantID)

	r.mu.Lock()
	old := r.entries[rule][tenantID]
	delete(r.entries[rule], tenantID)
	delete(r.stamps[rule], tenantID)
	r.mu.Unlock()

	e := r.load(ctx, rule, tenantID)
	r.emitVersionChange(rule, tenantID, old, e)
	return e
}

// RefreshRule evicts every tenant cached under one rule and reloads them
// concurrently. Returns the number of pairs reloaded.
func (r *Resolver) RefreshRule(ctx context.Context, ruleID string) int {
	rule := strings.ToUpper(ruleID)

	r.mu.Lock()
	tenants := make([]string, 0, len(r.entries[rule]))
	for t := range r.entries[rule] {
		tenants = append(tenants, t)
	}
	delete(r.entries, rule)
	delete(r.stamps, rule)
	r.mu.Unlock()

	r.logger.Info("Refreshing rule prompts", "rule_id", rule, "tenants", len(tenants))

	var wg sync.WaitGroup
	for _, t := range tenants {
		wg.Add(1)
		go func(t string) {
			defer wg.Done()
			r.load(ctx, rule, t)
		}(t)
	}
	wg.Wait()
	return len(tenants)
}

// RefreshAll clears the cache and reloads every previously cached pair
// concurrently. Returns the number of pairs reloaded.
func (r *Resolver) RefreshAll(ctx context.Context) int {
	r.mu.Lock()
	var pairs []Key
	for rule, tenants := range r.entries {
		for t := range tenants {
			pairs = append(pairs, Key{RuleID: rule, TenantID: t})
		}
	}
	r.entries = make(map[string]map[string]*Entry)
	r.stamps = make(map[string]map[string]time.Time)
	r.mu.Unlock()

	r.logger.Info("Refreshing all prompts", "pairs", len(pairs))

	var wg sync.WaitGroup
	for _, k := range pairs {
		wg.Add(1)
		go func(k Key) {
			defer wg.Done()
			r.load(ctx, k.RuleID, k.TenantID)
		}(k)
	}
	wg.Wait()
	return len(pairs)
}

// Clear evicts everything. Prompts are re-fetched on the next request.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]map[string]*Entry)
	r.stamps = make(map[string]map[string]time.Time)
	r.logger.Info("Prompt cache cleared")
}

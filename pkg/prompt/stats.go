package prompt

import "sort"

// RuleCacheView lists the tenants cached under one rule, split by whether a
// real prompt is loaded or the tenant is known to fall back to the default.
type RuleCacheView struct {
	Loaded      []string `json:"loaded"`
	UsesDefault []string `json:"uses_default"`
}

// Stats is a snapshot of the resolver cache for the admin surface.
type Stats struct {
	TotalPromptsCached   int                      `json:"total_prompts_cached"`
	TotalSentinelEntries int                      `json:"total_sentinel_entries"`
	TTLSeconds           float64                  `json:"ttl_seconds"`
	Cache                map[string]RuleCacheView `json:"cache"`
}

// Stats returns the current cache composition. Expired entries count until
// a lookup evicts them.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		TTLSeconds: r.ttl.Seconds(),
		Cache:      make(map[string]RuleCacheView, len(r.entries)),
	}
	for rule, tenants := range r.entries {
		view := RuleCacheView{Loaded: []string{}, UsesDefault: []string{}}
		for tenant, e := range tenants {
			if e == negativeEntry {
				view.UsesDefault = append(view.UsesDefault, tenant)
			} else {
				view.Loaded = append(view.Loaded, tenant)
			}
		}
		sort.Strings(view.Loaded)
		sort.Strings(view.UsesDefault)
		s.TotalPromptsCached += len(view.Loaded)
		s.TotalSentinelEntries += len(view.UsesDefault)
		s.Cache[rule] = view
	}
	return s
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/maulikganatra-bit/ai-compliance-check/pkg/prompt"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/ratelimit"
)

// limiterCollector exposes the rate limiter's live budget as gauges. The
// limiter owns the numbers; collecting snapshots them on scrape instead of
// mirroring every update into instruments.
type limiterCollector struct {
	stats func() ratelimit.Stats

	tokensUsed    *prometheus.Desc
	requestsMade  *prometheus.Desc
	remainTokens  *prometheus.Desc
	tokenLimit    *prometheus.Desc
	remainReqs    *prometheus.Desc
	requestLimit  *prometheus.Desc
	concurrency   *prometheus.Desc
	paused        *prometheus.Desc
	uptimeSeconds *prometheus.Desc
}

// NewLimiterCollector builds a collector over a stats snapshot function.
// Register it with the same registry the recorder uses.
func NewLimiterCollector(stats func() ratelimit.Stats) prometheus.Collector {
	return &limiterCollector{
		stats: stats,
		tokensUsed: prometheus.NewDesc(
			"llm_tokens_used_total",
			"Total LLM tokens consumed since startup",
			nil, nil,
		),
		requestsMade: prometheus.NewDesc(
			"llm_requests_total",
			"Total LLM requests issued since startup",
			nil, nil,
		),
		remainTokens: prometheus.NewDesc(
			"rate_limit_remaining_tokens",
			"Token budget remaining in the current provider window",
			nil, nil,
		),
		tokenLimit: prometheus.NewDesc(
			"rate_limit_token_limit",
			"Token budget per provider window",
			nil, nil,
		),
		remainReqs: prometheus.NewDesc(
			"rate_limit_remaining_requests",
			"Request budget remaining in the current provider window",
			nil, nil,
		),
		requestLimit: prometheus.NewDesc(
			"rate_limit_request_limit",
			"Request budget per provider window",
			nil, nil,
		),
		concurrency: prometheus.NewDesc(
			"rate_limit_concurrency",
			"Concurrency ceiling derived from the remaining budget",
			nil, nil,
		),
		paused: prometheus.NewDesc(
			"rate_limit_paused",
			"1 while LLM calls are paused waiting for a budget reset",
			nil, nil,
		),
		uptimeSeconds: prometheus.NewDesc(
			"rate_limit_uptime_seconds",
			"Seconds since the limiter was created",
			nil, nil,
		),
	}
}

func (c *limiterCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tokensUsed
	ch <- c.requestsMade
	ch <- c.remainTokens
	ch <- c.tokenLimit
	ch <- c.remainReqs
	ch <- c.requestLimit
	ch <- c.concurrency
	ch <- c.paused
	ch <- c.uptimeSeconds
}

func (c *limiterCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()

	ch <- prometheus.MustNewConstMetric(c.tokensUsed, prometheus.CounterValue, float64(s.TotalTokensUsed))
	ch <- prometheus.MustNewConstMetric(c.requestsMade, prometheus.CounterValue, float64(s.TotalRequestsMade))
	ch <- prometheus.MustNewConstMetric(c.concurrency, prometheus.GaugeValue, float64(s.CurrentConcurrency))
	ch <- prometheus.MustNewConstMetric(c.paused, prometheus.GaugeValue, boolToFloat(s.Paused))
	ch <- prometheus.MustNewConstMetric(c.uptimeSeconds, prometheus.GaugeValue, s.UptimeSeconds)

	// Budget fields stay absent until the first provider response is seen.
	if s.RemainingTokens != nil {
		ch <- prometheus.MustNewConstMetric(c.remainTokens, prometheus.GaugeValue, float64(*s.RemainingTokens))
	}
	if s.TokenLimit != nil {
		ch <- prometheus.MustNewConstMetric(c.tokenLimit, prometheus.GaugeValue, float64(*s.TokenLimit))
	}
	if s.RemainingRequests != nil {
		ch <- prometheus.MustNewConstMetric(c.remainReqs, prometheus.GaugeValue, float64(*s.RemainingRequests))
	}
	if s.RequestLimit != nil {
		ch <- prometheus.MustNewConstMetric(c.requestLimit, prometheus.GaugeValue, float64(*s.RequestLimit))
	}
}

// promptCacheCollector exposes prompt cache occupancy as gauges.
type promptCacheCollector struct {
	stats func() prompt.Stats

	entries    *prometheus.Desc
	ttlSeconds *prometheus.Desc
}

// NewPromptCacheCollector builds a collector over the resolver's stats
// snapshot function.
func NewPromptCacheCollector(stats func() prompt.Stats) prometheus.Collector {
	return &promptCacheCollector{
		stats: stats,
		entries: prometheus.NewDesc(
			"prompt_cache_entries",
			"Cached prompt entries by kind",
			[]string{"kind"}, nil,
		),
		ttlSeconds: prometheus.NewDesc(
			"prompt_cache_ttl_seconds",
			"Configured prompt cache TTL",
			nil, nil,
		),
	}
}

func (c *promptCacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.ttlSeconds
}

func (c *promptCacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()

	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.TotalPromptsCached), "loaded")
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.TotalSentinelEntries), "default_fallback")
	ch <- prometheus.MustNewConstMetric(c.ttlSeconds, prometheus.GaugeValue, s.TTLSeconds)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

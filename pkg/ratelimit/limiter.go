// Package ratelimit adapts request concurrency to the token and request
// budgets advertised by the LLM backend through x-ratelimit-* response
// headers. A single Limiter is shared by every in-flight rule call; all
// state transitions are serialised through one mutex so header updates,
// pre-flight gating, and concurrency sizing always observe a consistent
// snapshot.
package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/maulikganatra-bit/ai-compliance-check/pkg/config"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/trace"
)

// Response header names set by the LLM backend.
const (
	headerLimitTokens       = "x-ratelimit-limit-tokens"
	headerRemainingTokens   = "x-ratelimit-remaining-tokens"
	headerResetTokens       = "x-ratelimit-reset-tokens"
	headerLimitRequests     = "x-ratelimit-limit-requests"
	headerRemainingRequests = "x-ratelimit-remaining-requests"
	headerResetRequests     = "x-ratelimit-reset-requests"
)

// Budget tiers for concurrency sizing, as fractions of the token limit.
const (
	highBudget   = 0.5
	mediumBudget = 0.2
	lowBudget    = 0.1
)

// unknown marks budget fields for which no header has been observed yet.
const unknown = -1

// pauseGrace is added to every reset wait so the limiter wakes just after
// the budget refill, not just before it. Variable so tests can shorten it.
var pauseGrace = time.Second

// Limiter tracks the backend's rate-limit budget and derives a safe
// concurrency level from it. The zero value is not usable; construct with
// New.
type Limiter struct {
	mu  sync.Mutex
	cfg *config.LimiterConfig

	tokenLimit        int
	remainingTokens   int
	requestLimit      int
	remainingRequests int
	tokenResetAt      time.Time
	requestResetAt    time.Time

	totalTokensUsed   int64
	totalRequestsMade int64

	currentConcurrency int
	paused             bool
	lastUpdate         time.Time

	logger *slog.Logger
	now    func() time.Time
}

// Stats is a point-in-time snapshot of the limiter. Budget fields are nil
// until the backend has sent the corresponding header at least once.
type Stats struct {
	TotalTokensUsed    int64   `json:"total_tokens_used"`
	TotalRequestsMade  int64   `json:"total_requests_made"`
	RemainingTokens    *int    `json:"remaining_tokens"`
	RemainingRequests  *int    `json:"remaining_requests"`
	TokenLimit         *int    `json:"token_limit"`
	RequestLimit       *int    `json:"request_limit"`
	CurrentConcurrency int     `json:"current_concurrency"`
	Paused             bool    `json:"paused"`
	UptimeSeconds      float64 `json:"uptime_seconds"`
}

// New returns a Limiter that reports cfg.DefaultConcurrency until the first
// rate-limit headers arrive.
func New(cfg *config.LimiterConfig) *Limiter {
	return &Limiter{
		cfg:                cfg,
		tokenLimit:         unknown,
		remainingTokens:    unknown,
		requestLimit:       unknown,
		remainingRequests:  unknown,
		currentConcurrency: cfg.DefaultConcurrency,
		lastUpdate:         time.Now(),
		logger:             slog.With("component", "ratelimit"),
		now:                time.Now,
	}
}

// EstimateTokens predicts the budget a call will consume: the prompt length
// divided by the configured chars-per-token ratio, rounded up, plus the
// full output allowance.
func (l *Limiter) EstimateTokens(prompt string) int {
	cpt := l.cfg.CharsPerToken
	if cpt <= 0 {
		cpt = 1
	}
	return (len(prompt)+cpt-1)/cpt + l.cfg.MaxOutputTokens
}

// Observe ingests the rate-limit headers from one backend response and
// folds the reported token usage into the running totals. It must be called
// for every response, including error statuses, so the request count stays
// aligned with what the backend has seen.
func (l *Limiter) Observe(header http.Header, totalTokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v := header.Get(headerLimitTokens); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			l.tokenLimit = n
		}
	}
	if v := header.Get(headerRemainingTokens); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			l.remainingTokens = n
		}
	}
	if v := header.Get(headerResetTokens); v != "" {
		l.tokenResetAt = l.now().Add(parseResetDuration(v))
	}
	if v := header.Get(headerLimitRequests); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			l.requestLimit = n
		}
	}
	if v := header.Get(headerRemainingRequests); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			l.remainingRequests = n
		}
	}
	if v := header.Get(headerResetRequests); v != "" {
		l.requestResetAt = l.now().Add(parseResetDuration(v))
	}

	l.totalTokensUsed += int64(totalTokens)
	l.totalRequestsMade++
	l.lastUpdate = l.now()

	if l.tokenLimit != unknown && l.remainingTokens != unknown {
		l.logger.Debug("Rate limit state updated",
			"remaining_tokens", l.remainingTokens,
			"token_limit", l.tokenLimit,
			"remaining_requests", l.remainingRequests,
			"total_requests_made", l.totalRequestsMade)
	}
}

// WaitIfNeeded blocks until the token budget can absorb a call expected to
// cost estimatedTokens. When no headers have been seen yet the call
// proceeds immediately. When the remaining budget is below the safety
// threshold or the estimate, and the backend reported a reset in the
// future, the limiter pauses until just past that reset and then assumes a
// full refill. The pause is visible through Stats while it lasts.
func (l *Limiter) WaitIfNeeded(ctx context.Context, estimatedTokens int) error {
	l.mu.Lock()

	if l.tokenLimit == unknown || l.remainingTokens == unknown {
		l.mu.Unlock()
		return nil
	}

	margin := l.cfg.SafetyMargin
	if margin <= 0 || margin > 1 {
		margin = 0.90
	}
	minThreshold := float64(l.tokenLimit) * (1 - margin)

	low := float64(l.remainingTokens) < minThreshold || l.remainingTokens < estimatedTokens
	wait := l.tokenResetAt.Sub(l.now())
	if !low || wait <= 0 {
		l.mu.Unlock()
		return nil
	}

	l.paused = true
	remaining := l.remainingTokens
	l.mu.Unlock()

	trace.Logger(ctx).Warn("Token budget low, pausing until reset",
		"remaining_tokens", remaining,
		"estimated_tokens", estimatedTokens,
		"wait_seconds", wait.Seconds())

	// Sleep outside the mutex so Observe and Stats stay responsive.
	select {
	case <-ctx.Done():
		l.mu.Lock()
		l.paused = false
		l.mu.Unlock()
		return ctx.Err()
	case <-time.After(wait + pauseGrace):
	}

	l.mu.Lock()
	l.paused = false
	// Assume a full refill; the next response headers will correct this.
	l.remainingTokens = l.tokenLimit
	l.mu.Unlock()
	return nil
}

// SafeConcurrency sizes the worker pool from the fraction of the token
// budget still available. With no header data it returns the configured
// default. A nearly exhausted request budget clamps the result regardless
// of the token tier.
func (l *Limiter) SafeConcurrency() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.tokenLimit == unknown || l.remainingTokens == unknown || l.tokenLimit == 0 {
		return l.cfg.DefaultConcurrency
	}

	budget := float64(l.remainingTokens) / float64(l.tokenLimit)

	var c int
	switch {
	case budget > highBudget:
		c = l.cfg.MaxConcurrency
	case budget > mediumBudget:
		scale := (budget - mediumBudget) / (highBudget - mediumBudget)
		c = l.cfg.MinConcurrency + int(scale*float64(l.cfg.MaxConcurrency-l.cfg.MinConcurrency))
	case budget > lowBudget:
		c = l.cfg.MinConcurrency
	default:
		c = max(1, l.cfg.MinConcurrency/2)
	}

	if l.requestLimit != unknown && l.requestLimit > 0 && l.remainingRequests != unknown {
		if float64(l.remainingRequests)/float64(l.requestLimit) < lowBudget {
			c = min(c, 5)
		}
	}

	l.currentConcurrency = c
	return c
}

// Stats returns a snapshot of the limiter state.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{
		TotalTokensUsed:    l.totalTokensUsed,
		TotalRequestsMade:  l.totalRequestsMade,
		CurrentConcurrency: l.currentConcurrency,
		Paused:             l.paused,
		UptimeSeconds:      l.now().Sub(l.lastUpdate).Seconds(),
	}
	if l.remainingTokens != unknown {
		v := l.remainingTokens
		s.RemainingTokens = &v
	}
	if l.remainingRequests != unknown {
		v := l.remainingRequests
		s.RemainingRequests = &v
	}
	if l.tokenLimit != unknown {
		v := l.tokenLimit
		s.TokenLimit = &v
	}
	if l.requestLimit != unknown {
		v := l.requestLimit
		s.RequestLimit = &v
	}
	return s
}

// Reset clears all observed state, returning the limiter to its initial
// no-headers condition.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tokenLimit = unknown
	l.remainingTokens = unknown
	l.requestLimit = unknown
	l.remainingRequests = unknown
	l.tokenResetAt = time.Time{}
	l.requestResetAt = time.Time{}
	l.totalTokensUsed = 0
	l.totalRequestsMade = 0
	l.currentConcurrency = l.cfg.DefaultConcurrency
	l.paused = false
	l.lastUpdate = l.now()
}

package llm

import (
	"math/rand/v2"
	"time"

	"github.com/maulikganatra-bit/ai-compliance-check/pkg/config"
)

// backoffDelay computes the sleep before retry number attempt (0-based):
// exponential from the base delay, capped, plus uniform jitter to spread
// synchronized retries across the worker pool.
func backoffDelay(cfg *config.RetryConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay * time.Duration(1<<uint(attempt))
	if delay <= 0 || delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}

	jitter := time.Duration(rand.Float64() * float64(cfg.JitterRange))
	return delay + jitter
}

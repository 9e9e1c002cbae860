package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/maulikganatra-bit/ai-compliance-check/pkg/config"
)

func TestBackoffDelay(t *testing.T) {
	cfg := &config.RetryConfig{
		MaxRetries:  3,
		BaseDelay:   time.Second,
		MaxDelay:    16 * time.Second,
		JitterRange: time.Second,
	}

	// Exponential growth: attempt n sleeps base*2^n plus up to jitter.
	for attempt, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		d := backoffDelay(cfg, attempt)
		assert.GreaterOrEqual(t, d, want)
		assert.Less(t, d, want+cfg.JitterRange)
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	cfg := &config.RetryConfig{
		MaxRetries:  10,
		BaseDelay:   time.Second,
		MaxDelay:    16 * time.Second,
		JitterRange: time.Second,
	}

	d := backoffDelay(cfg, 8) // 2^8 = 256s uncapped
	assert.GreaterOrEqual(t, d, 16*time.Second)
	assert.Less(t, d, 17*time.Second)
}

func TestBackoffDelayZeroJitter(t *testing.T) {
	cfg := &config.RetryConfig{
		BaseDelay: time.Second,
		MaxDelay:  16 * time.Second,
	}

	assert.Equal(t, 2*time.Second, backoffDelay(cfg, 1))
}

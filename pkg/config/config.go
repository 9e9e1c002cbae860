// Package config loads and validates service configuration.
//
// Configuration is resolved in three layers: built-in defaults, an optional
// compliance.yaml overlay, and environment variable overrides. Secrets are
// referenced by environment variable name and resolved at validation time.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config is the root service configuration.
type Config struct {
	LLM      *LLMConfig      `yaml:"llm"`
	Limiter  *LimiterConfig  `yaml:"limiter"`
	Retry    *RetryConfig    `yaml:"retry"`
	Engine   *EngineConfig   `yaml:"engine"`
	Registry *RegistryConfig `yaml:"registry"`
	Replica  *ReplicaConfig  `yaml:"replica"`
}

// LLMConfig configures the upstream LLM responses endpoint.
type LLMConfig struct {
	// BaseURL is the root of the responses API, without trailing slash.
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// Timeout bounds a single LLM round trip.
	Timeout time.Duration `yaml:"timeout"`

	// MaxConnections is the total connection pool size.
	MaxConnections int `yaml:"max_connections"`

	// MaxKeepaliveConnections is the number of idle connections kept open.
	MaxKeepaliveConnections int `yaml:"max_keepalive_connections"`
}

// LimiterConfig configures token estimation and dynamic concurrency.
type LimiterConfig struct {
	// MaxOutputTokens is added to every input estimate; it mirrors the
	// largest completion the upstream model is allowed to produce.
	MaxOutputTokens int `yaml:"max_output_tokens"`

	// CharsPerToken is the conservative input-length divisor.
	CharsPerToken int `yaml:"chars_per_token"`

	// SafetyMargin is the fraction of the advertised budget the service
	// is willing to consume.
	SafetyMargin float64 `yaml:"safety_margin"`

	MinConcurrency     int `yaml:"min_concurrency"`
	MaxConcurrency     int `yaml:"max_concurrency"`
	DefaultConcurrency int `yaml:"default_concurrency"`
}

// RetryConfig configures exponential backoff for transient LLM failures.
type RetryConfig struct {
	MaxRetries  int           `yaml:"max_retries"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	JitterRange time.Duration `yaml:"jitter_range"`
}

// EngineConfig configures job dispatch.
type EngineConfig struct {
	// JobTimeout is the total deadline for one compliance job.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// ChunkSize is the number of records admitted between concurrency
	// re-evaluations.
	ChunkSize int `yaml:"chunk_size"`
}

// RegistryConfig configures the remote prompt registry and the local cache.
type RegistryConfig struct {
	// BaseURL is the root of the prompt registry API.
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the registry key.
	// Empty means the registry is unauthenticated.
	APIKeyEnv string `yaml:"api_key_env"`

	// CacheTTL is the prompt cache entry lifetime. Zero disables expiry.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// PageSize is the listing page size used by the full-sync walk.
	PageSize int `yaml:"page_size"`
}

// ReplicaConfig configures the local SQLite prompt replica.
type ReplicaConfig struct {
	// DBPath is the SQLite file path. Empty disables replication.
	DBPath string `yaml:"db_path"`
}

// DefaultConfig returns the built-in defaults. Every field can be overridden
// by compliance.yaml or by the environment.
func DefaultConfig() *Config {
	return &Config{
		LLM: &LLMConfig{
			BaseURL:                 "https://api.openai.com/v1",
			APIKeyEnv:               "LLM_API_KEY",
			Timeout:                 30 * time.Second,
			MaxConnections:          200,
			MaxKeepaliveConnections: 50,
		},
		Limiter: &LimiterConfig{
			MaxOutputTokens:    6590,
			CharsPerToken:      4,
			SafetyMargin:       0.90,
			MinConcurrency:     10,
			MaxConcurrency:     200,
			DefaultConcurrency: 50,
		},
		Retry: &RetryConfig{
			MaxRetries:  3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    16 * time.Second,
			JitterRange: 1 * time.Second,
		},
		Engine: &EngineConfig{
			JobTimeout: 600 * time.Second,
			ChunkSize:  100,
		},
		Registry: &RegistryConfig{
			APIKeyEnv: "REGISTRY_API_KEY",
			CacheTTL:  300 * time.Second,
			PageSize:  50,
		},
		Replica: &ReplicaConfig{},
	}
}

// LLMAPIKey resolves the LLM API key from the configured environment variable.
func (c *Config) LLMAPIKey() string {
	return os.Getenv(c.LLM.APIKeyEnv)
}

// RegistryAPIKey resolves the registry API key. Empty when the registry is
// unauthenticated or the variable is unset.
func (c *Config) RegistryAPIKey() string {
	if c.Registry.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Registry.APIKeyEnv)
}

// Validate checks configuration consistency and the presence of required
// secrets. A failure here aborts process start.
func (c *Config) Validate() error {
	if c.LLMAPIKey() == "" {
		return fmt.Errorf("%w: %s", ErrMissingSecret, c.LLM.APIKeyEnv)
	}
	if c.Registry.BaseURL == "" {
		return fmt.Errorf("%w: registry.base_url (REGISTRY_BASE_URL)", ErrMissingRequiredField)
	}
	if c.Limiter.CharsPerToken < 1 {
		return fmt.Errorf("%w: limiter.chars_per_token must be >= 1", ErrInvalidValue)
	}
	if c.Limiter.SafetyMargin <= 0 || c.Limiter.SafetyMargin > 1 {
		return fmt.Errorf("%w: limiter.safety_margin must be in (0, 1]", ErrInvalidValue)
	}
	if c.Limiter.MinConcurrency < 1 {
		return fmt.Errorf("%w: limiter.min_concurrency must be >= 1", ErrInvalidValue)
	}
	if c.Limiter.MaxConcurrency < c.Limiter.MinConcurrency {
		return fmt.Errorf("%w: limiter.max_concurrency must be >= min_concurrency", ErrInvalidValue)
	}
	if c.Limiter.DefaultConcurrency < c.Limiter.MinConcurrency || c.Limiter.DefaultConcurrency > c.Limiter.MaxConcurrency {
		return fmt.Errorf("%w: limiter.default_concurrency must be within [min, max]", ErrInvalidValue)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("%w: retry.max_retries must be >= 0", ErrInvalidValue)
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("%w: retry delays must satisfy 0 < base_delay <= max_delay", ErrInvalidValue)
	}
	if c.Engine.ChunkSize < 1 {
		return fmt.Errorf("%w: engine.chunk_size must be >= 1", ErrInvalidValue)
	}
	if c.Engine.JobTimeout <= 0 {
		return fmt.Errorf("%w: engine.job_timeout must be positive", ErrInvalidValue)
	}
	return nil
}

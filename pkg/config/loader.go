package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Overlay the optional compliance.yaml (with {{.VAR}} env expansion)
//  3. Apply environment variable overrides
//  4. Validate (including required secrets)
func Initialize(_ context.Context, configFile string) (*Config, error) {
	log := slog.With("config_file", configFile)
	log.Info("Initializing configuration")

	cfg, err := load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"llm_base_url", cfg.LLM.BaseURL,
		"registry_base_url", cfg.Registry.BaseURL,
		"cache_ttl", cfg.Registry.CacheTTL,
		"max_concurrency", cfg.Limiter.MaxConcurrency,
		"job_timeout", cfg.Engine.JobTimeout)

	return cfg, nil
}

// load builds the configuration from defaults, the optional YAML overlay,
// and environment overrides, in that order.
func load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	// A missing file is not an error: deployments may run on environment
	// variables alone.
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		switch {
		case os.IsNotExist(err):
			slog.Info("No configuration file found, using defaults and environment", "path", configFile)
		case err != nil:
			return nil, NewLoadError(configFile, err)
		default:
			// Expand {{.VAR}} references before parsing so secrets and
			// host-specific values never live in the file itself.
			data = ExpandEnv(data)

			overlay := &Config{}
			if err := yaml.Unmarshal(data, overlay); err != nil {
				return nil, NewLoadError(configFile, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
			}
			if err := mergo.Merge(cfg, overlay, mergo.WithOverride); err != nil {
				return nil, NewLoadError(configFile, err)
			}
		}
	}

	applyEnv(cfg)

	return cfg, nil
}

// applyEnv overrides configuration fields from the documented environment
// variables. Unset variables leave the current value intact; unparseable
// values are logged and skipped.
func applyEnv(cfg *Config) {
	overrideString(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	overrideDuration(&cfg.LLM.Timeout, "API_TIMEOUT")
	overrideInt(&cfg.LLM.MaxConnections, "MAX_CONNECTIONS")
	overrideInt(&cfg.LLM.MaxKeepaliveConnections, "MAX_KEEPALIVE_CONNECTIONS")

	overrideInt(&cfg.Limiter.MaxOutputTokens, "MAX_OUTPUT_TOKENS")
	overrideInt(&cfg.Limiter.CharsPerToken, "CHARS_PER_TOKEN")
	overrideFloat(&cfg.Limiter.SafetyMargin, "SAFETY_MARGIN")
	overrideInt(&cfg.Limiter.MinConcurrency, "MIN_CONCURRENCY")
	overrideInt(&cfg.Limiter.MaxConcurrency, "MAX_CONCURRENCY")
	overrideInt(&cfg.Limiter.DefaultConcurrency, "DEFAULT_CONCURRENCY")

	overrideInt(&cfg.Retry.MaxRetries, "MAX_RETRIES")
	overrideDuration(&cfg.Retry.BaseDelay, "BASE_RETRY_DELAY")
	overrideDuration(&cfg.Retry.MaxDelay, "MAX_RETRY_DELAY")
	overrideDuration(&cfg.Retry.JitterRange, "JITTER_RANGE")

	overrideDuration(&cfg.Engine.JobTimeout, "REQUEST_TIMEOUT")

	overrideString(&cfg.Registry.BaseURL, "REGISTRY_BASE_URL")
	overrideDuration(&cfg.Registry.CacheTTL, "PROMPT_CACHE_TTL_SECONDS")

	overrideString(&cfg.Replica.DBPath, "REPLICA_DB_PATH")
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Invalid integer in environment, keeping current value",
			"var", key, "value", v, "error", err)
		return
	}
	*dst = n
}

func overrideFloat(dst *float64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("Invalid float in environment, keeping current value",
			"var", key, "value", v, "error", err)
		return
	}
	*dst = f
}

// overrideDuration accepts either a Go duration string ("30s", "1m30s") or a
// bare number of seconds ("30", "2.5") for compatibility with deployments
// that predate duration syntax.
func overrideDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
		return
	}
	slog.Warn("Invalid duration in environment, keeping current value",
		"var", key, "value", v)
}

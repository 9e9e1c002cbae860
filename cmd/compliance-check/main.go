// Compliance check server: exposes the batch compliance API, the prompt
// cache admin surface, and Prometheus metrics over HTTP.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/maulikganatra-bit/ai-compliance-check/pkg/api"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/config"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/engine"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/llm"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/metrics"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/prompt"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/ratelimit"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/version"
)

// shutdownTimeout bounds the drain of in-flight requests on exit.
const shutdownTimeout = 10 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configFile := flag.String("config",
		getEnv("CONFIG_FILE", "./compliance.yaml"),
		"Path to the configuration file")
	flag.Parse()

	// Load .env from the working directory
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	} else {
		slog.Info("Loaded environment from .env")
	}

	httpPort := getEnv("HTTP_PORT", "8000")

	slog.Info("Starting compliance check service",
		"version", version.Full(),
		"http_port", httpPort,
		"config_file", *configFile)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configFile)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Set up the metrics recorder
	rec := metrics.NewPrometheusRecorder(prometheus.DefaultRegisterer)

	// 3. Create rate limiter and LLM client (shared connection pool)
	limiter := ratelimit.New(cfg.Limiter)
	llmClient := llm.NewClient(cfg, llm.WithObserver(limiter))
	slog.Info("LLM client initialized",
		"base_url", cfg.LLM.BaseURL,
		"max_connections", cfg.LLM.MaxConnections,
		"keepalive_connections", cfg.LLM.MaxKeepaliveConnections)

	// 4. Open the local prompt replica when configured
	var registryOpts []prompt.ClientOption
	replicaEnabled := cfg.Replica.DBPath != ""
	if replicaEnabled {
		replica, err := prompt.OpenReplica(cfg.Replica.DBPath)
		if err != nil {
			slog.Error("Failed to open prompt replica", "path", cfg.Replica.DBPath, "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := replica.Close(); err != nil {
				slog.Error("Error closing prompt replica", "error", err)
			}
		}()
		registryOpts = append(registryOpts, prompt.WithReplica(replica))
		slog.Info("Prompt replica opened", "path", cfg.Replica.DBPath)
	}

	// 5. Create registry client and prompt resolver
	registry := prompt.NewClient(cfg, registryOpts...)
	resolver := prompt.NewResolver(registry, cfg.Registry.CacheTTL,
		prompt.WithVersionChangeFunc(func(ch prompt.VersionChange) {
			rec.IncPromptVersionChange(ch.RuleID)
		}))
	slog.Info("Prompt resolver initialized",
		"registry_base_url", cfg.Registry.BaseURL,
		"cache_ttl", cfg.Registry.CacheTTL)

	// 6. Create the compliance engine
	executor := engine.NewExecutor(llmClient, limiter, rec)
	eng := engine.New(cfg, resolver, executor, limiter, rec)

	// 7. Expose limiter and cache state to Prometheus
	prometheus.MustRegister(
		metrics.NewLimiterCollector(limiter.Stats),
		metrics.NewPromptCacheCollector(resolver.Stats),
	)

	// 8. Create HTTP server
	httpServer := api.NewServer(cfg, eng, resolver, limiter)
	if replicaEnabled {
		httpServer.SetRegistryClient(registry)
	}

	// 9. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Compliance check service started successfully")

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped gracefully")
	}

	stats := limiter.Stats()
	slog.Info("Final rate limiter stats",
		"total_tokens_used", stats.TotalTokensUsed,
		"total_requests_made", stats.TotalRequestsMade,
		"uptime_seconds", stats.UptimeSeconds)

	slog.Info("Compliance check service stopped")
}

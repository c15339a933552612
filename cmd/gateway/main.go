// llm-gateway is a resilient multi-provider LLM generation gateway.
//
// Flags:
//
//	-config path to the YAML configuration file (optional)
//
// Every configuration field can also be set through LLMGW_* environment
// variables; see pkg/config.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arcanabot/llm-gateway/pkg/cache"
	"github.com/arcanabot/llm-gateway/pkg/config"
	"github.com/arcanabot/llm-gateway/pkg/gateway"
	"github.com/arcanabot/llm-gateway/pkg/provider"
	"github.com/arcanabot/llm-gateway/pkg/resilience"
	"github.com/arcanabot/llm-gateway/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// The logger is configured from the config, so this one failure
		// goes through a throwaway production logger.
		zap.NewExample().Fatal("configuration failed", zap.Error(err))
	}

	log := newLogger(cfg.Log)
	defer log.Sync()

	log.Info("starting llm-gateway",
		zap.String("addr", cfg.Server.Addr),
		zap.Bool("openai", cfg.Providers.OpenAI.Enabled),
		zap.Bool("anthropic", cfg.Providers.Anthropic.Enabled))

	// Cache backend: Redis when reachable, in-process otherwise.
	backend := cache.NewBackend(context.Background(), cache.RedisConfig{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
		Prefix:   cfg.Cache.KeyPrefix,
	}, cfg.Cache.MemoryMaxSize)
	cm := cache.NewManager(backend, cfg.Cache.DefaultTTL, log)
	defer cm.Close()
	log.Info("cache backend selected", zap.String("backend", backend.Name()))

	var providers []provider.Provider
	if cfg.Providers.OpenAI.Enabled {
		providers = append(providers, provider.NewOpenAIClient(provider.OpenAIConfig{
			APIKeys: cfg.Providers.OpenAI.APIKeys,
			Client:  clientConfig(provider.OpenAI, cfg.Providers.OpenAI),
		}, log))
	}
	if cfg.Providers.Anthropic.Enabled {
		providers = append(providers, provider.NewAnthropicClient(provider.AnthropicConfig{
			APIKeys: cfg.Providers.Anthropic.APIKeys,
			Client:  clientConfig(provider.Anthropic, cfg.Providers.Anthropic),
		}, log))
	}

	gw, err := gateway.New(gateway.Config{
		DefaultCacheTTL: cfg.Gateway.DefaultCacheTTL,
		Health: gateway.HealthConfig{
			DisableThreshold:  cfg.Gateway.DisableThreshold,
			RecoveryInterval:  cfg.Gateway.RecoveryInterval,
			RateLimitCooldown: cfg.Gateway.RateLimitCooldown,
		},
	}, providers, cm, log)
	if err != nil {
		log.Fatal("gateway init failed", zap.Error(err))
	}

	srv := server.New(server.Config{
		Addr:           cfg.Server.Addr,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, gw, log)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 10*time.Second,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}
	log.Info("llm-gateway stopped")
}

func clientConfig(name string, p config.ProviderConfig) resilience.ClientConfig {
	return resilience.ClientConfig{
		Name:            name,
		BaseURL:         p.BaseURL,
		Timeout:         p.Timeout,
		RateLimitCalls:  p.RateLimitCalls,
		RateLimitPeriod: p.RateLimitPeriod,
		RequestCacheTTL: p.RequestCacheTTL,
		Retry: resilience.RetryConfig{
			MaxAttempts: p.RetryMaxAttempts,
		},
		Circuit: resilience.CircuitBreakerConfig{
			FailureThreshold: p.CircuitFailures,
			SuccessThreshold: p.CircuitSuccesses,
			Cooldown:         p.CircuitCooldown,
		},
	}
}

func newLogger(cfg config.LogConfig) *zap.Logger {
	level := zapcore.InfoLevel
	_ = level.Set(cfg.Level)

	zc := zap.NewProductionConfig()
	if !cfg.JSON {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	logger, err := zc.Build()
	if err != nil {
		logger = zap.NewExample()
	}
	return logger
}

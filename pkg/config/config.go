// Package config loads and validates the gateway configuration from a
// YAML file, the environment and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces the gateway's environment variables. A double
// underscore separates config levels and a single underscore stays a
// word separator, so LLMGW_CACHE__REDIS_ADDR overrides cache.redis_addr.
const envPrefix = "LLMGW_"

// ValidationError reports configuration that cannot produce a working
// gateway. It is fatal at startup.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Config is the full gateway configuration tree.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Cache     CacheConfig     `koanf:"cache"`
	Gateway   GatewayConfig   `koanf:"gateway"`
	Providers ProvidersConfig `koanf:"providers"`
}

type ServerConfig struct {
	Addr           string        `koanf:"addr"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type LogConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
	JSON  bool   `koanf:"json"`
}

type CacheConfig struct {
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db"`
	KeyPrefix     string        `koanf:"key_prefix"`
	DefaultTTL    time.Duration `koanf:"default_ttl"`
	MemoryMaxSize int           `koanf:"memory_max_size"`
}

type GatewayConfig struct {
	DefaultCacheTTL   time.Duration `koanf:"default_cache_ttl"`
	DisableThreshold  int           `koanf:"disable_threshold"`
	RecoveryInterval  time.Duration `koanf:"recovery_interval"`
	RateLimitCooldown time.Duration `koanf:"rate_limit_cooldown"`
}

type ProvidersConfig struct {
	OpenAI    ProviderConfig `koanf:"openai"`
	Anthropic ProviderConfig `koanf:"anthropic"`
}

// ProviderConfig holds one provider's keys and resilience settings.
type ProviderConfig struct {
	Enabled          bool          `koanf:"enabled"`
	APIKeys          []string      `koanf:"api_keys"`
	BaseURL          string        `koanf:"base_url"`
	Timeout          time.Duration `koanf:"timeout"`
	RateLimitCalls   int           `koanf:"rate_limit_calls"`
	RateLimitPeriod  time.Duration `koanf:"rate_limit_period"`
	RequestCacheTTL  time.Duration `koanf:"request_cache_ttl"`
	RetryMaxAttempts int           `koanf:"retry_max_attempts"`
	CircuitFailures  int           `koanf:"circuit_failures"`
	CircuitSuccesses int           `koanf:"circuit_successes"`
	CircuitCooldown  time.Duration `koanf:"circuit_cooldown"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			RequestTimeout: 60 * time.Second,
		},
		Log: LogConfig{Level: "info", JSON: true},
		Cache: CacheConfig{
			RedisAddr:     "localhost:6379",
			KeyPrefix:     "llmgw:",
			DefaultTTL:    time.Hour,
			MemoryMaxSize: 10000,
		},
		Gateway: GatewayConfig{
			DefaultCacheTTL:   time.Hour,
			DisableThreshold:  5,
			RecoveryInterval:  5 * time.Minute,
			RateLimitCooldown: time.Minute,
		},
		Providers: ProvidersConfig{
			OpenAI:    defaultProvider(),
			Anthropic: defaultProvider(),
		},
	}
}

func defaultProvider() ProviderConfig {
	return ProviderConfig{
		Enabled:          true,
		Timeout:          30 * time.Second,
		RateLimitCalls:   60,
		RateLimitPeriod:  time.Minute,
		RequestCacheTTL:  5 * time.Minute,
		RetryMaxAttempts: 3,
		CircuitFailures:  5,
		CircuitSuccesses: 3,
		CircuitCooldown:  30 * time.Second,
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then LLMGW_* environment variables. A .env file in the working
// directory is read first so local runs can keep secrets out of the shell.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	cfg := Defaults()

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("config: read environment: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.Providers.OpenAI.APIKeys = expandKeys(cfg.Providers.OpenAI.APIKeys)
	cfg.Providers.Anthropic.APIKeys = expandKeys(cfg.Providers.Anthropic.APIKeys)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// expandKeys resolves ${VAR} references so YAML files can point at the
// environment instead of embedding secrets. Unresolvable references are
// dropped.
func expandKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if strings.HasPrefix(key, "${") && strings.HasSuffix(key, "}") {
			key = os.Getenv(strings.TrimSuffix(strings.TrimPrefix(key, "${"), "}"))
		}
		if key != "" {
			out = append(out, key)
		}
	}
	return out
}

// Validate checks that the configuration can produce a working gateway.
func (c Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return &ValidationError{Field: "log.level", Reason: fmt.Sprintf("unknown level %q", c.Log.Level)}
	}

	enabled := 0
	if c.Providers.OpenAI.Enabled {
		if len(c.Providers.OpenAI.APIKeys) == 0 {
			return &ValidationError{Field: "providers.openai.api_keys", Reason: "provider enabled but no API keys configured"}
		}
		enabled++
	}
	if c.Providers.Anthropic.Enabled {
		if len(c.Providers.Anthropic.APIKeys) == 0 {
			return &ValidationError{Field: "providers.anthropic.api_keys", Reason: "provider enabled but no API keys configured"}
		}
		enabled++
	}
	if enabled == 0 {
		return &ValidationError{Field: "providers", Reason: "at least one provider must be enabled"}
	}
	return nil
}

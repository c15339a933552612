package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_FromYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
  request_timeout: 45s
log:
  level: debug
cache:
  redis_addr: "redis:6379"
  default_ttl: 2h
providers:
  openai:
    api_keys: ["sk-one", "sk-two"]
    rate_limit_calls: 10
  anthropic:
    enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 45*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, 2*time.Hour, cfg.Cache.DefaultTTL)
	assert.Equal(t, []string{"sk-one", "sk-two"}, cfg.Providers.OpenAI.APIKeys)
	assert.Equal(t, 10, cfg.Providers.OpenAI.RateLimitCalls)
	assert.False(t, cfg.Providers.Anthropic.Enabled)
	// Untouched fields keep their defaults.
	assert.Equal(t, 5, cfg.Gateway.DisableThreshold)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
providers:
  openai:
    api_keys: ["sk-file"]
  anthropic:
    enabled: false
`)
	t.Setenv("LLMGW_SERVER__ADDR", ":7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestLoad_EnvOverridesMultiWordKeys(t *testing.T) {
	path := writeConfig(t, `
providers:
  openai:
    api_keys: ["sk-file"]
  anthropic:
    enabled: false
`)
	t.Setenv("LLMGW_CACHE__REDIS_ADDR", "otherhost:6379")
	t.Setenv("LLMGW_SERVER__REQUEST_TIMEOUT", "90s")
	t.Setenv("LLMGW_GATEWAY__DEFAULT_CACHE_TTL", "30m")
	t.Setenv("LLMGW_PROVIDERS__OPENAI__RATE_LIMIT_CALLS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "otherhost:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, 90*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Gateway.DefaultCacheTTL)
	assert.Equal(t, 7, cfg.Providers.OpenAI.RateLimitCalls)
}

func TestLoad_ExpandsKeyReferences(t *testing.T) {
	path := writeConfig(t, `
providers:
  openai:
    api_keys: ["${TEST_OPENAI_KEY}", "sk-literal", "${UNSET_KEY_REF}"]
  anthropic:
    enabled: false
`)
	t.Setenv("TEST_OPENAI_KEY", "sk-from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"sk-from-env", "sk-literal"}, cfg.Providers.OpenAI.APIKeys)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_EnabledProviderNeedsKeys(t *testing.T) {
	cfg := Defaults()

	err := cfg.Validate()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "providers.openai.api_keys", ve.Field)
}

func TestValidate_AtLeastOneProvider(t *testing.T) {
	cfg := Defaults()
	cfg.Providers.OpenAI.Enabled = false
	cfg.Providers.Anthropic.Enabled = false

	err := cfg.Validate()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "providers", ve.Field)
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.Providers.OpenAI.APIKeys = []string{"sk"}
	cfg.Providers.Anthropic.Enabled = false
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "log.level", ve.Field)
}

package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"opsagent/internal/domain"
)

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoader_YAML(t *testing.T) {
	t.Setenv("OPSAGENT_TEST_MAX", "7")
	t.Setenv("OPSAGENT_TEST_KEY", "sk-test")
	file := writeTempConfig(t, "opsagent.yaml", `
caches:
  resources:
    ttlSeconds: 120
rateLimits:
  api:
    windowSeconds: 10
    max: ${OPSAGENT_TEST_MAX}
breakers:
  cloud:
    failureThreshold: 3
retries:
  cloud_discover:
    maxAttempts: 4
    initialDelayMs: 100
    maxDelayMs: 400
agent:
  maxIterations: 3
  systemPrompt: "  You are an operations assistant.  "
llm:
  model: gpt-4o
  apiKey: ${OPSAGENT_TEST_KEY}
accounts:
  - id: acct-1
    provider: aws
    resources:
      - id: i-1
        type: instance
        tags:
          team: web
    billing:
      - id: r1
        service: compute
        date: 2026-03-01
        amount: 12.5
      - id: r2
        service: storage
        date: "2026-03-02T00:00:00Z"
        amount: 2
        currency: eur
`)

	cfg, err := NewLoader(zap.NewNop()).Load(context.Background(), file)
	require.NoError(t, err)

	assert.Equal(t, domain.CacheConfig{TTLSeconds: 120, Capacity: domain.DefaultCacheCapacity, SweepSeconds: domain.DefaultCacheSweepSeconds}, cfg.Caches["resources"])
	assert.Equal(t, domain.RateLimitConfig{WindowSeconds: 10, Max: 7}, cfg.RateLimits["api"])
	assert.Equal(t, domain.BreakerConfig{FailureThreshold: 3, OpenSeconds: domain.DefaultBreakerOpenSeconds}, cfg.Breakers["cloud"])
	assert.Equal(t, domain.RetryConfig{MaxAttempts: 4, InitialDelayMs: 100, MaxDelayMs: 400, Multiplier: domain.DefaultRetryMultiplier}, cfg.Retries["cloud_discover"])

	assert.Equal(t, 3, cfg.Agent.MaxIterations)
	assert.Equal(t, domain.DefaultAgentFirstStepTimeoutSeconds, cfg.Agent.FirstStepTimeoutSeconds)
	assert.Equal(t, "You are an operations assistant.", cfg.Agent.SystemPrompt)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, domain.DefaultLLMProvider, cfg.LLM.Provider)
	assert.Equal(t, domain.DefaultStorePath, cfg.Store.Path)
	assert.True(t, cfg.Observability.Metrics)
	assert.True(t, cfg.StrictToolNames)

	require.Len(t, cfg.Accounts, 1)
	acct := cfg.Accounts[0]
	require.Len(t, acct.Resources, 1)
	assert.Equal(t, domain.CloudResource{
		ID: "i-1", AccountID: "acct-1", Provider: "aws", Type: "instance", Tags: map[string]string{"team": "web"},
	}, acct.Resources[0])
	require.Len(t, acct.Billing, 2)
	assert.True(t, acct.Billing[0].Date.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "USD", acct.Billing[0].Currency)
	assert.Equal(t, "EUR", acct.Billing[1].Currency)
}

func TestLoader_TOMLAndJSON(t *testing.T) {
	t.Setenv("OPSAGENT_TEST_PATH", "/var/lib/opsagent/state.db")

	tomlFile := writeTempConfig(t, "opsagent.toml", `
strictToolNames = false

[store]
path = "${OPSAGENT_TEST_PATH}"

[rateLimits.chat]
windowSeconds = 60
max = 5
`)
	jsonFile := writeTempConfig(t, "opsagent.json", `{
  "strictToolNames": false,
  "store": {"path": "${OPSAGENT_TEST_PATH}"},
  "rateLimits": {"chat": {"windowSeconds": 60, "max": 5}}
}`)

	loader := NewLoader(nil)
	fromTOML, err := loader.Load(context.Background(), tomlFile)
	require.NoError(t, err)
	fromJSON, err := loader.Load(context.Background(), jsonFile)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/opsagent/state.db", fromTOML.Store.Path)
	assert.Equal(t, domain.RateLimitConfig{WindowSeconds: 60, Max: 5}, fromTOML.RateLimits["chat"])
	assert.False(t, fromTOML.StrictToolNames)
	if diff := cmp.Diff(fromTOML, fromJSON); diff != "" {
		t.Fatalf("toml and json configs differ (-toml +json):\n%s", diff)
	}
}

func TestLoader_ValidationErrors(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name: "negative limits",
			content: `
rateLimits:
  api:
    max: -1
caches:
  costs:
    capacity: -5
`,
			want: []string{"rateLimits.api.max must be >= 0", "caches.costs.capacity must be >= 0"},
		},
		{
			name: "retry delays",
			content: `
retries:
  llm_reason:
    initialDelayMs: 500
    maxDelayMs: 100
    multiplier: 0.5
`,
			want: []string{"retries.llm_reason.multiplier must be >= 1", "retries.llm_reason.maxDelayMs must be >= initialDelayMs"},
		},
		{
			name: "agent bounds",
			content: `
agent:
  maxIterations: 0
  stepTimeoutSeconds: -1
`,
			want: []string{"agent.maxIterations must be >= 1", "agent.stepTimeoutSeconds must be > 0"},
		},
		{
			name: "accounts",
			content: `
accounts:
  - id: a
  - id: a
  - provider: aws
`,
			want: []string{`accounts[1]: duplicate id "a"`, "accounts[2]: id is required"},
		},
		{
			name: "billing date",
			content: `
accounts:
  - id: a
    billing:
      - id: r1
        date: yesterday
`,
			want: []string{"accounts[0].billing[0]: date yesterday must be YYYY-MM-DD or RFC3339"},
		},
		{
			name: "provider and address",
			content: `
llm:
  provider: bedrock
observability:
  listenAddress: nowhere
`,
			want: []string{"llm.provider must be openai", `observability.listenAddress "nowhere" must be host:port`},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewLoader(nil).Parse([]byte(tc.content), FormatYAML)
			require.Error(t, err)
			for _, want := range tc.want {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := NewLoader(nil).Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)

	_, err = NewLoader(nil).Load(context.Background(), "")
	require.Error(t, err)
}

func TestTemplate_RoundTrips(t *testing.T) {
	for _, format := range []Format{FormatYAML, FormatTOML, FormatJSON} {
		t.Run(string(format), func(t *testing.T) {
			data, err := Template(format)
			require.NoError(t, err)

			cfg, err := NewLoader(nil).Parse(data, format)
			require.NoError(t, err)
			assert.Equal(t, domain.DefaultAgentConfig(), cfg.Agent)
			assert.Equal(t, domain.CacheConfig{TTLSeconds: 3600, Capacity: domain.DefaultCacheCapacity, SweepSeconds: domain.DefaultCacheSweepSeconds}, cfg.Caches[domain.CacheCosts])
			assert.Equal(t, domain.RateLimitConfig{WindowSeconds: domain.DefaultRateLimitWindowSeconds, Max: 10}, cfg.RateLimits[domain.LimiterSync])
			assert.Equal(t, domain.DefaultRetryConfig(), cfg.Retries["llm_reason"])
			assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
			assert.True(t, cfg.StrictToolNames)
		})
	}
}

func TestWriteTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "opsagent.yaml")
	require.NoError(t, WriteTemplate(path, false))

	err := WriteTemplate(path, false)
	require.ErrorIs(t, err, ErrConfigExists)
	require.NoError(t, WriteTemplate(path, true))

	cfg, err := NewLoader(nil).Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultStorePath, cfg.Store.Path)
}

func TestDefaultRuntimeConfig(t *testing.T) {
	cfg := DefaultRuntimeConfig()
	assert.Equal(t, domain.DefaultAgentConfig(), cfg.Agent)
	assert.Equal(t, domain.DefaultObservabilityListenAddress, cfg.Observability.ListenAddress)
	assert.Equal(t, domain.DefaultRateLimitConfig(), cfg.RateLimitFor(domain.LimiterAPI))
	assert.True(t, cfg.StrictToolNames)
}

func TestFormatForPath(t *testing.T) {
	assert.Equal(t, FormatTOML, FormatForPath("a/b.TOML"))
	assert.Equal(t, FormatJSON, FormatForPath("c.json"))
	assert.Equal(t, FormatYAML, FormatForPath("d.yml"))
	assert.Equal(t, FormatYAML, FormatForPath("noext"))
}

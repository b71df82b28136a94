package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"opsagent/internal/domain"
)

// ErrConfigExists is returned by WriteTemplate when the target is present.
var ErrConfigExists = errors.New("config file already exists")

// templateDocument lists every recognized option with its default value.
func templateDocument() map[string]any {
	cache := domain.DefaultCacheConfig()
	limit := domain.DefaultRateLimitConfig()
	brk := domain.DefaultBreakerConfig()
	retry := domain.DefaultRetryConfig()
	agent := domain.DefaultAgentConfig()

	cacheDoc := func(ttl int) map[string]any {
		return map[string]any{"ttlSeconds": ttl, "capacity": cache.Capacity, "sweepSeconds": cache.SweepSeconds}
	}
	limitDoc := func(max int) map[string]any {
		return map[string]any{"windowSeconds": limit.WindowSeconds, "max": max}
	}
	retryDoc := map[string]any{
		"maxAttempts":    retry.MaxAttempts,
		"initialDelayMs": retry.InitialDelayMs,
		"maxDelayMs":     retry.MaxDelayMs,
		"multiplier":     retry.Multiplier,
	}
	breakerDoc := map[string]any{"failureThreshold": brk.FailureThreshold, "openSeconds": brk.OpenSeconds}

	return map[string]any{
		"caches": map[string]any{
			domain.CacheResources: cacheDoc(cache.TTLSeconds),
			domain.CacheCosts:     cacheDoc(3600),
		},
		"rateLimits": map[string]any{
			domain.LimiterSync: limitDoc(10),
			domain.LimiterAPI:  limitDoc(limit.Max),
			domain.LimiterChat: limitDoc(30),
		},
		"breakers": map[string]any{
			domain.DependencyCloud: breakerDoc,
			domain.DependencyLLM:   breakerDoc,
		},
		"retries": map[string]any{
			"cloud_discover": retryDoc,
			"cloud_billing":  retryDoc,
			"llm_reason":     retryDoc,
		},
		"agent": map[string]any{
			"maxIterations":           agent.MaxIterations,
			"firstStepTimeoutSeconds": agent.FirstStepTimeoutSeconds,
			"stepTimeoutSeconds":      agent.StepTimeoutSeconds,
			"historyTurns":            agent.HistoryTurns,
		},
		"llm": map[string]any{
			"provider":     domain.DefaultLLMProvider,
			"model":        "gpt-4o-mini",
			"apiKeyEnvVar": domain.DefaultLLMAPIKeyEnvVar,
		},
		"store": map[string]any{"path": domain.DefaultStorePath},
		"observability": map[string]any{
			"listenAddress": domain.DefaultObservabilityListenAddress,
			"metrics":       true,
			"healthz":       true,
		},
		"strictToolNames": true,
	}
}

// Template renders the default config in the given format.
func Template(format Format) ([]byte, error) {
	doc := templateDocument()
	switch format {
	case FormatTOML:
		return toml.Marshal(doc)
	case FormatJSON:
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(out, '\n'), nil
	default:
		return yaml.Marshal(doc)
	}
}

// WriteTemplate writes the default config to path, picking the format from
// its extension. An existing file is only replaced when force is set.
func WriteTemplate(path string, force bool) error {
	if path == "" {
		return errors.New("config path is required")
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s: %w", path, ErrConfigExists)
		}
	}
	data, err := Template(FormatForPath(path))
	if err != nil {
		return fmt.Errorf("render config template: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

package domain

import "time"

// CacheConfig sizes one named cache.
type CacheConfig struct {
	TTLSeconds   int `json:"ttlSeconds"`
	Capacity     int `json:"capacity"`
	SweepSeconds int `json:"sweepSeconds"`
}

// TTL returns the default entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return SecondsToDuration(c.TTLSeconds)
}

// SweepInterval returns how often expired entries are purged.
func (c CacheConfig) SweepInterval() time.Duration {
	return SecondsToDuration(c.SweepSeconds)
}

// RateLimitConfig configures one fixed-window limiter.
type RateLimitConfig struct {
	WindowSeconds int `json:"windowSeconds"`
	Max           int `json:"max"`
}

// Window returns the window length.
func (c RateLimitConfig) Window() time.Duration {
	return SecondsToDuration(c.WindowSeconds)
}

// BreakerConfig configures one circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `json:"failureThreshold"`
	OpenSeconds      int `json:"openSeconds"`
}

// OpenDuration returns how long the breaker rejects calls after opening.
func (c BreakerConfig) OpenDuration() time.Duration {
	return SecondsToDuration(c.OpenSeconds)
}

// RetryConfig configures retries for one named operation.
type RetryConfig struct {
	MaxAttempts    int     `json:"maxAttempts"`
	InitialDelayMs int     `json:"initialDelayMs"`
	MaxDelayMs     int     `json:"maxDelayMs"`
	Multiplier     float64 `json:"multiplier"`
}

// InitialDelay returns the delay before the second attempt.
func (c RetryConfig) InitialDelay() time.Duration {
	return MillisToDuration(c.InitialDelayMs)
}

// MaxDelay returns the upper bound of any single delay.
func (c RetryConfig) MaxDelay() time.Duration {
	return MillisToDuration(c.MaxDelayMs)
}

// AgentConfig bounds the agent loop.
type AgentConfig struct {
	MaxIterations           int    `json:"maxIterations"`
	FirstStepTimeoutSeconds int    `json:"firstStepTimeoutSeconds"`
	StepTimeoutSeconds      int    `json:"stepTimeoutSeconds"`
	HistoryTurns            int    `json:"historyTurns"`
	SystemPrompt            string `json:"systemPrompt,omitempty"`
}

// FirstStepTimeout returns the budget for the first reasoning step.
func (c AgentConfig) FirstStepTimeout() time.Duration {
	return SecondsToDuration(c.FirstStepTimeoutSeconds)
}

// StepTimeout returns the budget for every later step.
func (c AgentConfig) StepTimeout() time.Duration {
	return SecondsToDuration(c.StepTimeoutSeconds)
}

// LLMConfig selects the reasoning model.
type LLMConfig struct {
	Provider     string `json:"provider"`     // e.g., "openai"
	Model        string `json:"model"`        // e.g., "gpt-4o"
	APIKey       string `json:"apiKey"`       // optional inline API key
	APIKeyEnvVar string `json:"apiKeyEnvVar"` // e.g., "OPENAI_API_KEY"
	BaseURL      string `json:"baseURL"`      // optional
}

type ObservabilityConfig struct {
	ListenAddress string `json:"listenAddress"`
	Metrics       bool   `json:"metrics"`
	Healthz       bool   `json:"healthz"`
}

type StoreConfig struct {
	Path string `json:"path"`
}

// ProviderAccount declares a cloud account served by a static provider.
type ProviderAccount struct {
	ID        string          `json:"id"`
	Provider  string          `json:"provider"`
	Resources []CloudResource `json:"resources,omitempty"`
	Billing   []BillingRecord `json:"billing,omitempty"`
}

// RuntimeConfig is the full recognized-options surface.
type RuntimeConfig struct {
	Caches          map[string]CacheConfig     `json:"caches"`
	RateLimits      map[string]RateLimitConfig `json:"rateLimits"`
	Breakers        map[string]BreakerConfig   `json:"breakers"`
	Retries         map[string]RetryConfig     `json:"retries"`
	Agent           AgentConfig                `json:"agent"`
	LLM             LLMConfig                  `json:"llm"`
	Store           StoreConfig                `json:"store"`
	Observability   ObservabilityConfig        `json:"observability"`
	Accounts        []ProviderAccount          `json:"accounts,omitempty"`
	StrictToolNames bool                       `json:"strictToolNames"`
}

// CacheFor returns the named cache config, falling back to defaults.
func (c RuntimeConfig) CacheFor(name string) CacheConfig {
	if cfg, ok := c.Caches[name]; ok {
		return cfg
	}
	return DefaultCacheConfig()
}

// RateLimitFor returns the named limiter config, falling back to defaults.
func (c RuntimeConfig) RateLimitFor(name string) RateLimitConfig {
	if cfg, ok := c.RateLimits[name]; ok {
		return cfg
	}
	return DefaultRateLimitConfig()
}

// BreakerFor returns the named breaker config, falling back to defaults.
func (c RuntimeConfig) BreakerFor(name string) BreakerConfig {
	if cfg, ok := c.Breakers[name]; ok {
		return cfg
	}
	return DefaultBreakerConfig()
}

// RetryFor returns the named retry config, falling back to defaults.
func (c RuntimeConfig) RetryFor(name string) RetryConfig {
	if cfg, ok := c.Retries[name]; ok {
		return cfg
	}
	return DefaultRetryConfig()
}

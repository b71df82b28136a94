package domain

const (
	DefaultCacheTTLSeconds              = 300
	DefaultCacheCapacity                = 1000
	DefaultCacheSweepSeconds            = 60
	DefaultRateLimitWindowSeconds       = 60
	DefaultRateLimitMax                 = 100
	DefaultBreakerFailureThreshold      = 5
	DefaultBreakerOpenSeconds           = 60
	DefaultRetryMaxAttempts             = 3
	DefaultRetryInitialDelayMs          = 1000
	DefaultRetryMaxDelayMs              = 10000
	DefaultRetryMultiplier              = 2.0
	DefaultAgentMaxIterations           = 5
	DefaultAgentFirstStepTimeoutSeconds = 30
	DefaultAgentStepTimeoutSeconds      = 90
	DefaultAgentHistoryTurns            = 20
	DefaultUsageTopN                    = 10
	DefaultObservabilityListenAddress   = "0.0.0.0:9090"
	DefaultStorePath                    = "opsagent.db"
	DefaultLLMProvider                  = "openai"
	DefaultLLMAPIKeyEnvVar              = "OPENAI_API_KEY"
)

// Named caches.
const (
	CacheResources = "resources"
	CacheCosts     = "costs"
)

// Named rate limiters, one per operation class.
const (
	LimiterSync = "sync"
	LimiterAPI  = "api"
	LimiterChat = "chat"
)

// Named dependencies protected by breakers and retries.
const (
	DependencyCloud = "cloud"
	DependencyLLM   = "llm"
)

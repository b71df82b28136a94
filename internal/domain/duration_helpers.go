package domain

import "time"

// SecondsToDuration converts a config value in seconds, treating non-positive values as zero.
func SecondsToDuration(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// MillisToDuration converts a config value in milliseconds, treating non-positive values as zero.
func MillisToDuration(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// DefaultCacheConfig returns the config used for caches missing from the file.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTLSeconds:   DefaultCacheTTLSeconds,
		Capacity:     DefaultCacheCapacity,
		SweepSeconds: DefaultCacheSweepSeconds,
	}
}

// DefaultRateLimitConfig returns the config used for limiters missing from the file.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		WindowSeconds: DefaultRateLimitWindowSeconds,
		Max:           DefaultRateLimitMax,
	}
}

// DefaultBreakerConfig returns the config used for breakers missing from the file.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: DefaultBreakerFailureThreshold,
		OpenSeconds:      DefaultBreakerOpenSeconds,
	}
}

// DefaultRetryConfig returns the config used for operations missing from the file.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    DefaultRetryMaxAttempts,
		InitialDelayMs: DefaultRetryInitialDelayMs,
		MaxDelayMs:     DefaultRetryMaxDelayMs,
		Multiplier:     DefaultRetryMultiplier,
	}
}

// DefaultAgentConfig returns the agent loop bounds.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		MaxIterations:           DefaultAgentMaxIterations,
		FirstStepTimeoutSeconds: DefaultAgentFirstStepTimeoutSeconds,
		StepTimeoutSeconds:      DefaultAgentStepTimeoutSeconds,
		HistoryTurns:            DefaultAgentHistoryTurns,
	}
}

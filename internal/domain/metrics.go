package domain

import "time"

// CallStatus labels the outcome of an observed call.
type CallStatus string

const (
	// CallStatusSuccess indicates a successful call.
	CallStatusSuccess CallStatus = "success"
	// CallStatusError indicates a failed call.
	CallStatusError CallStatus = "error"
)

// CacheEvent labels a cache counter.
type CacheEvent string

const (
	CacheEventHit      CacheEvent = "hit"
	CacheEventMiss     CacheEvent = "miss"
	CacheEventEviction CacheEvent = "eviction"
	CacheEventExpired  CacheEvent = "expired"
)

// RetryEvent labels one step of a retried operation.
type RetryEvent string

const (
	RetryEventAttempt   RetryEvent = "attempt"
	RetryEventSuccess   RetryEvent = "success"
	RetryEventExhausted RetryEvent = "exhausted"
	RetryEventAborted   RetryEvent = "aborted"
)

// ToolMetric captures one tool invocation.
type ToolMetric struct {
	Registry string
	Tool     string
	Status   CallStatus
	Duration time.Duration
}

// AgentMetric captures one agent loop run.
type AgentMetric struct {
	Outcome    AgentOutcome
	Iterations int
	Duration   time.Duration
}

// Metrics records operational metrics for the resilience core.
type Metrics interface {
	ObserveCache(cache string, event CacheEvent)
	SetCacheSize(cache string, size int)
	ObserveRateLimit(limiter string, permitted bool)
	ObserveBreakerTransition(dependency string, from, to string)
	SetBreakerState(dependency string, state string)
	ObserveRetry(operation string, event RetryEvent, attempt int)
	ObserveTool(metric ToolMetric)
	ObserveAgent(metric AgentMetric)
	ObserveLLMTokens(provider string, model string, tokens int)
	ObserveLLMLatency(provider string, model string, duration time.Duration)
}

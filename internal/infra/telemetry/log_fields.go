package telemetry

import (
	"time"

	"go.uber.org/zap"
)

const (
	FieldEvent      = "event"
	FieldDependency = "dependency"
	FieldOperation  = "operation"
	FieldLimiter    = "limiter"
	FieldCache      = "cache"
	FieldRegistry   = "registry"
	FieldTool       = "tool"
	FieldState      = "state"
	FieldAttempt    = "attempt"
	FieldIteration  = "iteration"
	FieldDurationMs = "duration_ms"
	FieldElapsedMs  = "elapsed_ms"
	FieldLogSource  = "log_source"
	FieldRequestID  = "request_id"
	FieldSessionID  = "session_id"
	FieldTraceID    = "trace_id"
	FieldSpanID     = "span_id"
)

const (
	EventRetryAttempt      = "retry_attempt"
	EventRetrySuccess      = "retry_success"
	EventRetryExhausted    = "retry_exhausted"
	EventRetryAborted      = "retry_aborted"
	EventBreakerTransition = "breaker_transition"
	EventBreakerRejected   = "breaker_rejected"
	EventRateLimited       = "rate_limited"
	EventToolInvoked       = "tool_invoked"
	EventToolFailed        = "tool_failed"
	EventAgentTerminated   = "agent_terminated"
	EventCacheSweep        = "cache_sweep"
	EventLimiterSweep      = "limiter_sweep"
	EventConfigReload      = "config_reload"
)

const (
	LogSourceCore = "core"
	LogSourceCLI  = "cli"
)

func EventField(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func DependencyField(name string) zap.Field {
	return zap.String(FieldDependency, name)
}

func OperationField(name string) zap.Field {
	return zap.String(FieldOperation, name)
}

func ToolField(name string) zap.Field {
	return zap.String(FieldTool, name)
}

func RegistryField(name string) zap.Field {
	return zap.String(FieldRegistry, name)
}

func StateField(state string) zap.Field {
	return zap.String(FieldState, state)
}

func AttemptField(attempt int) zap.Field {
	return zap.Int(FieldAttempt, attempt)
}

func DurationField(duration time.Duration) zap.Field {
	return zap.Int64(FieldDurationMs, duration.Milliseconds())
}

func ElapsedField(elapsed time.Duration) zap.Field {
	return zap.Int64(FieldElapsedMs, elapsed.Milliseconds())
}

func RequestIDField(value string) zap.Field {
	return zap.String(FieldRequestID, value)
}

func SessionIDField(value string) zap.Field {
	return zap.String(FieldSessionID, value)
}

func TraceIDField(value string) zap.Field {
	return zap.String(FieldTraceID, value)
}

func SpanIDField(value string) zap.Field {
	return zap.String(FieldSpanID, value)
}

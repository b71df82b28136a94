package telemetry

import (
	"time"

	"opsagent/internal/domain"
)

type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) ObserveCache(_ string, _ domain.CacheEvent) {}

func (n *NoopMetrics) SetCacheSize(_ string, _ int) {}

func (n *NoopMetrics) ObserveRateLimit(_ string, _ bool) {}

func (n *NoopMetrics) ObserveBreakerTransition(_ string, _ string, _ string) {}

func (n *NoopMetrics) SetBreakerState(_ string, _ string) {}

func (n *NoopMetrics) ObserveRetry(_ string, _ domain.RetryEvent, _ int) {}

func (n *NoopMetrics) ObserveTool(_ domain.ToolMetric) {}

func (n *NoopMetrics) ObserveAgent(_ domain.AgentMetric) {}

func (n *NoopMetrics) ObserveLLMTokens(_ string, _ string, _ int) {}

func (n *NoopMetrics) ObserveLLMLatency(_ string, _ string, _ time.Duration) {}

var _ domain.Metrics = (*NoopMetrics)(nil)

// OrNoop returns metrics, or a no-op implementation when nil.
func OrNoop(metrics domain.Metrics) domain.Metrics {
	if metrics == nil {
		return NewNoopMetrics()
	}
	return metrics
}

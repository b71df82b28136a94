package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"opsagent/internal/domain"
)

type PrometheusMetrics struct {
	cacheEvents        *prometheus.CounterVec
	cacheSize          *prometheus.GaugeVec
	rateLimitDecisions *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	retryEvents        *prometheus.CounterVec
	toolDuration       *prometheus.HistogramVec
	agentRuns          *prometheus.CounterVec
	agentIterations    *prometheus.HistogramVec
	agentDuration      *prometheus.HistogramVec
	llmTokens          *prometheus.CounterVec
	llmLatency         *prometheus.HistogramVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		cacheEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsagent_cache_events_total",
				Help: "Cache hits, misses, evictions and expirations",
			},
			[]string{"cache", "event"},
		),
		cacheSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "opsagent_cache_entries",
				Help: "Current number of live cache entries",
			},
			[]string{"cache"},
		),
		rateLimitDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsagent_rate_limit_decisions_total",
				Help: "Rate limiter decisions by outcome",
			},
			[]string{"limiter", "decision"},
		),
		breakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsagent_breaker_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"dependency", "from", "to"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "opsagent_breaker_open",
				Help: "1 when the breaker is open, 0.5 when half-open, 0 when closed",
			},
			[]string{"dependency"},
		),
		retryEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsagent_retry_events_total",
				Help: "Retry executor attempts and terminal events",
			},
			[]string{"operation", "event"},
		),
		toolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opsagent_tool_duration_seconds",
				Help:    "Duration of tool invocations in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"registry", "tool", "status"},
		),
		agentRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsagent_agent_runs_total",
				Help: "Agent loop runs by terminal outcome",
			},
			[]string{"outcome"},
		),
		agentIterations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opsagent_agent_iterations",
				Help:    "Tool iterations used per agent run",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
			},
			[]string{"outcome"},
		),
		agentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opsagent_agent_duration_seconds",
				Help:    "Wall-clock duration of agent runs in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsagent_llm_tokens_total",
				Help: "Total number of tokens consumed by reasoning calls",
			},
			[]string{"provider", "model"},
		),
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opsagent_llm_latency_seconds",
				Help:    "Latency of reasoning calls in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider", "model"},
		),
	}
}

func (p *PrometheusMetrics) ObserveCache(cache string, event domain.CacheEvent) {
	p.cacheEvents.WithLabelValues(cache, string(event)).Inc()
}

func (p *PrometheusMetrics) SetCacheSize(cache string, size int) {
	p.cacheSize.WithLabelValues(cache).Set(float64(size))
}

func (p *PrometheusMetrics) ObserveRateLimit(limiter string, permitted bool) {
	decision := "permitted"
	if !permitted {
		decision = "rejected"
	}
	p.rateLimitDecisions.WithLabelValues(limiter, decision).Inc()
}

func (p *PrometheusMetrics) ObserveBreakerTransition(dependency string, from, to string) {
	p.breakerTransitions.WithLabelValues(dependency, from, to).Inc()
}

func (p *PrometheusMetrics) SetBreakerState(dependency string, state string) {
	value := 0.0
	switch state {
	case "open":
		value = 1
	case "half_open":
		value = 0.5
	}
	p.breakerState.WithLabelValues(dependency).Set(value)
}

func (p *PrometheusMetrics) ObserveRetry(operation string, event domain.RetryEvent, _ int) {
	p.retryEvents.WithLabelValues(operation, string(event)).Inc()
}

func (p *PrometheusMetrics) ObserveTool(metric domain.ToolMetric) {
	p.toolDuration.WithLabelValues(metric.Registry, metric.Tool, string(metric.Status)).Observe(metric.Duration.Seconds())
}

func (p *PrometheusMetrics) ObserveAgent(metric domain.AgentMetric) {
	outcome := string(metric.Outcome)
	p.agentRuns.WithLabelValues(outcome).Inc()
	p.agentIterations.WithLabelValues(outcome).Observe(float64(metric.Iterations))
	p.agentDuration.WithLabelValues(outcome).Observe(metric.Duration.Seconds())
}

func (p *PrometheusMetrics) ObserveLLMTokens(provider string, model string, tokens int) {
	p.llmTokens.WithLabelValues(provider, model).Add(float64(tokens))
}

func (p *PrometheusMetrics) ObserveLLMLatency(provider string, model string, duration time.Duration) {
	p.llmLatency.WithLabelValues(provider, model).Observe(duration.Seconds())
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)

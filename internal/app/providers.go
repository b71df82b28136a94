package app

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"opsagent/internal/domain"
	"opsagent/internal/infra/agent"
	"opsagent/internal/infra/aggregator"
	"opsagent/internal/infra/breaker"
	"opsagent/internal/infra/cache"
	"opsagent/internal/infra/catalog"
	"opsagent/internal/infra/cloud"
	"opsagent/internal/infra/gateway"
	"opsagent/internal/infra/introspect"
	"opsagent/internal/infra/llm"
	"opsagent/internal/infra/ratelimit"
	"opsagent/internal/infra/resilience"
	"opsagent/internal/infra/retry"
	"opsagent/internal/infra/store"
	"opsagent/internal/infra/telemetry"
	"opsagent/internal/infra/toolreg"
)

// maxUsageRecords bounds each registry's in-memory usage log.
const maxUsageRecords = 10000

func NewConfigProvider(ctx context.Context, cfg ServeConfig, logger *zap.Logger) (*catalog.Provider, error) {
	return catalog.NewProvider(ctx, cfg.ConfigPath, logger)
}

func NewRuntimeConfig(provider *catalog.Provider) domain.RuntimeConfig {
	return provider.Snapshot()
}

func NewMetricsRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	registry.MustRegister(prometheus.NewGoCollector())
	return registry
}

func NewMetrics(registry *prometheus.Registry) domain.Metrics {
	return telemetry.NewPrometheusMetrics(registry)
}

func NewHealthTracker() *telemetry.HealthTracker {
	return telemetry.NewHealthTracker()
}

func NewStore(cfg domain.RuntimeConfig, logger *zap.Logger) (*store.Store, func(), error) {
	path := store.ResolvePath(cfg.Store.Path)
	st, err := store.Open(path)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("store opened", zap.String("path", path))
	cleanup := func() {
		if err := st.Close(); err != nil {
			logger.Warn("store close failed", zap.Error(err))
		}
	}
	return st, cleanup, nil
}

func NewLimiters(cfg domain.RuntimeConfig, metrics domain.Metrics, health *telemetry.HealthTracker, logger *zap.Logger) *ratelimit.Set {
	return ratelimit.NewSet(cfg.RateLimits, ratelimit.Options{Logger: logger, Metrics: metrics}, health)
}

func NewBreakers(cfg domain.RuntimeConfig, metrics domain.Metrics, logger *zap.Logger) *breaker.Set {
	return breaker.NewSet(cfg.Breakers, breaker.Options{Logger: logger, Metrics: metrics})
}

func NewRetryExecutor(metrics domain.Metrics, logger *zap.Logger) *retry.Executor {
	return retry.NewExecutor(logger, metrics)
}

func NewGuard(limiters *ratelimit.Set, breakers *breaker.Set, executor *retry.Executor, cfg domain.RuntimeConfig, logger *zap.Logger) *resilience.Guard {
	return resilience.NewGuard(limiters, breakers, executor, cfg.Retries, logger)
}

func NewResourceCache(cfg domain.RuntimeConfig, metrics domain.Metrics, health *telemetry.HealthTracker, logger *zap.Logger) *cache.Cache[[]domain.CloudResource] {
	return cache.New[[]domain.CloudResource](domain.CacheResources, cfg.CacheFor(domain.CacheResources),
		cache.Options{Logger: logger, Metrics: metrics, Health: health})
}

func NewCostCache(cfg domain.RuntimeConfig, metrics domain.Metrics, health *telemetry.HealthTracker, logger *zap.Logger) *cache.Cache[cloud.CostSummary] {
	return cache.New[cloud.CostSummary](domain.CacheCosts, cfg.CacheFor(domain.CacheCosts),
		cache.Options{Logger: logger, Metrics: metrics, Health: health})
}

func NewCloudProvider(cfg domain.RuntimeConfig) domain.CloudProvider {
	return cloud.NewStaticProvider(cfg.Accounts)
}

func NewCloudService(
	provider domain.CloudProvider,
	guard *resilience.Guard,
	st *store.Store,
	resources *cache.Cache[[]domain.CloudResource],
	costs *cache.Cache[cloud.CostSummary],
	logger *zap.Logger,
) *cloud.Service {
	return cloud.NewService(provider, guard, st, resources, costs, cloud.Options{Logger: logger})
}

func NewToolOptions(metrics domain.Metrics, logger *zap.Logger) toolreg.Options {
	return toolreg.Options{Logger: logger, Metrics: metrics, MaxRecords: maxUsageRecords}
}

// NewAggregator registers the built-in cloud and ops registries.
func NewAggregator(cfg domain.RuntimeConfig, svc *cloud.Service, breakers *breaker.Set, toolOpts toolreg.Options, logger *zap.Logger) (*aggregator.Aggregator, func(), error) {
	agg := aggregator.New(aggregator.Options{Logger: logger, Strict: cfg.StrictToolNames})

	cloudRegistry, err := cloud.NewRegistry(svc, toolOpts)
	if err != nil {
		agg.Close()
		return nil, nil, err
	}
	if err := agg.Add(cloudRegistry); err != nil {
		agg.Close()
		return nil, nil, err
	}
	opsRegistry, err := introspect.NewRegistry(agg, breakers, toolOpts)
	if err != nil {
		agg.Close()
		return nil, nil, err
	}
	if err := agg.Add(opsRegistry); err != nil {
		agg.Close()
		return nil, nil, err
	}
	return agg, agg.Close, nil
}

// NewReasoner builds the LLM-backed reasoner. A model that cannot be built
// (e.g. no API key) yields a reasoner that reports UNAVAILABLE, so commands
// that never ask questions still start.
func NewReasoner(ctx context.Context, cfg domain.RuntimeConfig, guard *resilience.Guard, metrics domain.Metrics, logger *zap.Logger) domain.Reasoner {
	chatModel, err := llm.NewChatModel(ctx, cfg.LLM)
	if err != nil {
		logger.Warn("llm unavailable; agent queries will fail", zap.Error(err))
		return unavailableReasoner{cause: err}
	}
	return llm.NewReasoner(cfg.LLM, chatModel, guard, metrics, logger)
}

type unavailableReasoner struct {
	cause error
}

func (r unavailableReasoner) Reason(context.Context, []domain.Turn, []domain.ToolDefinition) (domain.Decision, error) {
	return domain.Decision{}, domain.E(domain.CodeUnavailable, "reason", "llm is not configured", r.cause)
}

func NewAgent(reasoner domain.Reasoner, agg *aggregator.Aggregator, cfg domain.RuntimeConfig, st *store.Store, metrics domain.Metrics, logger *zap.Logger) *agent.Loop {
	return agent.New(reasoner, agg, cfg.Agent, agent.Options{Logger: logger, Metrics: metrics, Store: st})
}

func NewGateway(agg *aggregator.Aggregator, loop *agent.Loop, logger *zap.Logger) *gateway.Server {
	return gateway.New(agg, gateway.Options{Logger: logger, Version: Version, Agent: loop})
}

//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"

	"opsagent/internal/domain"
	"opsagent/internal/infra/agent"
	"opsagent/internal/infra/catalog"
)

var CoreInfraSet = wire.NewSet(
	NewConfigProvider,
	NewRuntimeConfig,
	NewMetricsRegistry,
	NewMetrics,
	NewHealthTracker,
	NewStore,
)

var ResilienceSet = wire.NewSet(
	NewLimiters,
	NewBreakers,
	NewRetryExecutor,
	NewGuard,
	NewResourceCache,
	NewCostCache,
)

var ToolSet = wire.NewSet(
	NewCloudProvider,
	NewCloudService,
	NewToolOptions,
	NewAggregator,
	NewReasoner,
	NewAgent,
	NewGateway,
)

var ReloadSet = wire.NewSet(
	NewReloadManager,
	wire.Bind(new(domain.ConfigProvider), new(*catalog.Provider)),
	wire.Bind(new(AgentConfigurer), new(*agent.Loop)),
)

var AppSet = wire.NewSet(
	CoreInfraSet,
	ResilienceSet,
	ToolSet,
	ReloadSet,
	wire.Struct(new(ApplicationOptions), "*"),
	NewApplication,
)

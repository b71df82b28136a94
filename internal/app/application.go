package app

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"opsagent/internal/domain"
	"opsagent/internal/infra/agent"
	"opsagent/internal/infra/aggregator"
	"opsagent/internal/infra/cache"
	"opsagent/internal/infra/catalog"
	"opsagent/internal/infra/cloud"
	"opsagent/internal/infra/gateway"
	"opsagent/internal/infra/ratelimit"
	"opsagent/internal/infra/telemetry"
)

// ServeConfig is the per-process input to the wiring.
type ServeConfig struct {
	ConfigPath string
}

// Application wires the core runtime and dependencies.
type Application struct {
	logger    *zap.Logger
	config    *catalog.Provider
	registry  *prometheus.Registry
	health    *telemetry.HealthTracker
	limiters  *ratelimit.Set
	resources *cache.Cache[[]domain.CloudResource]
	costs     *cache.Cache[cloud.CostSummary]
	cloud     *cloud.Service
	agg       *aggregator.Aggregator
	agent     *agent.Loop
	gateway   *gateway.Server
	reload    *ReloadManager
}

// ApplicationOptions captures dependencies and settings for Application.
type ApplicationOptions struct {
	Logger        *zap.Logger
	Config        *catalog.Provider
	Registry      *prometheus.Registry
	Health        *telemetry.HealthTracker
	Limiters      *ratelimit.Set
	ResourceCache *cache.Cache[[]domain.CloudResource]
	CostCache     *cache.Cache[cloud.CostSummary]
	Cloud         *cloud.Service
	Aggregator    *aggregator.Aggregator
	Agent         *agent.Loop
	Gateway       *gateway.Server
	Reload        *ReloadManager
}

func NewApplication(opts ApplicationOptions) *Application {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Application{
		logger:    logger.Named("app"),
		config:    opts.Config,
		registry:  opts.Registry,
		health:    opts.Health,
		limiters:  opts.Limiters,
		resources: opts.ResourceCache,
		costs:     opts.CostCache,
		cloud:     opts.Cloud,
		agg:       opts.Aggregator,
		agent:     opts.Agent,
		gateway:   opts.Gateway,
		reload:    opts.Reload,
	}
}

func (a *Application) Config() domain.RuntimeConfig {
	return a.config.Snapshot()
}

// Serve runs background maintenance and the observability endpoint until
// ctx is done.
func (a *Application) Serve(ctx context.Context) error {
	stop := a.start(ctx)
	defer stop()

	cfg := a.Config()
	a.logger.Info("opsagent serving",
		zap.String("config", a.config.Path()),
		zap.Int("tools", len(a.agg.Tools())),
		zap.Int("accounts", len(cfg.Accounts)),
	)
	if err := telemetry.StartHTTPServer(ctx, telemetry.OptionsFromConfig(cfg.Observability, a.registry, a.health), a.logger); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// ServeMCP exposes the tool surface over stdio MCP alongside the
// observability endpoint. It returns when the client disconnects.
func (a *Application) ServeMCP(ctx context.Context) error {
	stop := a.start(ctx)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	serveCtx, cancel := context.WithCancel(groupCtx)
	defer cancel()

	group.Go(func() error {
		defer cancel()
		return a.gateway.Run(serveCtx)
	})
	group.Go(func() error {
		cfg := a.Config()
		return telemetry.StartHTTPServer(serveCtx, telemetry.OptionsFromConfig(cfg.Observability, a.registry, a.health), a.logger)
	})
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Ask runs one agent query.
func (a *Application) Ask(ctx context.Context, query domain.AgentQuery) (domain.AgentResult, error) {
	return a.agent.Run(ctx, query)
}

// Sync refreshes and persists the inventory of every configured account.
func (a *Application) Sync(ctx context.Context) ([]cloud.SyncResult, error) {
	accounts := a.Config().Accounts
	results := make([]cloud.SyncResult, 0, len(accounts))
	var errs []error
	for _, acct := range accounts {
		result, err := a.cloud.SyncAccount(ctx, acct.ID)
		if err != nil {
			a.logger.Warn("account sync failed", zap.String("account", acct.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		results = append(results, result)
	}
	return results, errors.Join(errs...)
}

// Stats reports tool usage across every registry.
func (a *Application) Stats(topN int) domain.UsageStats {
	return a.agg.AggregatedStats(topN)
}

func (a *Application) Tools() []domain.ToolDefinition {
	return a.agg.Tools()
}

func (a *Application) start(ctx context.Context) func() {
	cfg := a.Config()
	a.resources.Start(domain.SecondsToDuration(cfg.CacheFor(domain.CacheResources).SweepSeconds))
	a.costs.Start(domain.SecondsToDuration(cfg.CacheFor(domain.CacheCosts).SweepSeconds))
	a.limiters.Start(0)
	if err := a.reload.Start(ctx); err != nil {
		a.logger.Warn("config watch failed", zap.Error(err))
	}
	return func() {
		a.limiters.Stop()
		a.costs.Stop()
		a.resources.Stop()
	}
}

package app

import (
	"context"
	"reflect"
	"sync/atomic"

	"go.uber.org/zap"

	"opsagent/internal/domain"
	"opsagent/internal/infra/breaker"
	"opsagent/internal/infra/ratelimit"
	"opsagent/internal/infra/resilience"
	"opsagent/internal/infra/telemetry"
)

// AgentConfigurer accepts new agent bounds for subsequent runs.
type AgentConfigurer interface {
	Configure(cfg domain.AgentConfig)
}

// ReloadManager applies config updates to the running components. Limits,
// breakers, retries and agent bounds change in place; other sections are
// reported as needing a restart.
type ReloadManager struct {
	provider domain.ConfigProvider
	limiters *ratelimit.Set
	breakers *breaker.Set
	guard    *resilience.Guard
	agent    AgentConfigurer
	logger   *zap.Logger

	current atomic.Value
	applied atomic.Uint64
	started atomic.Bool
}

func NewReloadManager(
	provider domain.ConfigProvider,
	limiters *ratelimit.Set,
	breakers *breaker.Set,
	guard *resilience.Guard,
	agent AgentConfigurer,
	logger *zap.Logger,
) *ReloadManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &ReloadManager{
		provider: provider,
		limiters: limiters,
		breakers: breakers,
		guard:    guard,
		agent:    agent,
		logger:   logger.Named("reload"),
	}
	if provider != nil {
		m.current.Store(provider.Snapshot())
	}
	return m
}

// Start begins watching for config updates.
func (m *ReloadManager) Start(ctx context.Context) error {
	if m.provider == nil || !m.started.CompareAndSwap(false, true) {
		return nil
	}
	updates, err := m.provider.Watch(ctx)
	if err != nil {
		m.started.Store(false)
		return err
	}
	go m.run(ctx, updates)
	return nil
}

// Applied counts updates applied since construction.
func (m *ReloadManager) Applied() uint64 {
	return m.applied.Load()
}

func (m *ReloadManager) run(ctx context.Context, updates <-chan domain.RuntimeConfig) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			m.apply(cfg)
		}
	}
}

func (m *ReloadManager) apply(next domain.RuntimeConfig) {
	var prev domain.RuntimeConfig
	if stored, ok := m.current.Load().(domain.RuntimeConfig); ok {
		prev = stored
	}

	if m.limiters != nil {
		m.limiters.Apply(next.RateLimits)
	}
	if m.breakers != nil {
		m.breakers.Apply(next.Breakers)
	}
	if m.guard != nil {
		m.guard.Apply(next.Retries)
	}
	if m.agent != nil {
		m.agent.Configure(next.Agent)
	}

	if restart := restartRequired(prev, next); len(restart) > 0 {
		m.logger.Warn("config sections changed that need a restart to apply", zap.Strings("sections", restart))
	}
	m.current.Store(next)
	m.applied.Add(1)
	m.logger.Info("config applied", telemetry.EventField(telemetry.EventConfigReload))
}

func restartRequired(prev, next domain.RuntimeConfig) []string {
	var out []string
	if !reflect.DeepEqual(prev.Caches, next.Caches) {
		out = append(out, "caches")
	}
	if prev.LLM != next.LLM {
		out = append(out, "llm")
	}
	if prev.Store != next.Store {
		out = append(out, "store")
	}
	if prev.Observability != next.Observability {
		out = append(out, "observability")
	}
	if !reflect.DeepEqual(prev.Accounts, next.Accounts) {
		out = append(out, "accounts")
	}
	if prev.StrictToolNames != next.StrictToolNames {
		out = append(out, "strictToolNames")
	}
	return out
}

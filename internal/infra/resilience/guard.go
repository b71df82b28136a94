package resilience

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"opsagent/internal/domain"
	"opsagent/internal/infra/breaker"
	"opsagent/internal/infra/cache"
	"opsagent/internal/infra/ratelimit"
	"opsagent/internal/infra/retry"
	"opsagent/internal/infra/telemetry"
)

// Policy names the protections applied to one external call.
type Policy struct {
	// Operation selects the retry config.
	Operation string
	// Dependency selects the circuit breaker.
	Dependency string
	// Limiter selects the rate limiter class; empty skips rate limiting.
	Limiter string
	// LimitKey is the per-caller key inside the limiter.
	LimitKey string
}

// Guard runs external calls through rate limiting, circuit breaking and retry,
// in that order.
type Guard struct {
	limiters *ratelimit.Set
	breakers *breaker.Set
	executor *retry.Executor
	logger   *zap.Logger

	mu      sync.RWMutex
	retries map[string]domain.RetryConfig
}

func NewGuard(limiters *ratelimit.Set, breakers *breaker.Set, executor *retry.Executor, retries map[string]domain.RetryConfig, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if executor == nil {
		executor = retry.NewExecutor(logger, nil)
	}
	return &Guard{
		limiters: limiters,
		breakers: breakers,
		executor: executor,
		logger:   logger.Named("guard"),
		retries:  copyRetries(retries),
	}
}

func copyRetries(in map[string]domain.RetryConfig) map[string]domain.RetryConfig {
	out := make(map[string]domain.RetryConfig, len(in))
	for name, cfg := range in {
		out[name] = cfg
	}
	return out
}

// Apply replaces the retry configs used for subsequent calls.
func (g *Guard) Apply(retries map[string]domain.RetryConfig) {
	g.mu.Lock()
	g.retries = copyRetries(retries)
	g.mu.Unlock()
}

func (g *Guard) retryConfig(operation string) retry.Config {
	g.mu.RLock()
	cfg, ok := g.retries[operation]
	g.mu.RUnlock()
	if !ok {
		cfg = domain.DefaultRetryConfig()
	}
	return retry.ConfigFrom(cfg)
}

func (g *Guard) Breakers() *breaker.Set {
	return g.breakers
}

func (g *Guard) Limiters() *ratelimit.Set {
	return g.limiters
}

// Run executes op under policy. Rate-limit rejections and open circuits
// return without invoking op. Failures after retries are wrapped as
// EXTERNAL_FAILURE carrying the dependency name.
func (g *Guard) Run(ctx context.Context, policy Policy, op func(context.Context) error) error {
	if policy.Limiter != "" && g.limiters != nil {
		decision := g.limiters.Allow(policy.Limiter, policy.LimitKey)
		if !decision.Permitted {
			return domain.RateLimitedError(policy.Limiter+":"+policy.LimitKey, decision.RetryAfter)
		}
	}

	call := func(ctx context.Context) error {
		return g.executor.Do(ctx, policy.Operation, g.retryConfig(policy.Operation), op)
	}

	var err error
	if policy.Dependency != "" && g.breakers != nil {
		err = g.breakers.Get(policy.Dependency).Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err == nil {
		return nil
	}

	code, _ := domain.CodeFrom(err)
	switch code {
	case domain.CodeCircuitOpen, domain.CodeRateLimited:
		return err
	}
	if ctx.Err() != nil {
		return err
	}
	telemetry.LoggerWithRequest(ctx, g.logger).Warn("guarded call failed",
		telemetry.OperationField(policy.Operation),
		telemetry.DependencyField(policy.Dependency),
		zap.Error(err),
	)
	return domain.ExternalFailure(policy.Dependency, err)
}

// Cached looks key up in c first; on a miss it runs op through the guard
// and stores a successful result for ttl.
func Cached[V any](ctx context.Context, g *Guard, c *cache.Cache[V], key string, ttl time.Duration, policy Policy, op func(context.Context) (V, error)) (V, error) {
	if c != nil {
		if value, ok := c.Get(key); ok {
			return value, nil
		}
	}

	var out V
	err := g.Run(ctx, policy, func(ctx context.Context) error {
		value, err := op(ctx)
		if err != nil {
			return err
		}
		out = value
		return nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	if c != nil {
		if ttl > 0 {
			c.SetWithTTL(key, out, ttl)
		} else {
			c.Set(key, out)
		}
	}
	return out, nil
}

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsagent/internal/domain"
	"opsagent/internal/infra/breaker"
	"opsagent/internal/infra/cache"
	"opsagent/internal/infra/ratelimit"
	"opsagent/internal/infra/retry"
)

func newTestGuard(limit int, threshold int) *Guard {
	limiters := ratelimit.NewSet(map[string]domain.RateLimitConfig{
		domain.LimiterSync: {WindowSeconds: 60, Max: limit},
	}, ratelimit.Options{}, nil)
	breakers := breaker.NewSet(map[string]domain.BreakerConfig{
		domain.DependencyCloud: {FailureThreshold: threshold, OpenSeconds: 60},
	}, breaker.Options{})
	retries := map[string]domain.RetryConfig{
		"discover": {MaxAttempts: 3, InitialDelayMs: 1, MaxDelayMs: 2, Multiplier: 2},
	}
	return NewGuard(limiters, breakers, retry.NewExecutor(nil, nil), retries, nil)
}

var discoverPolicy = Policy{
	Operation:  "discover",
	Dependency: domain.DependencyCloud,
	Limiter:    domain.LimiterSync,
	LimitKey:   "acct-1",
}

func TestGuard_RetriesTransientFailures(t *testing.T) {
	g := newTestGuard(10, 5)

	calls := 0
	err := g.Run(context.Background(), discoverPolicy, func(context.Context) error {
		calls++
		if calls < 3 {
			return &domain.ProviderError{Provider: "static", Code: "503", Message: "busy"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, breaker.StateClosed, g.Breakers().Get(domain.DependencyCloud).State())
}

func TestGuard_WrapsExhaustedFailureWithDependency(t *testing.T) {
	g := newTestGuard(10, 5)
	providerErr := &domain.ProviderError{Provider: "static", Code: "Throttling", Message: "slow"}

	err := g.Run(context.Background(), discoverPolicy, func(context.Context) error {
		return providerErr
	})
	require.Error(t, err)

	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeExternalFailure, code)

	var got *domain.ProviderError
	require.ErrorAs(t, err, &got)
	assert.Same(t, providerErr, got)
}

func TestGuard_RateLimitRejectsWithoutCalling(t *testing.T) {
	g := newTestGuard(1, 5)

	require.NoError(t, g.Run(context.Background(), discoverPolicy, func(context.Context) error { return nil }))

	called := false
	err := g.Run(context.Background(), discoverPolicy, func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, domain.ErrRateLimited)
	assert.False(t, called)
}

func TestGuard_OpenBreakerRejectsWithoutCalling(t *testing.T) {
	g := newTestGuard(100, 1)
	permanent := errors.New("permanent")

	err := g.Run(context.Background(), discoverPolicy, func(context.Context) error { return permanent })
	require.ErrorIs(t, err, permanent)

	called := false
	err = g.Run(context.Background(), discoverPolicy, func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.False(t, called)
}

func TestCached_HitSkipsCall(t *testing.T) {
	g := newTestGuard(100, 5)
	c := cache.New[[]string]("resources", domain.CacheConfig{TTLSeconds: 60, Capacity: 10}, cache.Options{})

	calls := 0
	load := func(context.Context) ([]string, error) {
		calls++
		return []string{"vm-1"}, nil
	}

	first, err := Cached(context.Background(), g, c, "acct-1", time.Minute, discoverPolicy, load)
	require.NoError(t, err)
	second, err := Cached(context.Background(), g, c, "acct-1", time.Minute, discoverPolicy, load)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestCached_FailureIsNotCached(t *testing.T) {
	g := newTestGuard(100, 5)
	c := cache.New[int]("costs", domain.CacheConfig{TTLSeconds: 60, Capacity: 10}, cache.Options{})

	_, err := Cached(context.Background(), g, c, "k", 0, Policy{Operation: "op"}, func(context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 0, c.Stats().Size)
}

package introspect

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsagent/internal/domain"
	"opsagent/internal/infra/breaker"
	"opsagent/internal/infra/toolreg"
)

type fixedStats struct {
	lastTopN int
}

func (s *fixedStats) AggregatedStats(topN int) domain.UsageStats {
	s.lastTopN = topN
	return domain.UsageStats{Total: 4, Successes: 3, Failures: 1, SuccessRate: 0.75}
}

func TestRegistry_UsageStats(t *testing.T) {
	stats := &fixedStats{}
	reg, err := NewRegistry(stats, breaker.NewSet(nil, breaker.Options{}), toolreg.Options{})
	require.NoError(t, err)

	out, err := reg.ExecuteTool(context.Background(), ToolUsageStats, nil, domain.CallerContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultUsageTopN, stats.lastTopN)

	var got domain.UsageStats
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, 4, got.Total)

	_, err = reg.ExecuteTool(context.Background(), ToolUsageStats, json.RawMessage(`{"topN":3}`), domain.CallerContext{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.lastTopN)
}

func TestRegistry_BreakerStatusAndReset(t *testing.T) {
	breakers := breaker.NewSet(map[string]domain.BreakerConfig{
		domain.DependencyCloud: {FailureThreshold: 1, OpenSeconds: 60},
	}, breaker.Options{})
	_ = breakers.Get(domain.DependencyCloud).Execute(context.Background(), func(context.Context) error {
		return errors.New("boom")
	})

	reg, err := NewRegistry(&fixedStats{}, breakers, toolreg.Options{})
	require.NoError(t, err)
	ctx := context.Background()

	out, err := reg.ExecuteTool(ctx, ToolBreakerStatus, nil, domain.CallerContext{})
	require.NoError(t, err)
	var views []breakerView
	require.NoError(t, json.Unmarshal(out, &views))
	require.Len(t, views, 1)
	assert.Equal(t, "open", views[0].State)
	assert.NotEmpty(t, views[0].LastFailureAt)

	_, err = reg.ExecuteTool(ctx, ToolResetBreaker, json.RawMessage(`{"dependency":"cloud"}`), domain.CallerContext{})
	require.NoError(t, err)
	assert.Equal(t, breaker.StateClosed, breakers.Get(domain.DependencyCloud).State())

	_, err = reg.ExecuteTool(ctx, ToolResetBreaker, json.RawMessage(`{"dependency":"nope"}`), domain.CallerContext{})
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeNotFound, code)

	_, err = reg.ExecuteTool(ctx, ToolResetBreaker, json.RawMessage(`{}`), domain.CallerContext{})
	require.ErrorIs(t, err, domain.ErrValidation)
}

package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsagent/internal/domain"
	"opsagent/internal/infra/toolreg"
)

type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.now
	c.now = c.now.Add(c.step)
	return current
}

func newRegistry(t *testing.T, name string, step time.Duration, tools ...string) *toolreg.Registry {
	t.Helper()
	clock := &steppingClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), step: step}
	reg := toolreg.New(name, "1.0.0", toolreg.Options{Clock: clock.Now})
	for _, tool := range tools {
		tool := tool
		require.NoError(t, reg.RegisterTool(toolreg.Tool{
			Definition: domain.ToolDefinition{Name: tool},
			Invoke: func(context.Context, json.RawMessage) (json.RawMessage, error) {
				return json.RawMessage(`"` + name + `"`), nil
			},
		}))
	}
	return reg
}

func TestAggregator_WeightedAverageDuration(t *testing.T) {
	agg := New(Options{Strict: true})
	defer agg.Close()

	fast := newRegistry(t, "fast", 100*time.Millisecond, "ping")
	slow := newRegistry(t, "slow", 200*time.Millisecond, "scan")
	require.NoError(t, agg.Add(fast))
	require.NoError(t, agg.Add(slow))

	for i := 0; i < 10; i++ {
		_, err := agg.ExecuteTool(context.Background(), "ping", nil, domain.CallerContext{})
		require.NoError(t, err)
	}
	for i := 0; i < 30; i++ {
		_, err := agg.ExecuteToolOn(context.Background(), "slow", "scan", nil, domain.CallerContext{})
		require.NoError(t, err)
	}

	stats := agg.AggregatedStats(5)
	assert.Equal(t, 40, stats.Total)
	assert.Equal(t, 175*time.Millisecond, stats.AvgDuration)
	require.Len(t, stats.TopTools, 2)
	assert.Equal(t, domain.ToolCount{Registry: "slow", Name: "scan", Count: 30}, stats.TopTools[0])
	assert.InDelta(t, 1.0, stats.SuccessRate, 0)
}

func TestAggregator_StrictRejectsCollisions(t *testing.T) {
	agg := New(Options{Strict: true})
	defer agg.Close()

	require.NoError(t, agg.Add(newRegistry(t, "a", time.Millisecond, "shared")))
	err := agg.Add(newRegistry(t, "b", time.Millisecond, "shared"))
	require.ErrorIs(t, err, domain.ErrDuplicateName)

	err = agg.Add(newRegistry(t, "a", time.Millisecond, "other"))
	require.ErrorIs(t, err, domain.ErrDuplicateName)
}

func TestAggregator_NonStrictFirstMatchWins(t *testing.T) {
	agg := New(Options{})
	defer agg.Close()

	require.NoError(t, agg.Add(newRegistry(t, "first", time.Millisecond, "shared")))
	require.NoError(t, agg.Add(newRegistry(t, "second", time.Millisecond, "shared")))

	result, err := agg.ExecuteTool(context.Background(), "shared", nil, domain.CallerContext{})
	require.NoError(t, err)
	assert.JSONEq(t, `"first"`, string(result))
	assert.Len(t, agg.Tools(), 1)

	result, err = agg.ExecuteToolOn(context.Background(), "second", "shared", nil, domain.CallerContext{})
	require.NoError(t, err)
	assert.JSONEq(t, `"second"`, string(result))
}

func TestAggregator_NotFound(t *testing.T) {
	agg := New(Options{Strict: true})
	defer agg.Close()
	reg := newRegistry(t, "a", time.Millisecond, "ping")
	require.NoError(t, agg.Add(reg))

	_, err := agg.ExecuteTool(context.Background(), "missing", nil, domain.CallerContext{})
	require.ErrorIs(t, err, domain.ErrToolNotFound)

	_, err = agg.ExecuteToolOn(context.Background(), "nope", "ping", nil, domain.CallerContext{})
	require.ErrorIs(t, err, domain.ErrRegistryNotFound)

	assert.Empty(t, reg.Records(domain.UsageFilter{}))
}

func TestAggregator_MergesRecentErrorsNewestFirst(t *testing.T) {
	agg := New(Options{Strict: true})
	defer agg.Close()

	for i, name := range []string{"a", "b"} {
		clock := &steppingClock{now: time.Date(2026, 1, 1, i, 0, 0, 0, time.UTC), step: time.Millisecond}
		reg := toolreg.New(name, "1.0.0", toolreg.Options{Clock: clock.Now})
		require.NoError(t, reg.RegisterTool(toolreg.Tool{
			Definition: domain.ToolDefinition{Name: "fail_" + name},
			Invoke: func(context.Context, json.RawMessage) (json.RawMessage, error) {
				return nil, errors.New("failed in " + name)
			},
		}))
		require.NoError(t, agg.Add(reg))
		_, _ = agg.ExecuteTool(context.Background(), "fail_"+name, nil, domain.CallerContext{})
	}

	stats := agg.AggregatedStats(5)
	require.Len(t, stats.RecentErrors, 2)
	assert.Equal(t, "b", stats.RecentErrors[0].Registry)
	assert.Equal(t, "a", stats.RecentErrors[1].Registry)
}

func TestAggregator_SubscribeReceivesAllRegistries(t *testing.T) {
	agg := New(Options{Strict: true})
	require.NoError(t, agg.Add(newRegistry(t, "a", time.Millisecond, "ping")))
	require.NoError(t, agg.Add(newRegistry(t, "b", time.Millisecond, "pong")))

	events := agg.Subscribe(8)
	_, _ = agg.ExecuteTool(context.Background(), "ping", nil, domain.CallerContext{})
	_, _ = agg.ExecuteTool(context.Background(), "pong", nil, domain.CallerContext{})

	got := map[string]bool{}
	for len(got) < 2 {
		select {
		case event := <-events:
			got[event.Registry] = true
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}

	agg.Close()
	_, open := <-events
	assert.False(t, open)
}

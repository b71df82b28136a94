package catalog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProvider_ReloadNotifiesWatchers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	path := writeTempConfig(t, "opsagent.yaml", "agent:\n  maxIterations: 2\n")
	provider, err := NewProvider(ctx, path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, provider.Snapshot().Agent.MaxIterations)
	assert.Equal(t, uint64(1), provider.Revision())

	updates, err := provider.Watch(ctx)
	require.NoError(t, err)

	changed, err := provider.Reload(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, os.WriteFile(path, []byte("agent:\n  maxIterations: 4\n"), 0o644))
	_, err = provider.Reload(ctx)
	require.NoError(t, err)

	select {
	case cfg := <-updates:
		assert.Equal(t, 4, cfg.Agent.MaxIterations)
	case <-time.After(2 * time.Second):
		t.Fatal("expected config update")
	}
	assert.Equal(t, 4, provider.Snapshot().Agent.MaxIterations)
	assert.Equal(t, uint64(2), provider.Revision())
}

func TestProvider_InvalidReloadKeepsPrevious(t *testing.T) {
	path := writeTempConfig(t, "opsagent.yaml", "agent:\n  maxIterations: 2\n")
	provider, err := NewProvider(context.Background(), path, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("agent:\n  maxIterations: 0\n"), 0o644))
	changed, err := provider.Reload(context.Background())
	require.Error(t, err)
	assert.False(t, changed)
	assert.Equal(t, 2, provider.Snapshot().Agent.MaxIterations)
}

func TestProvider_WatchesFileChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	path := writeTempConfig(t, "opsagent.yaml", "store:\n  path: first.db\n")
	provider, err := NewProvider(ctx, path, nil)
	require.NoError(t, err)
	provider.debounce = 10 * time.Millisecond

	updates, err := provider.Watch(ctx)
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		// Rewrite until the watcher has been registered and fires.
		require.NoError(t, os.WriteFile(path, []byte("store:\n  path: second.db\n"), 0o644))
		select {
		case cfg := <-updates:
			assert.Equal(t, "second.db", cfg.Store.Path)
			return
		case <-deadline:
			t.Fatal("watcher did not deliver the change")
		case <-tick.C:
		}
	}
}

func TestProvider_RejectsInvalidInitialConfig(t *testing.T) {
	path := writeTempConfig(t, "opsagent.yaml", "agent:\n  maxIterations: -1\n")
	_, err := NewProvider(context.Background(), path, nil)
	require.Error(t, err)
}

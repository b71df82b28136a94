package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthTracker_StaleBeatDegrades(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tracker := NewHealthTracker()
	tracker.now = func() time.Time { return now }

	beat := tracker.Register("cache-sweep", time.Minute)
	require.Equal(t, "ok", tracker.Report().Status)

	now = now.Add(2 * time.Minute)
	report := tracker.Report()
	assert.Equal(t, "degraded", report.Status)
	require.Len(t, report.Checks, 1)
	assert.False(t, report.Checks[0].Healthy)
	assert.Equal(t, int64(120_000), report.Checks[0].StaleMs)

	beat.Beat()
	assert.Equal(t, "ok", tracker.Report().Status)

	beat.Stop()
	assert.Empty(t, tracker.Report().Checks)
}

func TestHealthTracker_NilSafe(t *testing.T) {
	var tracker *HealthTracker
	assert.Equal(t, "ok", tracker.Report().Status)
	assert.Nil(t, tracker.Register("x", time.Second))

	var beat *Heartbeat
	beat.Beat()
	beat.Stop()
}

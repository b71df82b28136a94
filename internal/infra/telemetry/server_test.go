package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"opsagent/internal/domain"
)

func TestNewHandler_Metrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)
	metrics.ObserveRateLimit(domain.LimiterAPI, true)

	srv := httptest.NewServer(NewHandler(HTTPServerOptions{EnableMetrics: true, Registry: registry}))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "opsagent_rate_limit_decisions_total")

	missing, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestNewHandler_Healthz(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var elapsed atomic.Int64
	tracker := NewHealthTracker()
	tracker.now = func() time.Time { return base.Add(time.Duration(elapsed.Load())) }
	tracker.Register("cache-sweep", time.Minute)

	srv := httptest.NewServer(NewHandler(HTTPServerOptions{EnableHealthz: true, Health: tracker}))
	t.Cleanup(srv.Close)

	fetch := func() (int, HealthReport) {
		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		var report HealthReport
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
		return resp.StatusCode, report
	}

	code, report := fetch()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", report.Status)

	elapsed.Store(int64(2 * time.Minute))
	code, report = fetch()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	require.Len(t, report.Checks, 1)
	assert.False(t, report.Checks[0].Healthy)
	assert.Equal(t, int64(120000), report.Checks[0].StaleMs)
}

func TestStartHTTPServer_ServesUntilCancelled(t *testing.T) {
	addr := freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- StartHTTPServer(ctx, HTTPServerOptions{Addr: addr, EnableHealthz: true}, zap.NewNop())
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStartHTTPServer_AddressInUse(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("listen: %v", err)
	}
	defer listener.Close()

	err = StartHTTPServer(context.Background(), HTTPServerOptions{Addr: listener.Addr().String(), EnableMetrics: true}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "observability listen")
}

func TestStartHTTPServer_Disabled(t *testing.T) {
	assert.NoError(t, StartHTTPServer(context.Background(), HTTPServerOptions{}, nil))
}

func freeAddr(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()
	return addr
}

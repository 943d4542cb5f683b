package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/health"
	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/metrics"
	"github.com/saiset-co/sai-cache/types"
)

func newTestServer(t *testing.T) *ObservabilityServer {
	t.Helper()

	log := logger.NewZapWrapper(zap.NewNop())

	metricsManager, err := metrics.NewManager(context.Background(), log, &types.MetricsConfig{
		Enabled:        true,
		Type:           "memory",
		SnapshotWindow: time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, metricsManager.Start())
	t.Cleanup(func() { _ = metricsManager.Stop() })

	metricsManager.Counter("hits", nil).Inc()

	healthManager, err := health.NewManager(context.Background(), log, &types.HealthConfig{
		Enabled:      true,
		CheckTimeout: time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, healthManager.RegisterChecker("always_up", func(_ context.Context) error {
		return nil
	}))

	srv, err := NewObservabilityServer(context.Background(), log, metricsManager, healthManager, nil)
	require.NoError(t, err)

	return srv
}

func doRequest(srv *ObservabilityServer, method, path string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)

	srv.handler(ctx)
	return ctx
}

func TestServerHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	ctx := doRequest(srv, fasthttp.MethodGet, "/health")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.Contains(t, string(ctx.Response.Body()), `"up"`)
	require.Contains(t, string(ctx.Response.Body()), "always_up")
}

func TestServerStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	ctx := doRequest(srv, fasthttp.MethodGet, "/stats")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.Contains(t, string(ctx.Response.Body()), `"counters"`)
	require.Contains(t, string(ctx.Response.Body()), `"hits"`)
}

func TestServerMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	ctx := doRequest(srv, fasthttp.MethodGet, "/metrics")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.Contains(t, string(ctx.Response.Body()), "hits")
}

func TestServerUnknownRoute(t *testing.T) {
	srv := newTestServer(t)

	ctx := doRequest(srv, fasthttp.MethodGet, "/nope")
	require.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestServerRejectsNonGet(t *testing.T) {
	srv := newTestServer(t)

	ctx := doRequest(srv, fasthttp.MethodPost, "/health")
	require.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
}

func TestServerLifecycle(t *testing.T) {
	log := logger.NewZapWrapper(zap.NewNop())

	metricsManager, err := metrics.NewManager(context.Background(), log, &types.MetricsConfig{
		Enabled: true,
		Type:    "memory",
	})
	require.NoError(t, err)
	require.NoError(t, metricsManager.Start())
	defer func() { _ = metricsManager.Stop() }()

	healthManager, err := health.NewManager(context.Background(), log, nil)
	require.NoError(t, err)

	srv, err := NewObservabilityServer(context.Background(), log, metricsManager, healthManager, &types.ServerConfig{
		Enabled: true,
		Host:    "127.0.0.1",
		Port:    0,
	})
	require.NoError(t, err)

	require.NoError(t, srv.Start())
	require.True(t, srv.IsRunning())
	require.ErrorIs(t, srv.Start(), types.ErrServerAlreadyRunning)

	require.NoError(t, srv.Stop())
	require.False(t, srv.IsRunning())
	require.ErrorIs(t, srv.Stop(), types.ErrServerNotRunning)
}

package saicache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/types"
)

type session struct {
	UserID int    `json:"user_id"`
	Token  string `json:"token"`
}

func testConfig(namespace string) *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:       "test-cache",
		Namespace:  namespace,
		Adapter:    types.AdapterTypeMemory,
		DefaultTTL: time.Minute,
		Logger:     &types.LoggerConfig{Level: "error"},
		Memory:     &types.MemoryConfig{MaxEntries: 100},
		Metrics: &types.MetricsConfig{
			Enabled:        true,
			Type:           "memory",
			SnapshotWindow: time.Minute,
		},
		Health: &types.HealthConfig{
			Enabled:      true,
			CheckTimeout: time.Second,
		},
	}
}

func newTestService(t *testing.T, namespace string) *Service {
	t.Helper()

	svc, err := New(context.Background(), testConfig(namespace))
	require.NoError(t, err)
	require.NoError(t, svc.Start())

	t.Cleanup(func() { _ = svc.Stop() })

	return svc
}

func TestServiceRoundTrip(t *testing.T) {
	svc := newTestService(t, "app")
	ctx := context.Background()

	original := session{UserID: 42, Token: "abc123"}
	require.NoError(t, svc.Set(ctx, "session:42", original))

	var loaded session
	found, err := svc.Get(ctx, "session:42", &loaded)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, original, loaded)
}

func TestServiceMissReadsAsNotFound(t *testing.T) {
	svc := newTestService(t, "app")

	var loaded session
	found, err := svc.Get(context.Background(), "absent", &loaded)
	require.NoError(t, err)
	require.False(t, found)
}

func TestServiceNamespacesKeys(t *testing.T) {
	svc := newTestService(t, "app")
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "k", session{UserID: 1}))

	// The adapter sees the namespaced key, never the bare one.
	exists, err := svc.adapter.Has(ctx, "app:k")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = svc.adapter.Has(ctx, "k")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestServicePurgesCorruptEntries(t *testing.T) {
	svc := newTestService(t, "app")
	ctx := context.Background()

	// Plant bytes the serializer cannot decode.
	require.NoError(t, svc.adapter.Set(ctx, "app:bad", []byte("{not json"), time.Minute))

	var loaded session
	found, err := svc.Get(ctx, "bad", &loaded)
	require.ErrorIs(t, err, types.ErrDeserializationFailed)
	require.False(t, found)

	// The corrupt entry is gone; the next read is a clean miss.
	_, err = svc.adapter.Get(ctx, "app:bad")
	require.ErrorIs(t, err, types.ErrEntryNotFound)

	found, err = svc.Get(ctx, "bad", &loaded)
	require.NoError(t, err)
	require.False(t, found)
}

func TestServiceDefaultTTL(t *testing.T) {
	svc := newTestService(t, "app")
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "k", session{UserID: 1}))

	entry, err := svc.adapter.Get(ctx, "app:k")
	require.NoError(t, err)

	remaining := entry.Remaining(time.Now())
	require.Greater(t, remaining, 50*time.Second)
	require.LessOrEqual(t, remaining, time.Minute)
}

func TestServiceExplicitTTL(t *testing.T) {
	svc := newTestService(t, "app")
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "short", session{UserID: 1}, 20*time.Millisecond))
	require.True(t, svc.Has(ctx, "short"))

	time.Sleep(30 * time.Millisecond)
	require.False(t, svc.Has(ctx, "short"))
}

func TestServiceDelete(t *testing.T) {
	svc := newTestService(t, "app")
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "k", session{UserID: 1}))
	require.NoError(t, svc.Delete(ctx, "k"))
	require.False(t, svc.Has(ctx, "k"))

	// Deleting an absent key still succeeds.
	require.NoError(t, svc.Delete(ctx, "k"))
}

func TestServiceClearScopedToNamespace(t *testing.T) {
	svc := newTestService(t, "app")
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "session:1", session{UserID: 1}))
	require.NoError(t, svc.Set(ctx, "session:2", session{UserID: 2}))
	require.NoError(t, svc.Set(ctx, "profile:1", session{UserID: 1}))

	require.NoError(t, svc.Clear(ctx, "session:"))

	require.False(t, svc.Has(ctx, "session:1"))
	require.False(t, svc.Has(ctx, "session:2"))
	require.True(t, svc.Has(ctx, "profile:1"))

	require.NoError(t, svc.Clear(ctx))
	require.False(t, svc.Has(ctx, "profile:1"))
}

func TestServiceEmptyKeyRejected(t *testing.T) {
	svc := newTestService(t, "app")
	ctx := context.Background()

	var loaded session
	_, err := svc.Get(ctx, "", &loaded)
	require.ErrorIs(t, err, types.ErrCacheKeyEmpty)

	require.ErrorIs(t, svc.Set(ctx, "", session{}), types.ErrCacheKeyEmpty)
	require.ErrorIs(t, svc.Delete(ctx, ""), types.ErrCacheKeyEmpty)
	require.False(t, svc.Has(ctx, ""))
}

func TestServiceTypedGet(t *testing.T) {
	svc := newTestService(t, "app")
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "k", session{UserID: 7, Token: "t"}))

	loaded, found, err := Get[session](ctx, svc, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 7, loaded.UserID)

	_, found, err = Get[session](ctx, svc, "absent")
	require.NoError(t, err)
	require.False(t, found)
}

func TestServiceRejectsInvalidConfig(t *testing.T) {
	config := testConfig("app")
	config.Namespace = ""

	_, err := New(context.Background(), config)
	require.ErrorIs(t, err, types.ErrConfigValidateFailed)

	_, err = New(context.Background(), nil)
	require.ErrorIs(t, err, types.ErrConfigIsNil)
}

func TestServiceLifecycle(t *testing.T) {
	svc, err := New(context.Background(), testConfig("app"))
	require.NoError(t, err)

	require.False(t, svc.IsRunning())
	require.NoError(t, svc.Start())
	require.True(t, svc.IsRunning())
	require.ErrorIs(t, svc.Start(), types.ErrServerAlreadyRunning)

	require.True(t, svc.Healthy(context.Background()))

	require.NoError(t, svc.Stop())
	require.False(t, svc.IsRunning())
	require.ErrorIs(t, svc.Stop(), types.ErrServerNotRunning)
}

func TestServiceMetricsRecordOutcomes(t *testing.T) {
	svc := newTestService(t, "app")
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "k", session{UserID: 1}))

	var loaded session
	_, err := svc.Get(ctx, "k", &loaded)
	require.NoError(t, err)
	_, err = svc.Get(ctx, "absent", &loaded)
	require.NoError(t, err)

	snapshot, err := svc.Snapshot()
	require.NoError(t, err)

	require.Equal(t, float64(1),
		snapshot.Counters["cache_operations_total{operation=get}{result=hit}"])
	require.Equal(t, float64(1),
		snapshot.Counters["cache_operations_total{operation=get}{result=miss}"])
	require.Equal(t, float64(1),
		snapshot.Counters["cache_operations_total{operation=set}{result=success}"])
}

func TestServiceBreakerStateWithoutRemote(t *testing.T) {
	svc := newTestService(t, "app")
	require.Equal(t, "disabled", svc.BreakerState())
}

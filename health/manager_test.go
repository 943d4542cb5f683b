package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/types"
)

func newTestHealthManager(t *testing.T) *Manager {
	t.Helper()

	manager, err := NewManager(context.Background(), logger.NewZapWrapper(zap.NewNop()), &types.HealthConfig{
		Enabled:      true,
		CheckTimeout: time.Second,
	})
	require.NoError(t, err)

	return manager
}

func TestRegisterChecker(t *testing.T) {
	manager := newTestHealthManager(t)

	require.NoError(t, manager.RegisterChecker("adapter", func(_ context.Context) error { return nil }))

	err := manager.RegisterChecker("adapter", func(_ context.Context) error { return nil })
	require.ErrorIs(t, err, types.ErrCheckerAlreadyExist)

	err = manager.RegisterChecker("", func(_ context.Context) error { return nil })
	require.ErrorIs(t, err, types.ErrCheckerNameIsEmpty)
}

func TestCheckReportsStatuses(t *testing.T) {
	manager := newTestHealthManager(t)

	require.NoError(t, manager.RegisterChecker("up", func(_ context.Context) error {
		return nil
	}))
	require.NoError(t, manager.RegisterChecker("down", func(_ context.Context) error {
		return types.ErrCacheUnavailable
	}))

	results := manager.Check(context.Background())
	require.Len(t, results, 2)

	require.Equal(t, types.HealthStatusUp, results["up"].Status)
	require.Empty(t, results["up"].Error)

	require.Equal(t, types.HealthStatusDown, results["down"].Status)
	require.NotEmpty(t, results["down"].Error)

	require.False(t, manager.Healthy(context.Background()))
}

func TestHealthyWithAllCheckersUp(t *testing.T) {
	manager := newTestHealthManager(t)

	require.NoError(t, manager.RegisterChecker("a", func(_ context.Context) error { return nil }))
	require.NoError(t, manager.RegisterChecker("b", func(_ context.Context) error { return nil }))

	require.True(t, manager.Healthy(context.Background()))

	results := manager.LastResults()
	require.Len(t, results, 2)
}

func TestCheckHonorsTimeout(t *testing.T) {
	manager, err := NewManager(context.Background(), logger.NewZapWrapper(zap.NewNop()), &types.HealthConfig{
		Enabled:      true,
		CheckTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, manager.RegisterChecker("slow", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))

	start := time.Now()
	results := manager.Check(context.Background())
	require.Less(t, time.Since(start), 500*time.Millisecond)

	require.Equal(t, types.HealthStatusDown, results["slow"].Status)
}

func TestLifecycle(t *testing.T) {
	manager := newTestHealthManager(t)

	require.NoError(t, manager.Start())
	require.True(t, manager.IsRunning())
	require.ErrorIs(t, manager.Start(), types.ErrServerAlreadyRunning)
	require.NotZero(t, manager.Uptime())

	require.NoError(t, manager.Stop())
	require.False(t, manager.IsRunning())
	require.ErrorIs(t, manager.Stop(), types.ErrServerNotRunning)
}

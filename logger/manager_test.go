package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/types"
)

var _ types.LoggerManager = (*Manager)(nil)

func TestManagerLifecycle(t *testing.T) {
	manager, err := NewManager(context.Background(), &types.LoggerConfig{Level: "error"})
	require.NoError(t, err)

	require.NoError(t, manager.Start())
	require.True(t, manager.IsRunning())
	require.ErrorIs(t, manager.Start(), types.ErrServerAlreadyRunning)

	manager.Info("started")

	require.NoError(t, manager.Stop())
	require.False(t, manager.IsRunning())
	require.ErrorIs(t, manager.Stop(), types.ErrServerNotRunning)
}

func TestManagerRejectsNilConfig(t *testing.T) {
	_, err := NewManager(context.Background(), nil)
	require.ErrorIs(t, err, types.ErrConfigIsNil)
}

func TestManagerUnknownType(t *testing.T) {
	_, err := NewManager(context.Background(), &types.LoggerConfig{Type: "syslog"})
	require.ErrorIs(t, err, types.ErrLoggerTypeUnknown)
}

package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/types"
)

func newTestMemoryMetrics(t *testing.T) types.MetricsManager {
	t.Helper()

	m, err := NewMemoryMetrics(context.Background(), logger.NewZapWrapper(zap.NewNop()), &types.MetricsConfig{
		Enabled:        true,
		Type:           "memory",
		SnapshotWindow: time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, m.Start())

	return m
}

func TestMemoryMetricsCounter(t *testing.T) {
	m := newTestMemoryMetrics(t)

	counter := m.Counter("cache_operations_total", map[string]string{"operation": "get", "result": "hit"})
	counter.Inc()
	counter.Add(2)

	require.Equal(t, float64(3), counter.Get())

	// Same name and labels resolve to the same instrument.
	again := m.Counter("cache_operations_total", map[string]string{"result": "hit", "operation": "get"})
	again.Inc()
	require.Equal(t, float64(4), counter.Get())

	// Different labels are a different series.
	other := m.Counter("cache_operations_total", map[string]string{"operation": "get", "result": "miss"})
	require.Equal(t, float64(0), other.Get())
}

func TestMemoryMetricsGauge(t *testing.T) {
	m := newTestMemoryMetrics(t)

	gauge := m.Gauge("cache_entries", nil)
	gauge.Set(10)
	gauge.Inc()
	gauge.Dec()
	gauge.Add(5)
	gauge.Sub(3)

	require.Equal(t, float64(12), gauge.Get())
}

func TestMemoryMetricsHistogramPercentiles(t *testing.T) {
	m := newTestMemoryMetrics(t)

	histogram := m.Histogram("cache_operation_duration_seconds",
		[]float64{0.001, 0.01, 0.1}, map[string]string{"operation": "get"})

	for i := 1; i <= 100; i++ {
		histogram.Observe(float64(i) / 1000)
	}

	require.Equal(t, uint64(100), histogram.GetCount())
	require.InDelta(t, 5.05, histogram.GetSum(), 0.001)

	snapshot, err := m.Snapshot()
	require.NoError(t, err)

	summary, exists := snapshot.Latency["cache_operation_duration_seconds{operation=get}"]
	require.True(t, exists)
	require.Equal(t, uint64(100), summary.Count)
	require.InDelta(t, 0.050, summary.P50, 0.001)
	require.InDelta(t, 0.090, summary.P90, 0.001)
	require.InDelta(t, 0.099, summary.P99, 0.001)
}

func TestMemoryMetricsSnapshotAndReset(t *testing.T) {
	m := newTestMemoryMetrics(t)

	m.Counter("hits", nil).Add(5)
	m.Gauge("entries", nil).Set(42)

	snapshot, err := m.Snapshot()
	require.NoError(t, err)
	require.Equal(t, float64(5), snapshot.Counters["hits"])
	require.Equal(t, float64(42), snapshot.Gauges["entries"])
	require.False(t, snapshot.TakenAt.IsZero())

	// Snapshots are read-only: taking one changes nothing.
	snapshot, err = m.Snapshot()
	require.NoError(t, err)
	require.Equal(t, float64(5), snapshot.Counters["hits"])

	require.NoError(t, m.Reset())

	snapshot, err = m.Snapshot()
	require.NoError(t, err)
	require.Empty(t, snapshot.Counters)
	require.Empty(t, snapshot.Gauges)
}

func TestMemoryMetricsGetMetrics(t *testing.T) {
	m := newTestMemoryMetrics(t)

	m.Counter("hits", nil).Inc()

	data, err := m.GetMetrics()
	require.NoError(t, err)
	require.Contains(t, string(data), `"hits"`)
}

func TestManagerDegradesToNoopWhenStopped(t *testing.T) {
	manager, err := NewManager(context.Background(), logger.NewZapWrapper(zap.NewNop()), &types.MetricsConfig{
		Enabled: true,
		Type:    "memory",
	})
	require.NoError(t, err)

	// Not started yet: instruments record nothing and never panic.
	counter := manager.Counter("hits", nil)
	counter.Inc()
	require.Equal(t, float64(0), counter.Get())

	_, err = manager.Snapshot()
	require.ErrorIs(t, err, types.ErrMetricsNotRunning)

	require.NoError(t, manager.Start())

	manager.Counter("hits", nil).Inc()
	snapshot, err := manager.Snapshot()
	require.NoError(t, err)
	require.Equal(t, float64(1), snapshot.Counters["hits"])

	require.NoError(t, manager.Stop())
}

func TestManagerDisabled(t *testing.T) {
	_, err := NewManager(context.Background(), logger.NewZapWrapper(zap.NewNop()), &types.MetricsConfig{
		Enabled: false,
	})
	require.ErrorIs(t, err, types.ErrMetricsIsDisabled)
}

func TestBuildMetricKeyStableOrder(t *testing.T) {
	a := buildMetricKey("m", map[string]string{"x": "1", "y": "2"})
	b := buildMetricKey("m", map[string]string{"y": "2", "x": "1"})
	require.Equal(t, a, b)

	require.Equal(t, "m", buildMetricKey("m", nil))
}

package types

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
)

type MetricsManager interface {
	LifecycleManager
	Counter(name string, labels map[string]string) Counter
	Gauge(name string, labels map[string]string) Gauge
	Histogram(name string, buckets []float64, labels map[string]string) Histogram
	Snapshot() (*MetricsSnapshot, error)
	Reset() error
	GetMetrics() ([]byte, error)
	Handler() fasthttp.RequestHandler
}

type Counter interface {
	Inc()
	Add(value float64)
	Get() float64
}

type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(value float64)
	Sub(value float64)
	Get() float64
}

type Histogram interface {
	Observe(value float64)
	ObserveDuration(start time.Time)
	GetCount() uint64
	GetSum() float64
}

type MetricsManagerCreator func(config interface{}) (MetricsManager, error)

// MetricsSnapshot is an aggregated, read-only view of recorded outcomes.
// It is reset only by an explicit MetricsManager.Reset call.
type MetricsSnapshot struct {
	InstanceID string                    `json:"instance_id,omitempty"`
	TakenAt    time.Time                 `json:"taken_at"`
	Counters   map[string]float64        `json:"counters"`
	Gauges     map[string]float64        `json:"gauges"`
	Latency    map[string]LatencySummary `json:"latency"`
}

type LatencySummary struct {
	Count uint64  `json:"count"`
	Sum   float64 `json:"sum"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P99   float64 `json:"p99"`
}

type MetricValue struct {
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels"`
	Timestamp time.Time         `json:"timestamp"`
	Help      string            `json:"help"`
}

// SnapshotSink receives periodic snapshot pushes from the reporter.
type SnapshotSink interface {
	Push(ctx context.Context, snapshot *MetricsSnapshot) error
}

package metrics

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type MemoryMetricsConfig struct {
	MaxSamples int `yaml:"max_samples" json:"max_samples"`
}

// MemoryMetrics is the in-process collector. Counters and gauges are plain
// aggregates; histograms additionally keep a bounded ring of raw observations
// inside the snapshot window so percentiles come from real samples instead of
// bucket interpolation. Aggregates survive until an explicit Reset.
type MemoryMetrics struct {
	ctx        context.Context
	logger     types.Logger
	labels     map[string]string
	window     time.Duration
	maxSamples int
	mu         sync.RWMutex
	counters   map[string]*memoryCounter
	gauges     map[string]*memoryGauge
	histograms map[string]*memoryHistogram
	running    int32
}

func NewMemoryMetrics(ctx context.Context, logger types.Logger, config *types.MetricsConfig) (types.MetricsManager, error) {
	memConfig := &MemoryMetricsConfig{
		MaxSamples: 4096,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, memConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory metrics config")
		}
	}
	if memConfig.MaxSamples <= 0 {
		memConfig.MaxSamples = 4096
	}

	window := config.SnapshotWindow
	if window <= 0 {
		window = 5 * time.Minute
	}

	metrics := &MemoryMetrics{
		ctx:        ctx,
		logger:     logger,
		labels:     config.Labels,
		window:     window,
		maxSamples: memConfig.MaxSamples,
		counters:   make(map[string]*memoryCounter),
		gauges:     make(map[string]*memoryGauge),
		histograms: make(map[string]*memoryHistogram),
	}

	logger.Info("Memory metrics initialized",
		zap.Duration("snapshot_window", window),
		zap.Int("max_samples", memConfig.MaxSamples))

	return metrics, nil
}

func (m *MemoryMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		m.logger.Warn("Memory metrics is already running")
		return types.ErrServerAlreadyRunning
	}

	m.logger.Info("Memory metrics started")
	return nil
}

func (m *MemoryMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		m.logger.Warn("Memory metrics is not running")
		return types.ErrServerNotRunning
	}

	m.logger.Info("Memory metrics stopped")
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return atomic.LoadInt32(&m.running) == 1
}

func (m *MemoryMetrics) Counter(name string, labels map[string]string) types.Counter {
	key := buildMetricKey(name, labels)

	m.mu.RLock()
	counter, exists := m.counters[key]
	m.mu.RUnlock()
	if exists {
		return counter
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if counter, exists = m.counters[key]; exists {
		return counter
	}

	counter = &memoryCounter{}
	m.counters[key] = counter
	return counter
}

func (m *MemoryMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	key := buildMetricKey(name, labels)

	m.mu.RLock()
	gauge, exists := m.gauges[key]
	m.mu.RUnlock()
	if exists {
		return gauge
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if gauge, exists = m.gauges[key]; exists {
		return gauge
	}

	gauge = &memoryGauge{}
	m.gauges[key] = gauge
	return gauge
}

func (m *MemoryMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	key := buildMetricKey(name, labels)

	m.mu.RLock()
	histogram, exists := m.histograms[key]
	m.mu.RUnlock()
	if exists {
		return histogram
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if histogram, exists = m.histograms[key]; exists {
		return histogram
	}

	histogram = newMemoryHistogram(buckets, m.window, m.maxSamples)
	m.histograms[key] = histogram
	return histogram
}

func (m *MemoryMetrics) Snapshot() (*types.MetricsSnapshot, error) {
	now := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := &types.MetricsSnapshot{
		TakenAt:  now,
		Counters: make(map[string]float64, len(m.counters)),
		Gauges:   make(map[string]float64, len(m.gauges)),
		Latency:  make(map[string]types.LatencySummary, len(m.histograms)),
	}

	for key, counter := range m.counters {
		snapshot.Counters[key] = counter.Get()
	}
	for key, gauge := range m.gauges {
		snapshot.Gauges[key] = gauge.Get()
	}
	for key, histogram := range m.histograms {
		snapshot.Latency[key] = histogram.summarize(now)
	}

	return snapshot, nil
}

// Reset zeroes every aggregate. Only an explicit call does this; snapshots
// are read-only.
func (m *MemoryMetrics) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters = make(map[string]*memoryCounter)
	m.gauges = make(map[string]*memoryGauge)
	m.histograms = make(map[string]*memoryHistogram)

	m.logger.Info("Memory metrics reset")
	return nil
}

func (m *MemoryMetrics) GetMetrics() ([]byte, error) {
	now := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var values []types.MetricValue

	for key, counter := range m.counters {
		values = append(values, types.MetricValue{
			Name:      key,
			Type:      "counter",
			Value:     counter.Get(),
			Labels:    m.labels,
			Timestamp: now,
		})
	}
	for key, gauge := range m.gauges {
		values = append(values, types.MetricValue{
			Name:      key,
			Type:      "gauge",
			Value:     gauge.Get(),
			Labels:    m.labels,
			Timestamp: now,
		})
	}
	for key, histogram := range m.histograms {
		values = append(values, types.MetricValue{
			Name:      key,
			Type:      "histogram",
			Value:     histogram.GetSum(),
			Labels:    m.labels,
			Timestamp: now,
		})
	}

	sort.Slice(values, func(i, j int) bool { return values[i].Name < values[j].Name })

	return utils.Marshal(values)
}

func (m *MemoryMetrics) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		data, err := m.GetMetrics()
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			return
		}

		ctx.SetContentType("application/json; charset=utf-8")
		ctx.SetBody(data)
	}
}

// buildMetricKey flattens name plus sorted labels into a stable identity, so
// the same instrument is returned regardless of label map iteration order.
func buildMetricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('{')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte('}')
	}
	return b.String()
}

type memoryCounter struct {
	bits atomic.Uint64
}

func (c *memoryCounter) Inc() {
	c.Add(1)
}

func (c *memoryCounter) Add(value float64) {
	if value < 0 {
		return
	}
	for {
		old := c.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + value)
		if c.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (c *memoryCounter) Get() float64 {
	return math.Float64frombits(c.bits.Load())
}

type memoryGauge struct {
	bits atomic.Uint64
}

func (g *memoryGauge) Set(value float64) {
	g.bits.Store(math.Float64bits(value))
}

func (g *memoryGauge) Inc() { g.Add(1) }
func (g *memoryGauge) Dec() { g.Add(-1) }

func (g *memoryGauge) Add(value float64) {
	for {
		old := g.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + value)
		if g.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (g *memoryGauge) Sub(value float64) {
	g.Add(-value)
}

func (g *memoryGauge) Get() float64 {
	return math.Float64frombits(g.bits.Load())
}

type histogramSample struct {
	value float64
	at    time.Time
}

type memoryHistogram struct {
	mu           sync.Mutex
	buckets      []float64
	bucketCounts []uint64
	count        uint64
	sum          float64
	window       time.Duration
	maxSamples   int
	samples      []histogramSample
	head         int
}

func newMemoryHistogram(buckets []float64, window time.Duration, maxSamples int) *memoryHistogram {
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)

	return &memoryHistogram{
		buckets:      sorted,
		bucketCounts: make([]uint64, len(sorted)),
		window:       window,
		maxSamples:   maxSamples,
	}
}

func (h *memoryHistogram) Observe(value float64) {
	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.count++
	h.sum += value

	for i, upper := range h.buckets {
		if value <= upper {
			h.bucketCounts[i]++
		}
	}

	sample := histogramSample{value: value, at: now}
	if len(h.samples) < h.maxSamples {
		h.samples = append(h.samples, sample)
	} else {
		// Ring overwrite: the oldest observation makes room.
		h.samples[h.head] = sample
		h.head = (h.head + 1) % h.maxSamples
	}
}

func (h *memoryHistogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *memoryHistogram) GetCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *memoryHistogram) GetSum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

func (h *memoryHistogram) summarize(now time.Time) types.LatencySummary {
	h.mu.Lock()

	cutoff := now.Add(-h.window)
	values := make([]float64, 0, len(h.samples))
	for _, s := range h.samples {
		if !s.at.Before(cutoff) {
			values = append(values, s.value)
		}
	}

	summary := types.LatencySummary{
		Count: h.count,
		Sum:   h.sum,
	}
	h.mu.Unlock()

	if len(values) == 0 {
		return summary
	}

	sort.Float64s(values)
	summary.P50 = percentile(values, 0.50)
	summary.P90 = percentile(values, 0.90)
	summary.P99 = percentile(values, 0.99)

	return summary
}

// percentile expects values sorted ascending.
func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}

	idx := int(math.Ceil(q*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}

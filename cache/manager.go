package cache

import (
	"context"
	"time"

	"github.com/saiset-co/sai-cache/types"
)

var customAdapterCreators = make(map[string]types.AdapterCreator)

func RegisterAdapter(adapterName string, creator types.AdapterCreator) {
	customAdapterCreators[adapterName] = creator
}

// NewAdapter assembles the adapter stack selected by config:
//
//	memory  -> MemoryAdapter
//	remote  -> BreakerAdapter(RemoteAdapter)
//	tiered  -> TieredAdapter(MemoryAdapter, BreakerAdapter(RemoteAdapter))
//
// and wraps the result with the instrumentation decorator.
func NewAdapter(ctx context.Context, logger types.Logger, metrics types.MetricsManager, config *types.ServiceConfig) (types.CacheAdapter, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	var impl types.CacheAdapter
	var err error

	switch config.Adapter {
	case types.AdapterTypeMemory:
		impl, err = NewMemoryAdapter(ctx, logger, config.Memory)

	case types.AdapterTypeRemote:
		impl, err = newGuardedRemote(ctx, logger, config)

	case types.AdapterTypeTiered:
		var local *MemoryAdapter
		local, err = NewMemoryAdapter(ctx, logger, config.Memory)
		if err != nil {
			break
		}

		var remote types.CacheAdapter
		remote, err = newGuardedRemote(ctx, logger, config)
		if err != nil {
			break
		}

		impl = NewTieredAdapter(local, remote, logger, metrics)

	default:
		if creator, exists := customAdapterCreators[config.Adapter]; exists {
			impl, err = creator(config)
		} else {
			return nil, types.Errorf(types.ErrAdapterTypeUnknown, "type: %s", config.Adapter)
		}
	}

	if err != nil {
		return nil, err
	}

	return newInstrumentedAdapter(logger, metrics, impl), nil
}

func newGuardedRemote(ctx context.Context, logger types.Logger, config *types.ServiceConfig) (types.CacheAdapter, error) {
	remote, err := NewRemoteAdapter(ctx, logger, config.Remote)
	if err != nil {
		return nil, err
	}

	if config.Breaker != nil && !config.Breaker.Enabled {
		return remote, nil
	}

	return NewBreakerAdapter(remote, logger, config.Breaker), nil
}

// instrumentedAdapter records outcome and latency for every operation.
// Recording never fails the measured call: the metrics manager degrades to
// no-op instruments when stopped.
type instrumentedAdapter struct {
	impl    types.CacheAdapter
	logger  types.Logger
	metrics types.MetricsManager
}

func newInstrumentedAdapter(logger types.Logger, metrics types.MetricsManager, impl types.CacheAdapter) types.CacheAdapter {
	if metrics == nil {
		return impl
	}

	return &instrumentedAdapter{
		impl:    impl,
		logger:  logger,
		metrics: metrics,
	}
}

func (ia *instrumentedAdapter) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	start := time.Now()
	entry, err := ia.impl.Get(ctx, key)
	duration := time.Since(start)

	result := "hit"
	switch {
	case err == nil:
	case types.IsError(err, types.ErrEntryNotFound):
		result = "miss"
	default:
		result = "error"
	}

	ia.recordMetric("get", result, duration)
	return entry, err
}

func (ia *instrumentedAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := ia.impl.Set(ctx, key, value, ttl)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	ia.recordMetric("set", result, duration)
	return err
}

func (ia *instrumentedAdapter) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := ia.impl.Delete(ctx, key)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	ia.recordMetric("delete", result, duration)
	return err
}

func (ia *instrumentedAdapter) Clear(ctx context.Context, prefix string) error {
	start := time.Now()
	err := ia.impl.Clear(ctx, prefix)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	ia.recordMetric("clear", result, duration)
	return err
}

func (ia *instrumentedAdapter) Has(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	exists, err := ia.impl.Has(ctx, key)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	ia.recordMetric("has", result, duration)
	return exists, err
}

func (ia *instrumentedAdapter) Start() error {
	return ia.impl.Start()
}

func (ia *instrumentedAdapter) Stop() error {
	return ia.impl.Stop()
}

func (ia *instrumentedAdapter) IsRunning() bool {
	return ia.impl.IsRunning()
}

// Unwrap exposes the decorated adapter for health checks and tests.
func (ia *instrumentedAdapter) Unwrap() types.CacheAdapter {
	return ia.impl
}

func (ia *instrumentedAdapter) recordMetric(operation, result string, duration time.Duration) {
	opCounter := ia.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	})
	opCounter.Inc()

	opDuration := ia.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	)
	opDuration.Observe(duration.Seconds())
}

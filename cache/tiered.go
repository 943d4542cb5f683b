package cache

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-cache/types"
)

// TieredAdapter composes the in-process tier with the breaker-guarded remote
// tier. Reads prefer memory and promote remote hits; writes go through to
// both but never fail on the remote leg. The remote tier being down turns
// into misses and error metrics, never into caller-visible failures.
type TieredAdapter struct {
	local   types.CacheAdapter
	remote  types.CacheAdapter
	logger  types.Logger
	metrics types.MetricsManager
	started int32
}

func NewTieredAdapter(local, remote types.CacheAdapter, logger types.Logger, metrics types.MetricsManager) *TieredAdapter {
	return &TieredAdapter{
		local:   local,
		remote:  remote,
		logger:  logger,
		metrics: metrics,
	}
}

// Local returns the in-process tier.
func (t *TieredAdapter) Local() types.CacheAdapter {
	return t.local
}

// Remote returns the networked tier, including its breaker wrapper.
func (t *TieredAdapter) Remote() types.CacheAdapter {
	return t.remote
}

func (t *TieredAdapter) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	entry, err := t.local.Get(ctx, key)
	if err == nil {
		return entry, nil
	}
	if !types.IsError(err, types.ErrEntryNotFound) {
		return nil, err
	}

	entry, err = t.remote.Get(ctx, key)
	if err != nil {
		if types.IsUnavailable(err) {
			t.recordRemoteError("get")
			return nil, types.ErrEntryNotFound
		}
		return nil, err
	}

	t.promote(ctx, key, entry)

	return entry, nil
}

// promote copies a remote hit into the fast tier. The promoted entry keeps
// the remaining remote lifetime, never longer: promotion must not extend an
// entry's life.
func (t *TieredAdapter) promote(ctx context.Context, key string, entry *types.CacheEntry) {
	remaining := entry.Remaining(time.Now())
	if remaining <= 0 {
		return
	}

	if err := t.local.Set(ctx, key, entry.Value, remaining); err != nil {
		t.logger.Warn("Failed to promote entry to memory tier",
			zap.String("key", key), zap.Error(err))
	}
}

func (t *TieredAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := t.local.Set(ctx, key, value, ttl); err != nil {
		return err
	}

	if err := t.remote.Set(ctx, key, value, ttl); err != nil {
		if types.IsUnavailable(err) {
			t.recordRemoteError("set")
			t.logger.Debug("Remote tier write skipped",
				zap.String("key", key), zap.Error(err))
			return nil
		}
		return err
	}

	return nil
}

func (t *TieredAdapter) Delete(ctx context.Context, key string) error {
	if err := t.local.Delete(ctx, key); err != nil {
		return err
	}

	if err := t.remote.Delete(ctx, key); err != nil {
		if types.IsUnavailable(err) {
			t.recordRemoteError("delete")
			t.logger.Warn("Remote tier invalidation deferred to expiry",
				zap.String("key", key), zap.Error(err))
			return nil
		}
		return err
	}

	return nil
}

func (t *TieredAdapter) Clear(ctx context.Context, prefix string) error {
	if err := t.local.Clear(ctx, prefix); err != nil {
		return err
	}

	if err := t.remote.Clear(ctx, prefix); err != nil {
		if types.IsUnavailable(err) {
			t.recordRemoteError("clear")
			t.logger.Warn("Remote tier clear deferred to expiry",
				zap.String("prefix", prefix), zap.Error(err))
			return nil
		}
		return err
	}

	return nil
}

func (t *TieredAdapter) Has(ctx context.Context, key string) (bool, error) {
	exists, err := t.local.Has(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}

	exists, err = t.remote.Has(ctx, key)
	if err != nil {
		if types.IsUnavailable(err) {
			t.recordRemoteError("has")
			return false, nil
		}
		return false, err
	}

	return exists, nil
}

func (t *TieredAdapter) Start() error {
	if !atomic.CompareAndSwapInt32(&t.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	g := new(errgroup.Group)
	g.Go(t.local.Start)
	g.Go(t.remote.Start)

	if err := g.Wait(); err != nil {
		atomic.StoreInt32(&t.started, 0)
		return types.WrapError(err, "failed to start tiered adapter")
	}

	t.logger.Info("Tiered adapter started")
	return nil
}

func (t *TieredAdapter) Stop() error {
	if !atomic.CompareAndSwapInt32(&t.started, 1, 0) {
		return types.ErrServerNotRunning
	}

	g := new(errgroup.Group)
	g.Go(t.local.Stop)
	g.Go(t.remote.Stop)

	if err := g.Wait(); err != nil {
		t.logger.Error("Error during tiered adapter shutdown", zap.Error(err))
	}

	t.logger.Info("Tiered adapter stopped")
	return nil
}

func (t *TieredAdapter) IsRunning() bool {
	return atomic.LoadInt32(&t.started) == 1
}

func (t *TieredAdapter) recordRemoteError(operation string) {
	if t.metrics == nil {
		return
	}

	t.metrics.Counter("cache_remote_errors_total", map[string]string{
		"operation": operation,
	}).Inc()
}

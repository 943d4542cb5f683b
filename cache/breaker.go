package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
)

type BreakerState int32

const (
	StateBreakerClosed BreakerState = iota
	StateBreakerOpen
	StateBreakerHalfOpen
)

// BreakerAdapter decorates another adapter with a circuit breaker. While
// CLOSED it passes calls through and counts connectivity failures in a
// rolling window; reaching the threshold opens the circuit. While OPEN every
// call short-circuits in constant time until the reset timeout elapses, then
// a bounded number of probes is let through. A successful probe closes the
// circuit; a failed one reopens it and restarts the clock.
//
// All transitions are CAS on an atomic state token, so two racing calls can
// never both win the same transition or both act as the sole probe.
type BreakerAdapter struct {
	inner    types.CacheAdapter
	config   *types.BreakerConfig
	logger   types.Logger
	state    atomic.Value
	openedAt atomic.Int64
	probes   atomic.Int32
	failures *failureWindow
}

func NewBreakerAdapter(inner types.CacheAdapter, logger types.Logger, config *types.BreakerConfig) *BreakerAdapter {
	breakerConfig := &types.BreakerConfig{
		Enabled:          true,
		FailureThreshold: 5,
		RollingWindow:    30 * time.Second,
		ResetTimeout:     10 * time.Second,
		HalfOpenProbes:   1,
	}

	if config != nil {
		*breakerConfig = *config
	}
	if breakerConfig.FailureThreshold < 1 {
		breakerConfig.FailureThreshold = 1
	}
	if breakerConfig.HalfOpenProbes < 1 {
		breakerConfig.HalfOpenProbes = 1
	}

	b := &BreakerAdapter{
		inner:    inner,
		config:   breakerConfig,
		logger:   logger,
		failures: newFailureWindow(breakerConfig.RollingWindow),
	}

	// A fresh breaker always begins closed; state never survives restarts.
	b.state.Store(StateBreakerClosed)

	return b
}

func (b *BreakerAdapter) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	probe, err := b.allow()
	if err != nil {
		return nil, err
	}

	entry, err := b.inner.Get(ctx, key)
	b.record(probe, err)
	return entry, err
}

func (b *BreakerAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	probe, err := b.allow()
	if err != nil {
		return err
	}

	err = b.inner.Set(ctx, key, value, ttl)
	b.record(probe, err)
	return err
}

func (b *BreakerAdapter) Delete(ctx context.Context, key string) error {
	probe, err := b.allow()
	if err != nil {
		return err
	}

	err = b.inner.Delete(ctx, key)
	b.record(probe, err)
	return err
}

func (b *BreakerAdapter) Clear(ctx context.Context, prefix string) error {
	probe, err := b.allow()
	if err != nil {
		return err
	}

	err = b.inner.Clear(ctx, prefix)
	b.record(probe, err)
	return err
}

func (b *BreakerAdapter) Has(ctx context.Context, key string) (bool, error) {
	probe, err := b.allow()
	if err != nil {
		return false, err
	}

	exists, err := b.inner.Has(ctx, key)
	b.record(probe, err)
	return exists, err
}

func (b *BreakerAdapter) Start() error {
	return b.inner.Start()
}

func (b *BreakerAdapter) Stop() error {
	return b.inner.Stop()
}

func (b *BreakerAdapter) IsRunning() bool {
	return b.inner.IsRunning()
}

// Unwrap exposes the guarded adapter for health checks and tests.
func (b *BreakerAdapter) Unwrap() types.CacheAdapter {
	return b.inner
}

func (b *BreakerAdapter) State() BreakerState {
	return b.getState()
}

func (b *BreakerAdapter) StateString() string {
	switch b.getState() {
	case StateBreakerClosed:
		return "closed"
	case StateBreakerOpen:
		return "open"
	case StateBreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Reset forces the breaker closed. Administrative use only.
func (b *BreakerAdapter) Reset() {
	old := b.getState()
	if b.transitionState(old, StateBreakerClosed) && old != StateBreakerClosed {
		b.failures.Reset()
		b.probes.Store(0)
		b.logger.Info("Circuit breaker manually reset")
	}
}

func (b *BreakerAdapter) allow() (bool, error) {
	if !b.config.Enabled {
		return false, nil
	}

	switch b.getState() {
	case StateBreakerClosed:
		return false, nil

	case StateBreakerOpen:
		opened := time.Unix(0, b.openedAt.Load())
		if time.Since(opened) < b.config.ResetTimeout {
			return false, types.ErrBreakerOpen
		}

		if b.transitionState(StateBreakerOpen, StateBreakerHalfOpen) {
			b.probes.Store(0)
			b.logger.Info("Circuit breaker transitioned to half-open")
		}
		return b.acquireProbe()

	case StateBreakerHalfOpen:
		return b.acquireProbe()

	default:
		return false, nil
	}
}

// acquireProbe admits up to HalfOpenProbes concurrent probes; everyone else
// keeps getting short-circuited until a probe settles the state.
func (b *BreakerAdapter) acquireProbe() (bool, error) {
	if b.getState() != StateBreakerHalfOpen {
		// Lost the race to a probe that already settled the state.
		if b.getState() == StateBreakerClosed {
			return false, nil
		}
		return false, types.ErrBreakerOpen
	}

	for {
		n := b.probes.Load()
		if n >= int32(b.config.HalfOpenProbes) {
			return false, types.ErrBreakerOpen
		}
		if b.probes.CompareAndSwap(n, n+1) {
			return true, nil
		}
	}
}

func (b *BreakerAdapter) record(probe bool, err error) {
	if !b.config.Enabled {
		return
	}

	// Only connectivity failures count against health; a logical miss is a
	// perfectly healthy answer.
	if err == nil || types.IsError(err, types.ErrEntryNotFound) {
		b.onSuccess(probe)
		return
	}

	if types.IsError(err, types.ErrCacheUnavailable) {
		b.onFailure(probe)
	}
}

func (b *BreakerAdapter) onSuccess(probe bool) {
	switch b.getState() {
	case StateBreakerClosed:
		return
	case StateBreakerHalfOpen:
		if probe && b.transitionState(StateBreakerHalfOpen, StateBreakerClosed) {
			b.failures.Reset()
			b.logger.Info("Circuit breaker closed after successful probe")
		}
	case StateBreakerOpen:
	}
}

func (b *BreakerAdapter) onFailure(probe bool) {
	now := time.Now()

	switch b.getState() {
	// The clock is stamped before the state flips to OPEN so no caller can
	// observe OPEN alongside a stale timestamp and slip in an extra probe.
	case StateBreakerHalfOpen:
		b.openedAt.Store(now.UnixNano())
		if probe && b.transitionState(StateBreakerHalfOpen, StateBreakerOpen) {
			b.failures.Reset()
			b.logger.Warn("Circuit breaker reopened after failed probe")
		}

	case StateBreakerClosed:
		count := b.failures.Record(now)
		if count >= b.config.FailureThreshold {
			b.openedAt.Store(now.UnixNano())
		}
		if count >= b.config.FailureThreshold &&
			b.transitionState(StateBreakerClosed, StateBreakerOpen) {
			b.logger.Warn("Circuit breaker opened",
				zap.Int("failures", count),
				zap.Int("threshold", b.config.FailureThreshold),
				zap.Duration("reset_timeout", b.config.ResetTimeout))
		}

	case StateBreakerOpen:
	}
}

func (b *BreakerAdapter) getState() BreakerState {
	return b.state.Load().(BreakerState)
}

func (b *BreakerAdapter) transitionState(from, to BreakerState) bool {
	return b.state.CompareAndSwap(from, to)
}

// failureWindow counts connectivity failures over a bounded time horizon.
// Outcomes older than the window never influence the verdict.
type failureWindow struct {
	mu     sync.Mutex
	window time.Duration
	stamps []time.Time
}

func newFailureWindow(window time.Duration) *failureWindow {
	if window <= 0 {
		window = 30 * time.Second
	}
	return &failureWindow{window: window}
}

// Record appends a failure and returns the count still inside the window.
func (w *failureWindow) Record(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stamps = append(w.stamps, now)
	w.pruneLocked(now)
	return len(w.stamps)
}

func (w *failureWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	return len(w.stamps)
}

func (w *failureWindow) Reset() {
	w.mu.Lock()
	w.stamps = w.stamps[:0]
	w.mu.Unlock()
}

func (w *failureWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.window)
	idx := 0
	for idx < len(w.stamps) && w.stamps[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[idx:]...)
	}
}

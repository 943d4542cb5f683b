package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/types"
)

// errBox wraps an error so a nil one can still live in an atomic.Value.
type errBox struct {
	err error
}

// stubAdapter is a scriptable backend: it returns whatever error is loaded
// into failWith and counts how many calls actually reached it.
type stubAdapter struct {
	calls    atomic.Int64
	failWith atomic.Value
	running  atomic.Bool
}

func newStubAdapter() *stubAdapter {
	s := &stubAdapter{}
	s.failWith.Store(errBox{})
	return s
}

func (s *stubAdapter) setError(err error) {
	s.failWith.Store(errBox{err: err})
}

func (s *stubAdapter) currentError() error {
	if box, ok := s.failWith.Load().(errBox); ok {
		return box.err
	}
	return nil
}

func (s *stubAdapter) Get(_ context.Context, key string) (*types.CacheEntry, error) {
	s.calls.Add(1)
	if err := s.currentError(); err != nil {
		return nil, err
	}
	return types.NewCacheEntry(key, []byte("v"), time.Minute, time.Now()), nil
}

func (s *stubAdapter) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	s.calls.Add(1)
	return s.currentError()
}

func (s *stubAdapter) Delete(_ context.Context, _ string) error {
	s.calls.Add(1)
	return s.currentError()
}

func (s *stubAdapter) Clear(_ context.Context, _ string) error {
	s.calls.Add(1)
	return s.currentError()
}

func (s *stubAdapter) Has(_ context.Context, _ string) (bool, error) {
	s.calls.Add(1)
	if err := s.currentError(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *stubAdapter) Start() error {
	s.running.Store(true)
	return nil
}

func (s *stubAdapter) Stop() error {
	s.running.Store(false)
	return nil
}

func (s *stubAdapter) IsRunning() bool {
	return s.running.Load()
}

func newTestBreaker(inner types.CacheAdapter, config *types.BreakerConfig) *BreakerAdapter {
	return NewBreakerAdapter(inner, logger.NewZapWrapper(zap.NewNop()), config)
}

func unavailable() error {
	return types.Errorf(types.ErrCacheUnavailable, "connection refused")
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	stub := newStubAdapter()
	breaker := newTestBreaker(stub, &types.BreakerConfig{
		Enabled:          true,
		FailureThreshold: 3,
		RollingWindow:    time.Minute,
		ResetTimeout:     time.Minute,
		HalfOpenProbes:   1,
	})
	ctx := context.Background()

	stub.setError(unavailable())

	for i := 0; i < 3; i++ {
		require.Equal(t, StateBreakerClosed, breaker.State())
		_, err := breaker.Get(ctx, "k")
		require.ErrorIs(t, err, types.ErrCacheUnavailable)
	}

	require.Equal(t, StateBreakerOpen, breaker.State())
}

func TestBreakerShortCircuitsWhileOpen(t *testing.T) {
	stub := newStubAdapter()
	breaker := newTestBreaker(stub, &types.BreakerConfig{
		Enabled:          true,
		FailureThreshold: 1,
		RollingWindow:    time.Minute,
		ResetTimeout:     time.Minute,
		HalfOpenProbes:   1,
	})
	ctx := context.Background()

	stub.setError(unavailable())
	_, err := breaker.Get(ctx, "k")
	require.ErrorIs(t, err, types.ErrCacheUnavailable)
	require.Equal(t, StateBreakerOpen, breaker.State())

	before := stub.calls.Load()

	for i := 0; i < 10; i++ {
		_, err := breaker.Get(ctx, "k")
		require.ErrorIs(t, err, types.ErrBreakerOpen)

		err = breaker.Set(ctx, "k", []byte("v"), time.Minute)
		require.ErrorIs(t, err, types.ErrBreakerOpen)
	}

	require.Equal(t, before, stub.calls.Load())
}

func TestBreakerRecoversThroughProbe(t *testing.T) {
	stub := newStubAdapter()
	breaker := newTestBreaker(stub, &types.BreakerConfig{
		Enabled:          true,
		FailureThreshold: 1,
		RollingWindow:    time.Minute,
		ResetTimeout:     20 * time.Millisecond,
		HalfOpenProbes:   1,
	})
	ctx := context.Background()

	stub.setError(unavailable())
	_, err := breaker.Get(ctx, "k")
	require.ErrorIs(t, err, types.ErrCacheUnavailable)
	require.Equal(t, StateBreakerOpen, breaker.State())

	stub.setError(nil)
	time.Sleep(30 * time.Millisecond)

	entry, err := breaker.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, StateBreakerClosed, breaker.State())

	// Closing the circuit forgets the failure history.
	require.Equal(t, 0, breaker.failures.Count(time.Now()))
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	stub := newStubAdapter()
	breaker := newTestBreaker(stub, &types.BreakerConfig{
		Enabled:          true,
		FailureThreshold: 1,
		RollingWindow:    time.Minute,
		ResetTimeout:     20 * time.Millisecond,
		HalfOpenProbes:   1,
	})
	ctx := context.Background()

	stub.setError(unavailable())
	_, err := breaker.Get(ctx, "k")
	require.ErrorIs(t, err, types.ErrCacheUnavailable)

	time.Sleep(30 * time.Millisecond)

	// The probe itself fails, so the circuit reopens and the clock restarts.
	_, err = breaker.Get(ctx, "k")
	require.ErrorIs(t, err, types.ErrCacheUnavailable)
	require.Equal(t, StateBreakerOpen, breaker.State())

	_, err = breaker.Get(ctx, "k")
	require.ErrorIs(t, err, types.ErrBreakerOpen)
}

func TestBreakerAdmitsSingleProbeUnderContention(t *testing.T) {
	stub := newStubAdapter()
	breaker := newTestBreaker(stub, &types.BreakerConfig{
		Enabled:          true,
		FailureThreshold: 1,
		RollingWindow:    time.Minute,
		ResetTimeout:     10 * time.Millisecond,
		HalfOpenProbes:   1,
	})
	ctx := context.Background()

	stub.setError(unavailable())
	_, err := breaker.Get(ctx, "k")
	require.ErrorIs(t, err, types.ErrCacheUnavailable)
	require.Equal(t, StateBreakerOpen, breaker.State())

	// Keep the probe failing so the half-open slot is consumed exactly once
	// and the circuit reopens instead of closing mid-race.
	time.Sleep(20 * time.Millisecond)
	before := stub.calls.Load()

	var wg sync.WaitGroup
	var shortCircuited atomic.Int64
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := breaker.Get(ctx, "k"); types.IsError(err, types.ErrBreakerOpen) {
				shortCircuited.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, before+1, stub.calls.Load())
	require.Equal(t, int64(15), shortCircuited.Load())
	require.Equal(t, StateBreakerOpen, breaker.State())
}

func TestBreakerIgnoresLogicalMisses(t *testing.T) {
	stub := newStubAdapter()
	breaker := newTestBreaker(stub, &types.BreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		RollingWindow:    time.Minute,
		ResetTimeout:     time.Minute,
		HalfOpenProbes:   1,
	})
	ctx := context.Background()

	stub.setError(types.ErrEntryNotFound)

	for i := 0; i < 10; i++ {
		_, err := breaker.Get(ctx, "absent")
		require.ErrorIs(t, err, types.ErrEntryNotFound)
	}

	require.Equal(t, StateBreakerClosed, breaker.State())
}

func TestBreakerRollingWindowForgetsOldFailures(t *testing.T) {
	stub := newStubAdapter()
	breaker := newTestBreaker(stub, &types.BreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		RollingWindow:    30 * time.Millisecond,
		ResetTimeout:     time.Minute,
		HalfOpenProbes:   1,
	})
	ctx := context.Background()

	stub.setError(unavailable())

	_, err := breaker.Get(ctx, "k")
	require.ErrorIs(t, err, types.ErrCacheUnavailable)

	// Let the first failure age out of the window before the second lands.
	time.Sleep(40 * time.Millisecond)

	_, err = breaker.Get(ctx, "k")
	require.ErrorIs(t, err, types.ErrCacheUnavailable)

	require.Equal(t, StateBreakerClosed, breaker.State())
}

func TestBreakerDisabledPassesThrough(t *testing.T) {
	stub := newStubAdapter()
	breaker := newTestBreaker(stub, &types.BreakerConfig{
		Enabled:          false,
		FailureThreshold: 1,
		RollingWindow:    time.Minute,
		ResetTimeout:     time.Minute,
		HalfOpenProbes:   1,
	})
	ctx := context.Background()

	stub.setError(unavailable())

	for i := 0; i < 5; i++ {
		_, err := breaker.Get(ctx, "k")
		require.ErrorIs(t, err, types.ErrCacheUnavailable)
	}

	require.Equal(t, int64(5), stub.calls.Load())
}

func TestBreakerManualReset(t *testing.T) {
	stub := newStubAdapter()
	breaker := newTestBreaker(stub, &types.BreakerConfig{
		Enabled:          true,
		FailureThreshold: 1,
		RollingWindow:    time.Minute,
		ResetTimeout:     time.Hour,
		HalfOpenProbes:   1,
	})
	ctx := context.Background()

	stub.setError(unavailable())
	_, err := breaker.Get(ctx, "k")
	require.ErrorIs(t, err, types.ErrCacheUnavailable)
	require.Equal(t, StateBreakerOpen, breaker.State())

	stub.setError(nil)
	breaker.Reset()
	require.Equal(t, StateBreakerClosed, breaker.State())

	_, err = breaker.Get(ctx, "k")
	require.NoError(t, err)
}

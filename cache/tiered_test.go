package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/types"
)

func newTestTiered(t *testing.T, remote types.CacheAdapter) (*TieredAdapter, *MemoryAdapter) {
	t.Helper()

	local := newTestMemoryAdapter(t, &types.MemoryConfig{MaxEntries: 100})
	tiered := NewTieredAdapter(local, remote, logger.NewZapWrapper(zap.NewNop()), nil)

	return tiered, local
}

func TestTieredPromotesRemoteHits(t *testing.T) {
	stub := newStubAdapter()
	tiered, local := newTestTiered(t, stub)
	ctx := context.Background()

	entry, err := tiered.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), entry.Value)
	require.Equal(t, int64(1), stub.calls.Load())

	// The hit was promoted: the next read is served locally.
	promoted, err := local.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), promoted.Value)

	_, err = tiered.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, int64(1), stub.calls.Load())
}

func TestTieredRemoteOutageReadsAsMiss(t *testing.T) {
	stub := newStubAdapter()
	tiered, _ := newTestTiered(t, stub)
	ctx := context.Background()

	stub.setError(unavailable())

	_, err := tiered.Get(ctx, "k")
	require.ErrorIs(t, err, types.ErrEntryNotFound)
}

func TestTieredWriteThrough(t *testing.T) {
	stub := newStubAdapter()
	tiered, local := newTestTiered(t, stub)
	ctx := context.Background()

	require.NoError(t, tiered.Set(ctx, "k", []byte("v"), time.Minute))
	require.Equal(t, int64(1), stub.calls.Load())

	entry, err := local.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), entry.Value)
}

func TestTieredWriteSurvivesRemoteOutage(t *testing.T) {
	stub := newStubAdapter()
	tiered, local := newTestTiered(t, stub)
	ctx := context.Background()

	stub.setError(unavailable())

	require.NoError(t, tiered.Set(ctx, "k", []byte("v"), time.Minute))

	entry, err := local.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), entry.Value)
}

func TestTieredDeleteInvalidatesBothTiers(t *testing.T) {
	stub := newStubAdapter()
	tiered, local := newTestTiered(t, stub)
	ctx := context.Background()

	require.NoError(t, tiered.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, tiered.Delete(ctx, "k"))

	_, err := local.Get(ctx, "k")
	require.ErrorIs(t, err, types.ErrEntryNotFound)

	// Set + Delete both reached the remote tier.
	require.Equal(t, int64(2), stub.calls.Load())
}

func TestTieredHasChecksBothTiers(t *testing.T) {
	stub := newStubAdapter()
	tiered, local := newTestTiered(t, stub)
	ctx := context.Background()

	exists, err := tiered.Has(ctx, "remote-only")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, local.Set(ctx, "local-only", []byte("v"), time.Minute))
	before := stub.calls.Load()

	exists, err = tiered.Has(ctx, "local-only")
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, before, stub.calls.Load())

	stub.setError(unavailable())
	exists, err = tiered.Has(ctx, "remote-only")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestTieredPromotionKeepsRemainingTTL(t *testing.T) {
	// The remote entry has little life left; the promoted copy must not
	// outlive it.
	expiring := &expiringStub{ttl: 30 * time.Millisecond}
	local := newTestMemoryAdapter(t, &types.MemoryConfig{MaxEntries: 100})
	tiered := NewTieredAdapter(local, expiring, logger.NewZapWrapper(zap.NewNop()), nil)
	ctx := context.Background()

	_, err := tiered.Get(ctx, "k")
	require.NoError(t, err)

	promoted, err := local.Get(ctx, "k")
	require.NoError(t, err)
	require.LessOrEqual(t, promoted.Remaining(time.Now()), 30*time.Millisecond)

	time.Sleep(40 * time.Millisecond)

	_, err = local.Get(ctx, "k")
	require.ErrorIs(t, err, types.ErrEntryNotFound)
}

type expiringStub struct {
	stubAdapter
	ttl time.Duration
}

func (s *expiringStub) Get(_ context.Context, key string) (*types.CacheEntry, error) {
	s.calls.Add(1)
	return types.NewCacheEntry(key, []byte("v"), s.ttl, time.Now()), nil
}

package types

import (
	"context"
	"time"

	"github.com/saiset-co/sai-cache/utils"
)

// CacheAdapter is the capability set every storage backend implements.
// Get returns ErrEntryNotFound for a logical miss (including an entry that
// expired but has not been swept yet) and an error satisfying IsUnavailable
// when the backend cannot be reached.
type CacheAdapter interface {
	LifecycleManager
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context, prefix string) error
	Has(ctx context.Context, key string) (bool, error)
}

type AdapterCreator func(config interface{}) (CacheAdapter, error)

// CacheEntry is owned by the adapter holding it. Tiers never share one by
// reference: promotion and reads hand out clones.
type CacheEntry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Size      int64     `json:"size"`
}

func NewCacheEntry(key string, value []byte, ttl time.Duration, now time.Time) *CacheEntry {
	buf := utils.CloneBytes(value)

	return &CacheEntry{
		Key:       key,
		Value:     buf,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Size:      int64(len(key) + len(buf)),
	}
}

func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Remaining reports the time left before expiry, never negative.
func (e *CacheEntry) Remaining(now time.Time) time.Duration {
	if e.ExpiresAt.IsZero() {
		return 0
	}
	remaining := e.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (e *CacheEntry) Clone() *CacheEntry {
	if e == nil {
		return nil
	}

	clone := *e
	clone.Value = utils.CloneBytes(e.Value)
	return &clone
}

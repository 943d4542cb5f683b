package saicache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
)

// Get loads the value stored under key into target. The boolean reports
// whether a usable value was found: misses and backend outages both come
// back as (false, nil), so callers fall through to the source of truth
// without caring why the cache had nothing.
//
// A value that exists but cannot be deserialized is purged and the error is
// returned; retrying such an entry can never succeed.
func (s *Service) Get(ctx context.Context, key string, target interface{}) (bool, error) {
	if key == "" {
		return false, types.ErrCacheKeyEmpty
	}

	fullKey := s.namespacedKey(key)

	entry, err := s.adapter.Get(ctx, fullKey)
	if err != nil {
		if types.IsError(err, types.ErrEntryNotFound) || types.IsUnavailable(err) {
			return false, nil
		}
		return false, err
	}

	if err := s.serializer.Unmarshal(entry.Value, target); err != nil {
		s.logger.Error("Failed to deserialize cached value, purging entry",
			zap.String("key", key), zap.Error(err))

		if delErr := s.adapter.Delete(ctx, fullKey); delErr != nil && !types.IsUnavailable(delErr) {
			s.logger.Warn("Failed to purge corrupt entry",
				zap.String("key", key), zap.Error(delErr))
		}

		return false, types.Errorf(types.ErrDeserializationFailed, "key: %s: %v", key, err)
	}

	return true, nil
}

// Set serializes value and stores it under key. Writes are best-effort: a
// backend outage is absorbed and logged, any other failure is returned. The
// service default TTL applies when none is given.
func (s *Service) Set(ctx context.Context, key string, value interface{}, ttl ...time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	entryTTL := s.config.DefaultTTL
	if len(ttl) > 0 && ttl[0] > 0 {
		entryTTL = ttl[0]
	}

	data, err := s.serializer.Marshal(value)
	if err != nil {
		return types.Errorf(types.ErrSerializationFailed, "key: %s: %v", key, err)
	}

	if err := s.adapter.Set(ctx, s.namespacedKey(key), data, entryTTL); err != nil {
		if types.IsUnavailable(err) {
			s.logger.Debug("Cache write skipped, backend unavailable",
				zap.String("key", key), zap.Error(err))
			return nil
		}
		return err
	}

	return nil
}

// Delete removes the entry under key. Removing an absent entry succeeds; a
// backend outage is absorbed, the entry then dies by its TTL.
func (s *Service) Delete(ctx context.Context, key string) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if err := s.adapter.Delete(ctx, s.namespacedKey(key)); err != nil {
		if types.IsUnavailable(err) {
			s.logger.Warn("Cache invalidation deferred to expiry",
				zap.String("key", key), zap.Error(err))
			return nil
		}
		return err
	}

	return nil
}

// Clear removes every entry in this service's namespace, optionally narrowed
// to a key prefix. Other namespaces sharing the backend are never touched.
func (s *Service) Clear(ctx context.Context, prefix ...string) error {
	fullPrefix := s.config.Namespace + ":"
	if len(prefix) > 0 && prefix[0] != "" {
		fullPrefix += prefix[0]
	}

	if err := s.adapter.Clear(ctx, fullPrefix); err != nil {
		if types.IsUnavailable(err) {
			s.logger.Warn("Cache clear deferred to expiry",
				zap.String("prefix", fullPrefix), zap.Error(err))
			return nil
		}
		return err
	}

	return nil
}

// Has reports whether a live entry exists under key, without deserializing
// it or touching recency. Outages read as absent.
func (s *Service) Has(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}

	exists, err := s.adapter.Has(ctx, s.namespacedKey(key))
	if err != nil {
		return false
	}

	return exists
}

func (s *Service) namespacedKey(key string) string {
	return s.config.Namespace + ":" + key
}

// Get is the typed variant of Service.Get for callers on generics.
func Get[T any](ctx context.Context, s *Service, key string) (T, bool, error) {
	var value T
	found, err := s.Get(ctx, key, &value)
	return value, found, err
}

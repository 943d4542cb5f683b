package cache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

// RemoteAdapter talks to the shared Redis tier. Every call is bounded by a
// per-call timeout; connectivity failures arm a capped exponential backoff
// gate so subsequent calls fail fast instead of piling onto a dead store.
// The adapter never retries inside a call: the circuit breaker above it
// decides what happens next.
type RemoteAdapter struct {
	ctx     context.Context
	cancel  context.CancelFunc
	config  *types.RemoteConfig
	logger  types.Logger
	client  *redis.Client
	backoff *expBackoff
	retryAt atomic.Int64
	started int32
}

func NewRemoteAdapter(ctx context.Context, logger types.Logger, config *types.RemoteConfig) (*RemoteAdapter, error) {
	remoteConfig := &types.RemoteConfig{
		Host:               "localhost",
		Port:               6379,
		Password:           "",
		DB:                 0,
		KeyPrefix:          "sai-cache",
		PoolSize:           10,
		MinIdleConnections: 2,
		PoolTimeout:        time.Second,
		DialTimeout:        5 * time.Second,
		CallTimeout:        250 * time.Millisecond,
		Backoff: &types.BackoffConfig{
			Initial: 100 * time.Millisecond,
			Max:     30 * time.Second,
		},
	}

	if config != nil {
		err := utils.UnmarshalConfig(config, remoteConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal remote adapter config")
		}
	}
	if remoteConfig.Backoff == nil {
		remoteConfig.Backoff = &types.BackoffConfig{
			Initial: 100 * time.Millisecond,
			Max:     30 * time.Second,
		}
	}

	adapterCtx, cancel := context.WithCancel(ctx)

	adapter := &RemoteAdapter{
		ctx:     adapterCtx,
		cancel:  cancel,
		config:  remoteConfig,
		logger:  logger,
		backoff: newExpBackoff(remoteConfig.Backoff.Initial, remoteConfig.Backoff.Max),
	}

	adapter.client = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", remoteConfig.Host, remoteConfig.Port),
		Password:     remoteConfig.Password,
		DB:           remoteConfig.DB,
		PoolSize:     remoteConfig.PoolSize,
		MinIdleConns: remoteConfig.MinIdleConnections,
		PoolTimeout:  remoteConfig.PoolTimeout,
		DialTimeout:  remoteConfig.DialTimeout,
		ReadTimeout:  remoteConfig.CallTimeout,
		WriteTimeout: remoteConfig.CallTimeout,
		// The backoff gate owns retry pacing; the client must not retry
		// underneath it.
		MaxRetries: -1,
	})

	return adapter, nil
}

func (r *RemoteAdapter) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	if err := r.gate(); err != nil {
		return nil, err
	}

	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	data, err := r.client.Get(callCtx, r.fullKey(key)).Bytes()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			r.succeed()
			return nil, types.ErrEntryNotFound
		}
		return nil, r.fail("get", key, err)
	}

	r.succeed()

	var entry types.CacheEntry
	if err := utils.Unmarshal(data, &entry); err != nil {
		// A mangled envelope is unreadable forever; drop it so the next
		// write starts clean.
		r.logger.Error("Failed to decode remote cache entry, purging",
			zap.String("key", key), zap.Error(err))
		_ = r.Delete(ctx, key)
		return nil, types.ErrEntryNotFound
	}

	if entry.Expired(time.Now()) {
		_ = r.Delete(ctx, key)
		return nil, types.ErrEntryNotFound
	}

	return &entry, nil
}

func (r *RemoteAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	if err := r.gate(); err != nil {
		return err
	}

	entry := types.NewCacheEntry(key, value, ttl, time.Now())

	data, err := utils.Marshal(entry)
	if err != nil {
		return types.WrapError(err, "failed to encode remote cache entry")
	}

	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	if err := r.client.Set(callCtx, r.fullKey(key), data, ttl).Err(); err != nil {
		return r.fail("set", key, err)
	}

	r.succeed()
	return nil
}

func (r *RemoteAdapter) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	if err := r.gate(); err != nil {
		return err
	}

	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	if err := r.client.Del(callCtx, r.fullKey(key)).Err(); err != nil {
		return r.fail("delete", key, err)
	}

	r.succeed()
	return nil
}

func (r *RemoteAdapter) Clear(ctx context.Context, prefix string) error {
	if err := r.gate(); err != nil {
		return err
	}

	match := r.fullKey(prefix) + "*"
	var cursor uint64

	for {
		callCtx, cancel := r.callContext(ctx)
		keys, next, err := r.client.Scan(callCtx, cursor, match, 256).Result()
		cancel()

		if err != nil {
			return r.fail("clear", prefix, err)
		}

		if len(keys) > 0 {
			callCtx, cancel := r.callContext(ctx)
			err := r.client.Del(callCtx, keys...).Err()
			cancel()

			if err != nil {
				return r.fail("clear", prefix, err)
			}
		}

		if next == 0 {
			break
		}
		cursor = next
	}

	r.succeed()
	return nil
}

func (r *RemoteAdapter) Has(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}

	if err := r.gate(); err != nil {
		return false, err
	}

	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	count, err := r.client.Exists(callCtx, r.fullKey(key)).Result()
	if err != nil {
		return false, r.fail("has", key, err)
	}

	r.succeed()
	return count > 0, nil
}

func (r *RemoteAdapter) Ping(ctx context.Context) error {
	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	if err := r.client.Ping(callCtx).Err(); err != nil {
		return r.fail("ping", "", err)
	}

	r.succeed()
	return nil
}

func (r *RemoteAdapter) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	// Connectivity is probed but not required: a dead remote at startup
	// degrades to fail-fast calls, it never blocks construction.
	if err := r.Ping(r.ctx); err != nil {
		r.logger.Warn("Remote store unreachable at startup",
			zap.String("addr", fmt.Sprintf("%s:%d", r.config.Host, r.config.Port)),
			zap.Error(err))
	}

	r.logger.Info("Remote adapter started",
		zap.String("addr", fmt.Sprintf("%s:%d", r.config.Host, r.config.Port)),
		zap.Int("pool_size", r.config.PoolSize),
		zap.Duration("call_timeout", r.config.CallTimeout))
	return nil
}

func (r *RemoteAdapter) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return types.ErrServerNotRunning
	}

	r.cancel()

	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close redis client", zap.Error(err))
		return types.WrapError(err, "failed to close redis client")
	}

	r.logger.Info("Remote adapter stopped")
	return nil
}

func (r *RemoteAdapter) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

func (r *RemoteAdapter) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = r.ctx
	}
	if r.config.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.config.CallTimeout)
}

func (r *RemoteAdapter) fullKey(key string) string {
	if r.config.KeyPrefix != "" {
		return r.config.KeyPrefix + ":" + key
	}
	return key
}

// gate fails fast while the backoff window from the last connectivity
// failure is still open.
func (r *RemoteAdapter) gate() error {
	next := r.retryAt.Load()
	if next > 0 && time.Now().UnixNano() < next {
		return types.Errorf(types.ErrCacheUnavailable, "remote store in backoff")
	}
	return nil
}

func (r *RemoteAdapter) succeed() {
	r.retryAt.Store(0)
	r.backoff.Reset()
}

func (r *RemoteAdapter) fail(op, key string, err error) error {
	if isConnectivityError(err) {
		delay := r.backoff.Next()
		r.retryAt.Store(time.Now().Add(delay).UnixNano())
		r.logger.Warn("Remote store connectivity failure",
			zap.String("operation", op),
			zap.String("key", key),
			zap.Duration("backoff", delay),
			zap.Error(err))
	} else {
		r.logger.Error("Remote store operation failed",
			zap.String("operation", op),
			zap.String("key", key),
			zap.Error(err))
	}

	return types.Errorf(types.ErrCacheUnavailable, "%s: %v", op, err)
}

// isConnectivityError separates transport-level failures (which should trip
// the breaker and arm the backoff gate) from everything else. A logical miss
// never reaches here: redis.Nil is handled at the call site.
func isConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED,
			syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.ETIMEDOUT:
			return true
		}
	}

	// Pool exhaustion: the caller waited out the acquisition timeout.
	return errors.Is(err, redis.ErrPoolTimeout)
}

// expBackoff doubles from initial up to max; Reset on the first success.
type expBackoff struct {
	initial time.Duration
	max     time.Duration
	mu      sync.Mutex
	current time.Duration
}

func newExpBackoff(initial, max time.Duration) *expBackoff {
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if max < initial {
		max = initial
	}
	return &expBackoff{initial: initial, max: max}
}

func (b *expBackoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == 0 {
		b.current = b.initial
	} else {
		b.current *= 2
		if b.current > b.max {
			b.current = b.max
		}
	}

	return b.current
}

func (b *expBackoff) Reset() {
	b.mu.Lock()
	b.current = 0
	b.mu.Unlock()
}

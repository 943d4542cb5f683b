package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type MemoryState int32

const (
	MemoryStateStopped MemoryState = iota
	MemoryStateStarting
	MemoryStateRunning
	MemoryStateStopping
)

const (
	MaxTTL     = 24 * time.Hour
	DefaultTTL = 1 * time.Hour
)

// MemoryAdapter is the in-process tier: a bounded LRU with per-entry expiry.
// Recency order lives in a doubly-linked list so eviction is O(1); the lock
// covers only pointer and index updates, never I/O.
type MemoryAdapter struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          *types.MemoryConfig
	logger          types.Logger
	mu              sync.Mutex
	entries         map[string]*list.Element
	lru             *list.List
	currentBytes    int64
	hits            uint64
	misses          uint64
	evictions       uint64
	expirations     uint64
	state           atomic.Value
	stopSweep       chan struct{}
	sweepDone       chan struct{}
	shutdownTimeout time.Duration
}

func NewMemoryAdapter(ctx context.Context, logger types.Logger, config *types.MemoryConfig) (*MemoryAdapter, error) {
	memConfig := &types.MemoryConfig{
		MaxEntries:    10000,
		MaxBytes:      0,
		SweepInterval: 5 * time.Minute,
	}

	if config != nil {
		err := utils.UnmarshalConfig(config, memConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory adapter config")
		}
	}

	adapterCtx, cancel := context.WithCancel(ctx)

	adapter := &MemoryAdapter{
		ctx:             adapterCtx,
		cancel:          cancel,
		config:          memConfig,
		logger:          logger,
		entries:         make(map[string]*list.Element),
		lru:             list.New(),
		stopSweep:       make(chan struct{}),
		sweepDone:       make(chan struct{}),
		shutdownTimeout: 10 * time.Second,
	}

	adapter.state.Store(MemoryStateStopped)

	return adapter, nil
}

func (m *MemoryAdapter) Get(_ context.Context, key string) (*types.CacheEntry, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	now := time.Now()

	m.mu.Lock()

	elem, exists := m.entries[key]
	if !exists {
		m.mu.Unlock()
		atomic.AddUint64(&m.misses, 1)
		return nil, types.ErrEntryNotFound
	}

	entry := elem.Value.(*types.CacheEntry)
	if entry.Expired(now) {
		m.removeElementLocked(key, elem)
		m.mu.Unlock()

		atomic.AddUint64(&m.expirations, 1)
		atomic.AddUint64(&m.misses, 1)
		return nil, types.ErrEntryNotFound
	}

	m.lru.MoveToFront(elem)
	clone := entry.Clone()
	m.mu.Unlock()

	atomic.AddUint64(&m.hits, 1)

	return clone, nil
}

func (m *MemoryAdapter) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		m.logger.Error("Attempted to set cache entry with empty key")
		return types.ErrCacheKeyEmpty
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	entry := types.NewCacheEntry(key, value, ttl, time.Now())

	if m.config.MaxBytes > 0 && entry.Size > m.config.MaxBytes {
		return types.Errorf(types.ErrValueTooLarge, "key: %s, size: %d", key, entry.Size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, exists := m.entries[key]; exists {
		old := elem.Value.(*types.CacheEntry)
		m.currentBytes -= old.Size
		elem.Value = entry
		m.currentBytes += entry.Size
		m.lru.MoveToFront(elem)
	} else {
		elem := m.lru.PushFront(entry)
		m.entries[key] = elem
		m.currentBytes += entry.Size
	}

	m.evictOverflowLocked()

	return nil
}

func (m *MemoryAdapter) Delete(_ context.Context, key string) error {
	if key == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, exists := m.entries[key]; exists {
		m.removeElementLocked(key, elem)
	}

	return nil
}

func (m *MemoryAdapter) Clear(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prefix == "" {
		m.entries = make(map[string]*list.Element)
		m.lru.Init()
		m.currentBytes = 0
		return nil
	}

	for key, elem := range m.entries {
		if strings.HasPrefix(key, prefix) {
			m.removeElementLocked(key, elem)
		}
	}

	return nil
}

func (m *MemoryAdapter) Has(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}

	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	elem, exists := m.entries[key]
	if !exists {
		return false, nil
	}

	// Existence probes do not count as an access: no recency bump.
	entry := elem.Value.(*types.CacheEntry)
	if entry.Expired(now) {
		m.removeElementLocked(key, elem)
		atomic.AddUint64(&m.expirations, 1)
		return false, nil
	}

	return true, nil
}

type MemoryStats struct {
	Entries     int    `json:"entries"`
	Bytes       int64  `json:"bytes"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
}

func (m *MemoryAdapter) Stats() MemoryStats {
	m.mu.Lock()
	entries := len(m.entries)
	bytes := m.currentBytes
	m.mu.Unlock()

	return MemoryStats{
		Entries:     entries,
		Bytes:       bytes,
		Hits:        atomic.LoadUint64(&m.hits),
		Misses:      atomic.LoadUint64(&m.misses),
		Evictions:   atomic.LoadUint64(&m.evictions),
		Expirations: atomic.LoadUint64(&m.expirations),
	}
}

func (m *MemoryAdapter) Start() error {
	if !m.transitionState(MemoryStateStopped, MemoryStateStarting) {
		m.logger.Warn("Memory adapter is already running")
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if m.getState() == MemoryStateStarting {
			m.setState(MemoryStateRunning)
		}
	}()

	if m.config.SweepInterval > 0 {
		go m.startSweepRoutine()
	} else {
		close(m.sweepDone)
	}

	m.logger.Info("Memory adapter started",
		zap.Int("max_entries", m.config.MaxEntries),
		zap.Int64("max_bytes", m.config.MaxBytes))
	return nil
}

func (m *MemoryAdapter) Stop() error {
	if !m.transitionState(MemoryStateRunning, MemoryStateStopping) {
		m.logger.Warn("Memory adapter is not running")
		return types.ErrServerNotRunning
	}

	defer func() {
		m.setState(MemoryStateStopped)
	}()

	m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		// No sweep goroutine exists without an interval; signalling one
		// would just block until the timeout.
		if m.config.SweepInterval > 0 {
			select {
			case m.stopSweep <- struct{}{}:
			case <-time.After(time.Second):
			}
		}

		select {
		case <-m.sweepDone:
			m.logger.Debug("Sweep routine stopped")
		case <-time.After(5 * time.Second):
			m.logger.Warn("Sweep routine stop timeout")
		}

		return nil
	})

	g.Go(func() error {
		m.mu.Lock()
		cleared := len(m.entries)
		m.entries = make(map[string]*list.Element)
		m.lru.Init()
		m.currentBytes = 0
		m.mu.Unlock()

		m.logger.Info("Memory adapter cleared", zap.Int("cleared_entries", cleared))
		return nil
	})

	if err := g.Wait(); err != nil {
		m.logger.Error("Error during memory adapter shutdown", zap.Error(err))
	} else {
		m.logger.Info("Memory adapter stopped gracefully")
	}

	return nil
}

func (m *MemoryAdapter) IsRunning() bool {
	return m.getState() == MemoryStateRunning
}

func (m *MemoryAdapter) getState() MemoryState {
	return m.state.Load().(MemoryState)
}

func (m *MemoryAdapter) setState(newState MemoryState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryAdapter) transitionState(from, to MemoryState) bool {
	return m.state.CompareAndSwap(from, to)
}

// evictOverflowLocked drops entries from the cold end of the LRU list until
// both the entry and byte budgets are respected.
func (m *MemoryAdapter) evictOverflowLocked() {
	for m.overCapacityLocked() {
		back := m.lru.Back()
		if back == nil {
			return
		}

		victim := back.Value.(*types.CacheEntry)
		m.removeElementLocked(victim.Key, back)
		atomic.AddUint64(&m.evictions, 1)
	}
}

func (m *MemoryAdapter) overCapacityLocked() bool {
	if m.config.MaxEntries > 0 && len(m.entries) > m.config.MaxEntries {
		return true
	}
	if m.config.MaxBytes > 0 && m.currentBytes > m.config.MaxBytes {
		return true
	}
	return false
}

func (m *MemoryAdapter) removeElementLocked(key string, elem *list.Element) {
	entry := elem.Value.(*types.CacheEntry)
	m.lru.Remove(elem)
	delete(m.entries, key)
	m.currentBytes -= entry.Size
}

// sweep proactively removes expired entries so dead entries do not pin
// memory until their next read. Correctness never depends on it: every read
// checks expiry itself.
func (m *MemoryAdapter) sweep() {
	now := time.Now()

	m.mu.Lock()

	var expired []string
	for key, elem := range m.entries {
		if elem.Value.(*types.CacheEntry).Expired(now) {
			expired = append(expired, key)
		}
	}

	for _, key := range expired {
		if elem, exists := m.entries[key]; exists {
			m.removeElementLocked(key, elem)
		}
	}

	m.mu.Unlock()

	if len(expired) > 0 {
		atomic.AddUint64(&m.expirations, uint64(len(expired)))
		m.logger.Debug("Sweep completed", zap.Int("expired_entries", len(expired)))
	}
}

func (m *MemoryAdapter) startSweepRoutine() {
	defer close(m.sweepDone)

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Debug("Sweep routine stopped by context")
			return
		case <-m.stopSweep:
			m.logger.Debug("Sweep routine stopped by signal")
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saiset-co/vinyl-tracker/types"
)

type Config struct {
	Name          string
	MaxEntries    int
	TTL           time.Duration
	SweepInterval time.Duration
}

// ExpiringCache is a bounded key/value store with sliding expiration.
//
// Capacity is enforced on Put by evicting the least recently touched entry.
// Expiry is enforced only by the periodic sweep, so Get may return an entry
// up to one sweep interval after it logically expired.
type ExpiringCache[K comparable, V any] struct {
	name            string
	maxEntries      int
	ttl             time.Duration
	sweepInterval   time.Duration
	entries         map[K]*Entry[V]
	mu              sync.RWMutex
	clock           func() time.Time
	logger          types.Logger
	onEvict         EvictCallback[K, V]
	sweeper         *cron.Cron
	state           types.StateHolder
	shutdownOnce    sync.Once
	shutdownTimeout time.Duration
	forcedStop      atomic.Bool
}

// NewExpiringCache builds the cache and starts its sweeper. Zero config
// fields fall back to the package defaults.
func NewExpiringCache[K comparable, V any](config Config, opts ...Option[K, V]) *ExpiringCache[K, V] {
	o := applyOptions(opts...)

	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultMaxEntries
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}

	c := &ExpiringCache[K, V]{
		name:            config.Name,
		maxEntries:      config.MaxEntries,
		ttl:             config.TTL,
		sweepInterval:   config.SweepInterval,
		entries:         make(map[K]*Entry[V], config.MaxEntries),
		clock:           o.clock,
		logger:          o.logger,
		onEvict:         o.onEvict,
		shutdownTimeout: o.shutdownTimeout,
	}

	cronLogger := sweepLogger{logger: o.logger, cache: config.Name}
	c.sweeper = cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))
	c.sweeper.Schedule(cron.Every(c.sweepInterval), cron.FuncJob(c.CleanUp))

	c.state.Set(types.StateStarting)
	c.sweeper.Start()
	c.state.Transition(types.StateStarting, types.StateRunning)

	c.logger.Debug("Cache created",
		zap.String("cache", c.name),
		zap.Int("max_entries", c.maxEntries),
		zap.Duration("ttl", c.ttl),
		zap.Duration("sweep_interval", c.sweepInterval))

	return c
}

// Put inserts or overwrites key. When the cache is already full the least
// recently touched entry is evicted first.
func (c *ExpiringCache[K, V]) Put(key K, value V) {
	now := c.clock()

	c.mu.Lock()
	var (
		victimKey   K
		victimEntry *Entry[V]
	)
	if len(c.entries) >= c.maxEntries {
		victimKey, victimEntry = c.evictOldestLocked()
	}
	c.entries[key] = newEntry(value, now)
	c.mu.Unlock()

	if victimEntry != nil {
		c.logger.Debug("Cache entry evicted",
			zap.String("cache", c.name),
			zap.String("key", fmt.Sprint(victimKey)))
		c.notifyEvicted(victimKey, victimEntry.value, types.EvictionCapacity)
	}

	c.logger.Debug("Cache entry stored", zap.String("cache", c.name), zap.String("key", fmt.Sprint(key)))
}

// Get returns the cached value and slides its expiration forward.
func (c *ExpiringCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	if ok {
		entry.refresh(c.clock())
	}
	c.mu.RUnlock()

	if !ok {
		var zero V
		return zero, false
	}

	c.logger.Debug("Cache hit", zap.String("cache", c.name), zap.String("key", fmt.Sprint(key)))
	return entry.value, true
}

// Contains reports membership without touching the entry.
func (c *ExpiringCache[K, V]) Contains(key K) bool {
	c.mu.RLock()
	_, ok := c.entries[key]
	c.mu.RUnlock()
	return ok
}

func (c *ExpiringCache[K, V]) Remove(key K) {
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()

	if ok {
		c.logger.Debug("Cache entry removed", zap.String("cache", c.name), zap.String("key", fmt.Sprint(key)))
	}
}

// CleanUp drops every entry idle for longer than the TTL. The sweeper calls
// it on every tick; it is safe to call directly.
func (c *ExpiringCache[K, V]) CleanUp() {
	now := c.clock()

	type expired struct {
		key   K
		value V
	}
	var dropped []expired

	c.mu.Lock()
	for key, entry := range c.entries {
		if entry.idleFor(now) > c.ttl {
			dropped = append(dropped, expired{key: key, value: entry.value})
			delete(c.entries, key)
		}
	}
	remaining := len(c.entries)
	c.mu.Unlock()

	for _, e := range dropped {
		c.notifyEvicted(e.key, e.value, types.EvictionExpired)
	}

	c.logger.Debug("Cache sweep completed",
		zap.String("cache", c.name),
		zap.Int("expired_entries", len(dropped)),
		zap.Int("remaining_entries", remaining))
}

func (c *ExpiringCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ExpiringCache[K, V]) Name() string {
	return c.name
}

func (c *ExpiringCache[K, V]) Stats() types.CacheStats {
	return types.CacheStats{
		Name:          c.name,
		Entries:       c.Len(),
		MaxEntries:    c.maxEntries,
		TTL:           c.ttl,
		SweepInterval: c.sweepInterval,
		Sweeping:      c.IsSweeping(),
	}
}

func (c *ExpiringCache[K, V]) IsSweeping() bool {
	return c.state.IsRunning()
}

// ForcedStop reports whether Shutdown gave up waiting on an in-flight sweep.
func (c *ExpiringCache[K, V]) ForcedStop() bool {
	return c.forcedStop.Load()
}

// Shutdown stops the sweeper. Entries stay resident and every other
// operation keeps working. Calling it more than once is a no-op.
func (c *ExpiringCache[K, V]) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.state.Set(types.StateStopping)
		defer c.state.Set(types.StateStopped)

		done := c.sweeper.Stop()

		timer := time.NewTimer(c.shutdownTimeout)
		defer timer.Stop()

		select {
		case <-done.Done():
			c.logger.Info("Cache sweeper stopped gracefully", zap.String("cache", c.name))
		case <-timer.C:
			c.forcedStop.Store(true)
			c.logger.Warn("Cache sweeper stop timeout, abandoning in-flight sweep",
				zap.String("cache", c.name),
				zap.Duration("timeout", c.shutdownTimeout))
		}
	})
}

func (c *ExpiringCache[K, V]) evictOldestLocked() (K, *Entry[V]) {
	var (
		oldestKey   K
		oldestEntry *Entry[V]
		oldestNanos int64
	)

	for key, entry := range c.entries {
		touched := entry.touched.Load()
		if oldestEntry == nil || touched < oldestNanos {
			oldestKey, oldestEntry, oldestNanos = key, entry, touched
		}
	}

	if oldestEntry != nil {
		delete(c.entries, oldestKey)
	}

	return oldestKey, oldestEntry
}

func (c *ExpiringCache[K, V]) notifyEvicted(key K, value V, reason types.EvictionReason) {
	if c.onEvict != nil {
		c.onEvict(key, value, reason)
	}
}

type sweepLogger struct {
	logger types.Logger
	cache  string
}

func (l sweepLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, l.fields(keysAndValues)...)
}

func (l sweepLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(l.fields(keysAndValues), zap.Error(err))
	l.logger.Error(msg, fields...)
}

func (l sweepLogger) fields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2+1)
	fields = append(fields, zap.String("cache", l.cache))
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}

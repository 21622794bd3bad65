package cache

import (
	"sync/atomic"
	"time"

	"github.com/saiset-co/vinyl-tracker/types"
)

// New builds the cache for one dataset and, when metrics are enabled, wraps
// it so every operation and eviction is recorded under that dataset label.
func New[K comparable, V any](name string, config types.CacheDatasetConfig, shutdownTimeout time.Duration, logger types.Logger, metrics types.MetricsManager, opts ...Option[K, V]) types.Cache[K, V] {
	base := []Option[K, V]{
		WithLogger[K, V](logger),
		WithShutdownTimeout[K, V](shutdownTimeout),
	}

	// The sweeper calls the inner CleanUp directly, so background expiries
	// refresh the entries gauge from the eviction callback.
	var sized atomic.Pointer[ExpiringCache[K, V]]
	if metrics != nil {
		base = append(base, WithEvictionCallback[K, V](func(_ K, _ V, reason types.EvictionReason) {
			metrics.Counter("cache_evictions_total", map[string]string{
				"dataset": name,
				"reason":  string(reason),
			}).Inc()
			if c := sized.Load(); c != nil {
				metrics.Gauge("cache_entries", map[string]string{"dataset": name}).Set(float64(c.Len()))
			}
		}))
	}

	impl := NewExpiringCache[K, V](Config{
		Name:          name,
		MaxEntries:    config.MaxEntries,
		TTL:           config.TTL,
		SweepInterval: config.SweepInterval,
	}, append(base, opts...)...)
	sized.Store(impl)

	if metrics == nil {
		return impl
	}

	return newInstrumentedCache[K, V](name, metrics, impl)
}

type instrumentedCache[K comparable, V any] struct {
	impl    types.Cache[K, V]
	name    string
	metrics types.MetricsManager
}

func newInstrumentedCache[K comparable, V any](name string, metrics types.MetricsManager, impl types.Cache[K, V]) types.Cache[K, V] {
	return &instrumentedCache[K, V]{
		impl:    impl,
		name:    name,
		metrics: metrics,
	}
}

func (ic *instrumentedCache[K, V]) Put(key K, value V) {
	start := time.Now()
	ic.impl.Put(key, value)
	ic.recordMetric("put", "success", time.Since(start))
	ic.recordSize()
}

func (ic *instrumentedCache[K, V]) Get(key K) (V, bool) {
	start := time.Now()
	value, exists := ic.impl.Get(key)
	duration := time.Since(start)

	result := "miss"
	if exists {
		result = "hit"
	}

	ic.recordMetric("get", result, duration)
	return value, exists
}

func (ic *instrumentedCache[K, V]) Contains(key K) bool {
	return ic.impl.Contains(key)
}

func (ic *instrumentedCache[K, V]) Remove(key K) {
	start := time.Now()
	ic.impl.Remove(key)
	ic.recordMetric("remove", "success", time.Since(start))
	ic.recordSize()
}

func (ic *instrumentedCache[K, V]) CleanUp() {
	start := time.Now()
	ic.impl.CleanUp()
	ic.recordMetric("cleanup", "success", time.Since(start))
	ic.recordSize()
}

func (ic *instrumentedCache[K, V]) Len() int {
	return ic.impl.Len()
}

func (ic *instrumentedCache[K, V]) Stats() types.CacheStats {
	return ic.impl.Stats()
}

func (ic *instrumentedCache[K, V]) Shutdown() {
	ic.impl.Shutdown()
}

func (ic *instrumentedCache[K, V]) recordMetric(operation, result string, duration time.Duration) {
	ic.metrics.Counter("cache_operations_total", map[string]string{
		"dataset":   ic.name,
		"operation": operation,
		"result":    result,
	}).Inc()

	ic.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
		map[string]string{"dataset": ic.name, "operation": operation},
	).Observe(duration.Seconds())
}

func (ic *instrumentedCache[K, V]) recordSize() {
	ic.metrics.Gauge("cache_entries", map[string]string{"dataset": ic.name}).Set(float64(ic.impl.Len()))
}

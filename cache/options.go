package cache

import (
	"time"

	"github.com/saiset-co/vinyl-tracker/logger"
	"github.com/saiset-co/vinyl-tracker/types"
)

const (
	DefaultMaxEntries      = 100
	DefaultTTL             = 30 * time.Minute
	DefaultSweepInterval   = 5 * time.Minute
	DefaultShutdownTimeout = 5 * time.Second
)

// EvictCallback is called outside the cache lock for every entry dropped by
// capacity pressure or by the sweep.
type EvictCallback[K comparable, V any] func(key K, value V, reason types.EvictionReason)

type Option[K comparable, V any] func(*options[K, V])

type options[K comparable, V any] struct {
	clock           func() time.Time
	logger          types.Logger
	onEvict         EvictCallback[K, V]
	shutdownTimeout time.Duration
}

// WithClock replaces time.Now, mostly for tests.
func WithClock[K comparable, V any](clock func() time.Time) Option[K, V] {
	return func(o *options[K, V]) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func WithLogger[K comparable, V any](logger types.Logger) Option[K, V] {
	return func(o *options[K, V]) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithEvictionCallback[K comparable, V any](callback EvictCallback[K, V]) Option[K, V] {
	return func(o *options[K, V]) {
		o.onEvict = callback
	}
}

// WithShutdownTimeout bounds how long Shutdown waits for an in-flight sweep.
func WithShutdownTimeout[K comparable, V any](timeout time.Duration) Option[K, V] {
	return func(o *options[K, V]) {
		if timeout > 0 {
			o.shutdownTimeout = timeout
		}
	}
}

func applyOptions[K comparable, V any](opts ...Option[K, V]) *options[K, V] {
	o := &options[K, V]{
		clock:           time.Now,
		logger:          logger.NewNop(),
		shutdownTimeout: DefaultShutdownTimeout,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	return o
}

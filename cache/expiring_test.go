package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saiset-co/vinyl-tracker/logger"
	"github.com/saiset-co/vinyl-tracker/types"
)

func newTestCache(t *testing.T, clock *fakeClock, maxEntries int, opts ...Option[string, string]) *ExpiringCache[string, string] {
	t.Helper()

	c := NewExpiringCache[string, string](Config{
		Name:          "test",
		MaxEntries:    maxEntries,
		TTL:           30 * time.Minute,
		SweepInterval: time.Hour,
	}, append([]Option[string, string]{WithClock[string, string](clock.Now)}, opts...)...)
	t.Cleanup(c.Shutdown)

	return c
}

func TestExpiringCache_PutThenGet(t *testing.T) {
	c := newTestCache(t, newFakeClock(), 100)

	c.Put("vinyl-1", "V1")

	value, ok := c.Get("vinyl-1")
	require.True(t, ok)
	assert.Equal(t, "V1", value)
}

func TestExpiringCache_GetMissing(t *testing.T) {
	c := newTestCache(t, newFakeClock(), 100)

	value, ok := c.Get("nope")
	assert.False(t, ok)
	assert.Empty(t, value)
}

func TestExpiringCache_CapacityBound(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, 5)

	for i := 0; i < 50; i++ {
		clock.tick()
		c.Put(fmt.Sprintf("key%d", i), "v")
		assert.LessOrEqual(t, c.Len(), 5)
	}
}

func TestExpiringCache_EvictsOldestInInsertionOrder(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, 100)

	for i := 0; i <= 100; i++ {
		clock.tick()
		c.Put(fmt.Sprintf("key%d", i), "v")
	}

	assert.False(t, c.Contains("key0"))
	assert.True(t, c.Contains("key1"))
	assert.True(t, c.Contains("key100"))
	assert.Equal(t, 100, c.Len())
}

func TestExpiringCache_GetProtectsFromEviction(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, 3)

	clock.tick()
	c.Put("k1", "1")
	clock.tick()
	c.Put("k2", "2")
	clock.tick()
	c.Put("k3", "3")

	clock.tick()
	_, ok := c.Get("k1")
	require.True(t, ok)

	clock.tick()
	c.Put("k4", "4")

	assert.True(t, c.Contains("k1"))
	assert.False(t, c.Contains("k2"))
	assert.True(t, c.Contains("k3"))
	assert.True(t, c.Contains("k4"))
}

func TestExpiringCache_OverwriteAtCapacityStillEvicts(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, 2)

	clock.tick()
	c.Put("a", "1")
	clock.tick()
	c.Put("b", "2")

	clock.tick()
	c.Put("b", "3")

	assert.False(t, c.Contains("a"))
	value, ok := c.Get("b")
	require.True(t, ok)
	assert.Equal(t, "3", value)
	assert.Equal(t, 1, c.Len())
}

func TestExpiringCache_CleanUpRemovesExpired(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, 100)

	c.Put("k", "v")
	c.Put("fresh", "v")

	c.entries["k"].touched.Store(clock.Now().Add(-31 * time.Minute).UnixNano())

	c.CleanUp()

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.True(t, c.Contains("fresh"))
}

func TestExpiringCache_CleanUpAfterClockAdvance(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, 100)

	c.Put("old", "v")
	clock.Advance(20 * time.Minute)
	c.Put("young", "v")
	clock.Advance(11 * time.Minute)

	c.CleanUp()

	assert.False(t, c.Contains("old"))
	assert.True(t, c.Contains("young"))
}

func TestExpiringCache_CleanUpKeepsEntryAtExactTTL(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, 100)

	c.Put("k", "v")
	clock.Advance(30 * time.Minute)
	c.CleanUp()

	assert.True(t, c.Contains("k"))
}

func TestExpiringCache_GetDoesNotCheckTTL(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, 100)

	c.Put("k", "v")
	clock.Advance(2 * time.Hour)

	value, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", value)

	c.CleanUp()
	assert.True(t, c.Contains("k"), "get refreshed the entry")
}

func TestExpiringCache_GetRefreshesTimestamp(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, 100)

	c.Put("k", "v")
	before := c.entries["k"].LastTouched()

	clock.tick()
	c.Get("k")

	assert.True(t, c.entries["k"].LastTouched().After(before))
}

func TestEntry_RefreshNeverMovesBackwards(t *testing.T) {
	now := time.Now()
	e := newEntry("v", now)

	e.refresh(now.Add(-time.Minute))
	assert.Equal(t, now.UnixNano(), e.LastTouched().UnixNano())

	e.refresh(now.Add(time.Minute))
	assert.Equal(t, now.Add(time.Minute).UnixNano(), e.LastTouched().UnixNano())
	assert.Equal(t, "v", e.Value())
}

func TestExpiringCache_RemoveIsIdempotent(t *testing.T) {
	c := newTestCache(t, newFakeClock(), 100)

	c.Put("k", "v")
	c.Remove("k")
	assert.False(t, c.Contains("k"))

	assert.NotPanics(t, func() { c.Remove("k") })
	assert.False(t, c.Contains("k"))
}

func TestExpiringCache_EvictionCallback(t *testing.T) {
	clock := newFakeClock()

	var (
		mu      sync.Mutex
		reasons = map[string]types.EvictionReason{}
	)
	c := newTestCache(t, clock, 1, WithEvictionCallback[string, string](func(key, _ string, reason types.EvictionReason) {
		mu.Lock()
		reasons[key] = reason
		mu.Unlock()
	}))

	c.Put("a", "1")
	clock.tick()
	c.Put("b", "2")
	clock.Advance(time.Hour)
	c.CleanUp()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, types.EvictionCapacity, reasons["a"])
	assert.Equal(t, types.EvictionExpired, reasons["b"])
}

func TestExpiringCache_Defaults(t *testing.T) {
	c := NewExpiringCache[string, int](Config{Name: "defaults"})
	defer c.Shutdown()

	stats := c.Stats()
	assert.Equal(t, "defaults", stats.Name)
	assert.Equal(t, DefaultMaxEntries, stats.MaxEntries)
	assert.Equal(t, DefaultTTL, stats.TTL)
	assert.Equal(t, DefaultSweepInterval, stats.SweepInterval)
	assert.True(t, stats.Sweeping)
}

func TestExpiringCache_ShutdownKeepsEntries(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	c := newTestCache(t, newFakeClock(), 100, WithLogger[string, string](logger.Wrap(zap.New(core))))

	c.Put("k", "v")
	c.Shutdown()
	c.Shutdown()

	assert.False(t, c.IsSweeping())
	assert.False(t, c.ForcedStop())
	assert.Equal(t, 1, logs.FilterMessage("Cache sweeper stopped gracefully").Len())

	value, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", value)

	c.Put("k2", "v2")
	assert.Equal(t, 2, c.Len())
}

// A sweep stuck in an eviction callback must not hold Shutdown past its
// timeout, and the cache must stay usable afterwards.
func TestExpiringCache_ShutdownForcedWhenSweepBlocks(t *testing.T) {
	clock := newFakeClock()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	core, logs := observer.New(zapcore.WarnLevel)
	c := NewExpiringCache[string, string](Config{
		Name:          "blocked",
		TTL:           time.Minute,
		SweepInterval: time.Second,
	},
		WithClock[string, string](clock.Now),
		WithLogger[string, string](logger.Wrap(zap.New(core))),
		WithShutdownTimeout[string, string](100*time.Millisecond),
		WithEvictionCallback[string, string](func(string, string, types.EvictionReason) {
			once.Do(func() { close(entered) })
			<-release
		}),
	)
	defer close(release)

	c.Put("stale", "v")
	clock.Advance(2 * time.Minute)

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("sweep never reached the eviction callback")
	}

	start := time.Now()
	c.Shutdown()
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
	assert.True(t, c.ForcedStop())
	assert.False(t, c.IsSweeping())
	assert.Equal(t, 1, logs.FilterMessage("Cache sweeper stop timeout, abandoning in-flight sweep").Len())

	c.Put("fresh", "v2")
	value, ok := c.Get("fresh")
	require.True(t, ok)
	assert.Equal(t, "v2", value)
	assert.False(t, c.Contains("stale"))

	c.Shutdown()
}

func TestExpiringCache_SweeperRunsPeriodically(t *testing.T) {
	clock := newFakeClock()
	c := NewExpiringCache[string, string](Config{
		Name:          "sweeping",
		TTL:           time.Minute,
		SweepInterval: time.Second,
	}, WithClock[string, string](clock.Now))
	defer c.Shutdown()

	c.Put("k", "v")
	clock.Advance(2 * time.Minute)

	assert.Eventually(t, func() bool {
		return !c.Contains("k")
	}, 5*time.Second, 50*time.Millisecond)
}

func TestExpiringCache_ConcurrentAccess(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, 50)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("g%d-%d", g, i%60)
				c.Put(key, "v")
				c.Get(key)
				if i%7 == 0 {
					c.Remove(key)
				}
				if i%50 == 0 {
					c.CleanUp()
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50)
}

package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/vinyl-tracker/logger"
	"github.com/saiset-co/vinyl-tracker/metrics"
	"github.com/saiset-co/vinyl-tracker/types"
)

func TestCaches_DatasetOverrides(t *testing.T) {
	cfg := testCacheConfig()
	cfg.Datasets = map[string]types.CacheDatasetConfig{
		DatasetVinylList: {MaxEntries: 500, TTL: 5 * time.Minute},
	}

	caches := NewCaches(cfg, logger.NewNop(), nil)
	defer caches.Shutdown()

	stats := caches.Stats()
	require.Len(t, stats, 7)

	names := make([]string, 0, len(stats))
	byName := make(map[string]types.CacheStats)
	for _, s := range stats {
		names = append(names, s.Name)
		byName[s.Name] = s
	}
	assert.IsNonDecreasing(t, names)

	assert.Equal(t, 500, byName[DatasetVinylList].MaxEntries)
	assert.Equal(t, 5*time.Minute, byName[DatasetVinylList].TTL)
	assert.Equal(t, time.Minute, byName[DatasetVinylList].SweepInterval)
	assert.Equal(t, 100, byName[DatasetVinyl].MaxEntries)
}

func TestCaches_ShutdownStopsEverySweeper(t *testing.T) {
	caches := NewCaches(testCacheConfig(), logger.NewNop(), nil)
	assert.True(t, caches.Healthy())

	caches.Vinyl.Put(vinylKey(1), &types.Vinyl{ID: 1})
	caches.Shutdown()
	caches.Shutdown()

	assert.False(t, caches.Healthy())
	for _, s := range caches.Stats() {
		assert.False(t, s.Sweeping, s.Name)
	}

	_, ok := caches.Vinyl.Get(vinylKey(1))
	assert.True(t, ok)
}

func TestCaches_Instrumented(t *testing.T) {
	m := metrics.NewMemoryMetrics(logger.NewNop(), &types.MetricsConfig{Enabled: true, Type: "memory"})
	caches := NewCaches(testCacheConfig(), logger.NewNop(), m)
	defer caches.Shutdown()

	caches.User.Put(userKey(1), &types.User{ID: 1})
	caches.User.Get(userKey(1))
	caches.User.Get(userKey(2))

	assert.Equal(t, 1.0, m.Counter("cache_operations_total", map[string]string{
		"dataset": DatasetUser, "operation": "get", "result": "hit",
	}).Get())
	assert.Equal(t, 1.0, m.Counter("cache_operations_total", map[string]string{
		"dataset": DatasetUser, "operation": "get", "result": "miss",
	}).Get())
	assert.Equal(t, 1.0, m.Gauge("cache_entries", map[string]string{"dataset": DatasetUser}).Get())
}

package service

import (
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/vinyl-tracker/cache"
	"github.com/saiset-co/vinyl-tracker/types"
)

const (
	DatasetVinyl          = "vinyl"
	DatasetVinylList      = "vinyl_list"
	DatasetUser           = "user"
	DatasetUserList       = "user_list"
	DatasetUserByUsername = "user_by_username"
	DatasetUserVinyls     = "user_vinyls"
	DatasetVinylUsers     = "vinyl_users"
)

// Caches owns one cache per dataset. Services receive the instances they
// need from here; nothing else holds a reference to them.
type Caches struct {
	Vinyl          types.Cache[string, *types.Vinyl]
	VinylList      types.Cache[string, []*types.Vinyl]
	User           types.Cache[string, *types.User]
	UserList       types.Cache[string, []*types.User]
	UserByUsername types.Cache[string, []*types.User]
	UserVinyls     types.Cache[string, []*types.UserVinyl]
	VinylUsers     types.Cache[string, []*types.UserVinyl]

	logger types.Logger
}

// NewCaches builds every dataset cache from config. Each one starts its own
// sweeper. metrics may be nil.
func NewCaches(config *types.CacheConfig, logger types.Logger, metrics types.MetricsManager) *Caches {
	timeout := config.ShutdownTimeout

	return &Caches{
		Vinyl:          cache.New[string, *types.Vinyl](DatasetVinyl, config.ForDataset(DatasetVinyl), timeout, logger, metrics),
		VinylList:      cache.New[string, []*types.Vinyl](DatasetVinylList, config.ForDataset(DatasetVinylList), timeout, logger, metrics),
		User:           cache.New[string, *types.User](DatasetUser, config.ForDataset(DatasetUser), timeout, logger, metrics),
		UserList:       cache.New[string, []*types.User](DatasetUserList, config.ForDataset(DatasetUserList), timeout, logger, metrics),
		UserByUsername: cache.New[string, []*types.User](DatasetUserByUsername, config.ForDataset(DatasetUserByUsername), timeout, logger, metrics),
		UserVinyls:     cache.New[string, []*types.UserVinyl](DatasetUserVinyls, config.ForDataset(DatasetUserVinyls), timeout, logger, metrics),
		VinylUsers:     cache.New[string, []*types.UserVinyl](DatasetVinylUsers, config.ForDataset(DatasetVinylUsers), timeout, logger, metrics),
		logger:         logger,
	}
}

// dataset is the value-type independent part of a cache.
type dataset interface {
	Stats() types.CacheStats
	Shutdown()
}

func (c *Caches) all() []dataset {
	return []dataset{c.Vinyl, c.VinylList, c.User, c.UserList, c.UserByUsername, c.UserVinyls, c.VinylUsers}
}

// Stats lists every dataset ordered by name.
func (c *Caches) Stats() []types.CacheStats {
	caches := c.all()
	stats := make([]types.CacheStats, 0, len(caches))
	for _, ds := range caches {
		stats = append(stats, ds.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Healthy reports whether every sweeper is still running.
func (c *Caches) Healthy() bool {
	for _, ds := range c.all() {
		if !ds.Stats().Sweeping {
			return false
		}
	}
	return true
}

// Shutdown stops all sweepers concurrently. Entries stay readable.
func (c *Caches) Shutdown() {
	caches := c.all()

	var g errgroup.Group
	for _, ds := range caches {
		ds := ds
		g.Go(func() error {
			ds.Shutdown()
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info("All dataset caches stopped", zap.Int("datasets", len(caches)))
}

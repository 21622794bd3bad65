package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/saiset-co/vinyl-tracker/cache"
	"github.com/saiset-co/vinyl-tracker/database"
	"github.com/saiset-co/vinyl-tracker/logger"
	"github.com/saiset-co/vinyl-tracker/types"
)

type fixture struct {
	store      *database.MemoryStore
	caches     *Caches
	tracker    *cache.KeyTracker[int, string]
	vinyls     *VinylService
	users      *UserService
	userVinyls *UserVinylService
	facade     *Facade
}

func testCacheConfig() *types.CacheConfig {
	return &types.CacheConfig{
		MaxEntries:      100,
		TTL:             time.Minute,
		SweepInterval:   time.Minute,
		ShutdownTimeout: time.Second,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logger.NewNop()
	store := database.NewMemoryStore(log)
	require.NoError(t, store.Start())

	caches := NewCaches(testCacheConfig(), log, nil)
	t.Cleanup(caches.Shutdown)

	f := &fixture{
		store:   store,
		caches:  caches,
		tracker: cache.NewKeyTracker[int, string](),
	}
	f.vinyls = NewVinylService(log, store.Vinyls(), store.Users(), caches, f.tracker)
	f.users = NewUserService(log, store.Users(), caches)
	f.users.hashCost = bcrypt.MinCost
	f.userVinyls = NewUserVinylService(log, store.UserVinyls(), caches)
	f.facade = NewFacade(log, f.vinyls, f.users, f.userVinyls)
	return f
}

func (f *fixture) createUser(t *testing.T, username string) *types.User {
	t.Helper()

	user, err := f.users.Create(context.Background(), types.UserInput{
		Username: username,
		Email:    username + "@example.com",
		Password: "secret-" + username,
		RoleID:   1,
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) createVinyl(t *testing.T, title, artist, genre string, year int, addedBy *int) *types.Vinyl {
	t.Helper()

	vinyl, err := f.vinyls.Create(context.Background(), types.VinylInput{
		Title:       title,
		Artist:      artist,
		Genre:       genre,
		ReleaseYear: year,
		AddedByID:   addedBy,
	})
	require.NoError(t, err)
	return vinyl
}

func intPtr(i int) *int {
	return &i
}

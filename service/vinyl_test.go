package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/vinyl-tracker/logger"
	"github.com/saiset-co/vinyl-tracker/types"
)

func TestVinylService_GetCachesAndMisses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createVinyl(t, "Kind of Blue", "Miles Davis", "Jazz", 1959, nil)

	f.caches.Vinyl.Remove(vinylKey(created.ID))

	got, err := f.vinyls.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kind of Blue", got.Title)
	assert.True(t, f.caches.Vinyl.Contains(vinylKey(created.ID)))

	_, err = f.vinyls.Get(ctx, 999)
	assert.ErrorIs(t, err, types.ErrVinylNotFound)
	assert.False(t, f.caches.Vinyl.Contains(vinylKey(999)))
}

func TestVinylService_GetAllServedFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createVinyl(t, "Kind of Blue", "Miles Davis", "Jazz", 1959, nil)

	_, err := f.store.Vinyls().Save(ctx, &types.Vinyl{Title: "Behind the service", Artist: "Nobody"})
	require.NoError(t, err)

	all, err := f.vinyls.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	f.caches.VinylList.Remove(allVinylsKey)

	all, err = f.vinyls.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestVinylService_SearchTracksMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	blue := f.createVinyl(t, "Kind of Blue", "Miles Davis", "Jazz", 1959, nil)
	train := f.createVinyl(t, "Blue Train", "John Coltrane", "Jazz", 1958, nil)
	abbey := f.createVinyl(t, "Abbey Road", "The Beatles", "Rock", 1969, nil)

	filter := types.VinylFilter{Title: "BLUE"}
	found, err := f.vinyls.Search(ctx, filter)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	key := searchVinylKey(filter)
	assert.Equal(t, "search-vinyl-title=blue", key)
	assert.True(t, f.caches.VinylList.Contains(key))
	assert.Equal(t, []string{key}, f.tracker.KeysFor(blue.ID))
	assert.Equal(t, []string{key}, f.tracker.KeysFor(train.ID))
	assert.Empty(t, f.tracker.KeysFor(abbey.ID))
}

func TestVinylService_EmptyFilterIsFullListing(t *testing.T) {
	f := newFixture(t)
	f.createVinyl(t, "Kind of Blue", "Miles Davis", "Jazz", 1959, nil)
	f.createVinyl(t, "Abbey Road", "The Beatles", "Rock", 1969, nil)

	found, err := f.vinyls.Search(context.Background(), types.VinylFilter{})
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.False(t, f.caches.VinylList.Contains(searchVinylKey(types.VinylFilter{})))
}

func TestVinylService_SearchKeysDoNotCollide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createVinyl(t, "Hip-Hop Classics", "DJ", "Rap", 1995, nil)

	dashInTitle := types.VinylFilter{Title: "hip-hop", Artist: "dj"}
	dashInArtist := types.VinylFilter{Title: "hip", Artist: "hop-dj"}
	require.NotEqual(t, searchVinylKey(dashInTitle), searchVinylKey(dashInArtist))
	assert.NotEqual(t,
		searchVinylKey(types.VinylFilter{Title: "a&artist=b"}),
		searchVinylKey(types.VinylFilter{Title: "a", Artist: "b"}))

	found, err := f.vinyls.Search(ctx, dashInTitle)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	found, err = f.vinyls.Search(ctx, dashInArtist)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestVinylService_SearchText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createVinyl(t, "Kind of Blue", "Miles Davis", "Jazz", 1959, nil)
	f.createVinyl(t, "Abbey Road", "The Beatles", "Rock", 1969, nil)

	before := f.caches.VinylList.Len()
	found, err := f.vinyls.SearchText(ctx, "   ")
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Equal(t, before, f.caches.VinylList.Len())

	found, err = f.vinyls.SearchText(ctx, "Beatles")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, f.caches.VinylList.Contains("search-vinyl-text-beatles"))

	found, err = f.vinyls.SearchText(ctx, "1959")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Kind of Blue", found[0].Title)
}

// A cached query result containing the updated vinyl must be gone after the
// update, together with its tracker entry.
func TestVinylService_UpdateInvalidatesDerivedKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.createVinyl(t, "Kind of Blue", "Miles Davis", "Jazz", 1959, nil)
	other := f.createVinyl(t, "Abbey Road", "The Beatles", "Rock", 1969, nil)

	_, err := f.vinyls.Search(ctx, types.VinylFilter{Genre: "jazz"})
	require.NoError(t, err)
	_, err = f.vinyls.SearchText(ctx, "miles")
	require.NoError(t, err)
	_, err = f.vinyls.Search(ctx, types.VinylFilter{Genre: "rock"})
	require.NoError(t, err)
	require.Len(t, f.tracker.KeysFor(target.ID), 2)

	updated, err := f.vinyls.Update(ctx, target.ID, types.VinylInput{
		Title:       "Kind of Blue (Legacy)",
		Artist:      "Miles Davis",
		Genre:       "Jazz",
		ReleaseYear: 1959,
	})
	require.NoError(t, err)
	assert.Equal(t, target.ID, updated.ID)

	assert.False(t, f.caches.VinylList.Contains(searchVinylKey(types.VinylFilter{Genre: "jazz"})))
	assert.False(t, f.caches.VinylList.Contains(searchVinylTextKey("miles")))
	assert.Empty(t, f.tracker.KeysFor(target.ID))

	// unrelated results survive
	assert.True(t, f.caches.VinylList.Contains(searchVinylKey(types.VinylFilter{Genre: "rock"})))
	assert.NotEmpty(t, f.tracker.KeysFor(other.ID))

	cached, ok := f.caches.Vinyl.Get(vinylKey(target.ID))
	require.True(t, ok)
	assert.Equal(t, "Kind of Blue (Legacy)", cached.Title)

	all, ok := f.caches.VinylList.Get(allVinylsKey)
	require.True(t, ok)
	assert.Equal(t, "Kind of Blue (Legacy)", all[0].Title)
}

func TestVinylService_UpdateKeepsUploader(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.createUser(t, "owner")
	other := f.createUser(t, "other")
	vinyl := f.createVinyl(t, "Kind of Blue", "Miles Davis", "Jazz", 1959, intPtr(owner.ID))

	_, err := f.vinyls.GetByUploader(ctx, owner.ID)
	require.NoError(t, err)
	require.True(t, f.caches.VinylList.Contains(uploaderKey(owner.ID)))

	updated, err := f.vinyls.Update(ctx, vinyl.ID, types.VinylInput{
		Title:     "Kind of Blue",
		Artist:    "Miles Davis",
		AddedByID: intPtr(other.ID),
	})
	require.NoError(t, err)
	require.NotNil(t, updated.AddedByID)
	assert.Equal(t, owner.ID, *updated.AddedByID)
	assert.False(t, f.caches.VinylList.Contains(uploaderKey(owner.ID)))
}

func TestVinylService_UpdateMissing(t *testing.T) {
	f := newFixture(t)

	_, err := f.vinyls.Update(context.Background(), 42, types.VinylInput{Title: "x", Artist: "y"})
	assert.ErrorIs(t, err, types.ErrVinylNotFound)
}

func TestVinylService_CreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.vinyls.Create(ctx, types.VinylInput{Artist: "No Title"})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	_, err = f.vinyls.Create(ctx, types.VinylInput{Title: "t", Artist: "a", ReleaseYear: 1800})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	_, err = f.vinyls.Create(ctx, types.VinylInput{Title: "t", Artist: "a", AddedByID: intPtr(77)})
	assert.ErrorIs(t, err, types.ErrUserNotFound)

	all, err := f.vinyls.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestVinylService_CreateDropsUploaderKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.createUser(t, "owner")
	f.createVinyl(t, "Kind of Blue", "Miles Davis", "Jazz", 1959, intPtr(owner.ID))

	uploaded, err := f.vinyls.GetByUploader(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, uploaded, 1)

	f.createVinyl(t, "Abbey Road", "The Beatles", "Rock", 1969, intPtr(owner.ID))

	uploaded, err = f.vinyls.GetByUploader(ctx, owner.ID)
	require.NoError(t, err)
	assert.Len(t, uploaded, 2)
}

func TestVinylService_CreateBulkIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.vinyls.CreateBulk(ctx, []types.VinylInput{
		{Title: "Kind of Blue", Artist: "Miles Davis"},
		{Title: "", Artist: "broken"},
	})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	all, err := f.store.Vinyls().FindAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	saved, err := f.vinyls.CreateBulk(ctx, []types.VinylInput{
		{Title: "Kind of Blue", Artist: "Miles Davis"},
		{Title: "Abbey Road", Artist: "The Beatles"},
	})
	require.NoError(t, err)
	require.Len(t, saved, 2)

	cached, ok := f.caches.VinylList.Get(allVinylsKey)
	require.True(t, ok)
	assert.Len(t, cached, 2)
	assert.True(t, f.caches.Vinyl.Contains(vinylKey(saved[1].ID)))
}

func TestVinylService_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vinyl := f.createVinyl(t, "Kind of Blue", "Miles Davis", "Jazz", 1959, nil)

	_, err := f.vinyls.Search(ctx, types.VinylFilter{Artist: "miles"})
	require.NoError(t, err)

	require.NoError(t, f.vinyls.Delete(ctx, vinyl.ID))

	assert.False(t, f.caches.Vinyl.Contains(vinylKey(vinyl.ID)))
	assert.False(t, f.caches.VinylList.Contains(searchVinylKey(types.VinylFilter{Artist: "miles"})))
	assert.Empty(t, f.tracker.KeysFor(vinyl.ID))

	_, err = f.vinyls.Get(ctx, vinyl.ID)
	assert.ErrorIs(t, err, types.ErrVinylNotFound)

	assert.ErrorIs(t, f.vinyls.Delete(ctx, vinyl.ID), types.ErrVinylNotFound)
}

func TestVinylService_DetachUploader(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.createUser(t, "owner")
	vinyl := f.createVinyl(t, "Kind of Blue", "Miles Davis", "Jazz", 1959, intPtr(owner.ID))

	_, err := f.vinyls.GetByUploader(ctx, owner.ID)
	require.NoError(t, err)

	ids, err := f.vinyls.DetachUploader(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{vinyl.ID}, ids)

	assert.False(t, f.caches.VinylList.Contains(uploaderKey(owner.ID)))
	assert.Empty(t, f.tracker.KeysFor(vinyl.ID))

	got, err := f.vinyls.Get(ctx, vinyl.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AddedByID)
}

func TestVinylService_Exists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vinyl := f.createVinyl(t, "Kind of Blue", "Miles Davis", "Jazz", 1959, nil)

	ok, err := f.vinyls.Exists(ctx, vinyl.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.vinyls.Exists(ctx, vinyl.ID+1)
	require.NoError(t, err)
	assert.False(t, ok)
}

// pausingVinyls holds the next Search after it has read the repository until
// resume is closed.
type pausingVinyls struct {
	types.VinylRepository
	armed  atomic.Bool
	loaded chan struct{}
	resume chan struct{}
}

func (p *pausingVinyls) Search(ctx context.Context, filter types.VinylFilter) ([]*types.Vinyl, error) {
	vinyls, err := p.VinylRepository.Search(ctx, filter)
	if p.armed.CompareAndSwap(true, false) {
		close(p.loaded)
		<-p.resume
	}
	return vinyls, err
}

func TestVinylService_SearchOverlappingUpdateIsNotCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.createVinyl(t, "Kind of Blue", "Miles Davis", "Jazz", 1959, nil)

	repo := &pausingVinyls{
		VinylRepository: f.store.Vinyls(),
		loaded:          make(chan struct{}),
		resume:          make(chan struct{}),
	}
	repo.armed.Store(true)
	svc := NewVinylService(logger.NewNop(), repo, f.store.Users(), f.caches, f.tracker)

	filter := types.VinylFilter{Artist: "miles"}
	done := make(chan []*types.Vinyl, 1)
	go func() {
		found, err := svc.Search(ctx, filter)
		assert.NoError(t, err)
		done <- found
	}()

	select {
	case <-repo.loaded:
	case <-time.After(5 * time.Second):
		t.Fatal("search never reached the repository")
	}

	_, err := svc.Update(ctx, target.ID, types.VinylInput{
		Title:       "Kind of Blue (Legacy)",
		Artist:      "Miles Davis",
		Genre:       "Jazz",
		ReleaseYear: 1959,
	})
	require.NoError(t, err)
	close(repo.resume)

	stale := <-done
	require.Len(t, stale, 1)
	assert.Equal(t, "Kind of Blue", stale[0].Title)

	assert.False(t, f.caches.VinylList.Contains(searchVinylKey(filter)))
	assert.Empty(t, f.tracker.KeysFor(target.ID))

	found, err := svc.Search(ctx, filter)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Kind of Blue (Legacy)", found[0].Title)
	assert.True(t, f.caches.VinylList.Contains(searchVinylKey(filter)))
}

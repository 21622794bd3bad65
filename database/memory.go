package database

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/saiset-co/vinyl-tracker/types"
)

type linkKey struct {
	userID  int
	vinylID int
}

// MemoryStore keeps every table in process. Returned entities are copies, so
// callers may mutate them freely.
type MemoryStore struct {
	logger      types.Logger
	state       types.StateHolder
	mu          sync.RWMutex
	vinyls      map[int]*types.Vinyl
	users       map[int]*types.User
	links       map[linkKey]*types.UserVinyl
	nextVinylID int
	nextUserID  int
}

func NewMemoryStore(logger types.Logger) *MemoryStore {
	return &MemoryStore{
		logger:      logger,
		vinyls:      make(map[int]*types.Vinyl),
		users:       make(map[int]*types.User),
		links:       make(map[linkKey]*types.UserVinyl),
		nextVinylID: 1,
		nextUserID:  1,
	}
}

func (m *MemoryStore) Start() error {
	if !m.state.Transition(types.StateStopped, types.StateRunning) {
		return types.ErrServerAlreadyRunning
	}
	m.logger.Info("Memory store started")
	return nil
}

func (m *MemoryStore) Stop() error {
	if !m.state.Transition(types.StateRunning, types.StateStopped) {
		return types.ErrServerNotRunning
	}
	m.logger.Info("Memory store stopped")
	return nil
}

func (m *MemoryStore) IsRunning() bool {
	return m.state.IsRunning()
}

func (m *MemoryStore) Ping(context.Context) error {
	if !m.IsRunning() {
		return types.ErrStoreNotRunning
	}
	return nil
}

func (m *MemoryStore) Vinyls() types.VinylRepository {
	return memoryVinyls{m}
}

func (m *MemoryStore) Users() types.UserRepository {
	return memoryUsers{m}
}

func (m *MemoryStore) UserVinyls() types.UserVinylRepository {
	return memoryLinks{m}
}

type memoryVinyls struct {
	s *MemoryStore
}

func (r memoryVinyls) filter(match func(*types.Vinyl) bool) []*types.Vinyl {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*types.Vinyl, 0)
	for _, v := range r.s.vinyls {
		if match(v) {
			out = append(out, cloneVinyl(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r memoryVinyls) FindAll(context.Context) ([]*types.Vinyl, error) {
	return r.filter(func(*types.Vinyl) bool { return true }), nil
}

func (r memoryVinyls) FindByID(_ context.Context, id int) (*types.Vinyl, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	v, ok := r.s.vinyls[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return cloneVinyl(v), nil
}

func (r memoryVinyls) ExistsByID(_ context.Context, id int) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	_, ok := r.s.vinyls[id]
	return ok, nil
}

func (r memoryVinyls) Search(_ context.Context, filter types.VinylFilter) ([]*types.Vinyl, error) {
	return r.filter(filter.Matches), nil
}

func (r memoryVinyls) SearchText(_ context.Context, query string) ([]*types.Vinyl, error) {
	return r.filter(func(v *types.Vinyl) bool { return types.MatchesText(v, query) }), nil
}

func (r memoryVinyls) FindByUploader(_ context.Context, userID int) ([]*types.Vinyl, error) {
	return r.filter(func(v *types.Vinyl) bool {
		return v.AddedByID != nil && *v.AddedByID == userID
	}), nil
}

func (r memoryVinyls) Save(_ context.Context, vinyl *types.Vinyl) (*types.Vinyl, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.saveLocked(vinyl), nil
}

func (r memoryVinyls) SaveAll(_ context.Context, vinyls []*types.Vinyl) ([]*types.Vinyl, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]*types.Vinyl, 0, len(vinyls))
	for _, v := range vinyls {
		out = append(out, r.saveLocked(v))
	}
	return out, nil
}

func (r memoryVinyls) saveLocked(vinyl *types.Vinyl) *types.Vinyl {
	stored := cloneVinyl(vinyl)
	if stored.ID == 0 {
		stored.ID = r.s.nextVinylID
	}
	if stored.ID >= r.s.nextVinylID {
		r.s.nextVinylID = stored.ID + 1
	}
	r.s.vinyls[stored.ID] = stored
	return cloneVinyl(stored)
}

func (r memoryVinyls) DeleteByID(_ context.Context, id int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	delete(r.s.vinyls, id)
	return nil
}

func (r memoryVinyls) DetachUploader(_ context.Context, userID int) ([]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ids := make([]int, 0)
	for id, v := range r.s.vinyls {
		if v.AddedByID != nil && *v.AddedByID == userID {
			v.AddedByID = nil
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

type memoryUsers struct {
	s *MemoryStore
}

func (r memoryUsers) filter(match func(*types.User) bool) []*types.User {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*types.User, 0)
	for _, u := range r.s.users {
		if match(u) {
			out = append(out, cloneUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r memoryUsers) FindAll(context.Context) ([]*types.User, error) {
	return r.filter(func(*types.User) bool { return true }), nil
}

func (r memoryUsers) FindByID(_ context.Context, id int) (*types.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r memoryUsers) FindByUsername(_ context.Context, username string) ([]*types.User, error) {
	return r.filter(func(u *types.User) bool { return u.Username == username }), nil
}

func (r memoryUsers) FindByEmail(_ context.Context, email string) (*types.User, error) {
	found := r.filter(func(u *types.User) bool { return strings.EqualFold(u.Email, email) })
	if len(found) == 0 {
		return nil, types.ErrNotFound
	}
	return found[0], nil
}

func (r memoryUsers) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := r.FindByEmail(ctx, email)
	return err == nil, nil
}

func (r memoryUsers) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	found, _ := r.FindByUsername(ctx, username)
	return len(found) > 0, nil
}

func (r memoryUsers) Save(_ context.Context, user *types.User) (*types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored := cloneUser(user)
	if stored.ID == 0 {
		stored.ID = r.s.nextUserID
	}
	if stored.ID >= r.s.nextUserID {
		r.s.nextUserID = stored.ID + 1
	}
	r.s.users[stored.ID] = stored
	return cloneUser(stored), nil
}

func (r memoryUsers) DeleteByID(_ context.Context, id int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	delete(r.s.users, id)
	return nil
}

type memoryLinks struct {
	s *MemoryStore
}

func (r memoryLinks) filter(match func(*types.UserVinyl) bool) []*types.UserVinyl {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*types.UserVinyl, 0)
	for _, l := range r.s.links {
		if match(l) {
			out = append(out, cloneLink(l))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].VinylID < out[j].VinylID
	})
	return out
}

func (r memoryLinks) FindAll(context.Context) ([]*types.UserVinyl, error) {
	return r.filter(func(*types.UserVinyl) bool { return true }), nil
}

func (r memoryLinks) Find(_ context.Context, userID, vinylID int) (*types.UserVinyl, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	l, ok := r.s.links[linkKey{userID, vinylID}]
	if !ok {
		return nil, types.ErrNotFound
	}
	return cloneLink(l), nil
}

func (r memoryLinks) FindByUser(_ context.Context, userID int) ([]*types.UserVinyl, error) {
	return r.filter(func(l *types.UserVinyl) bool { return l.UserID == userID }), nil
}

func (r memoryLinks) FindByVinyl(_ context.Context, vinylID int) ([]*types.UserVinyl, error) {
	return r.filter(func(l *types.UserVinyl) bool { return l.VinylID == vinylID }), nil
}

func (r memoryLinks) Save(_ context.Context, link *types.UserVinyl) (*types.UserVinyl, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored := cloneLink(link)
	r.s.links[linkKey{stored.UserID, stored.VinylID}] = stored
	return cloneLink(stored), nil
}

func (r memoryLinks) Delete(_ context.Context, userID, vinylID int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	delete(r.s.links, linkKey{userID, vinylID})
	return nil
}

func (r memoryLinks) DeleteByUser(_ context.Context, userID int) ([]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	vinylIDs := make([]int, 0)
	for key := range r.s.links {
		if key.userID == userID {
			vinylIDs = append(vinylIDs, key.vinylID)
			delete(r.s.links, key)
		}
	}
	sort.Ints(vinylIDs)
	return vinylIDs, nil
}

func (r memoryLinks) DeleteByVinyl(_ context.Context, vinylID int) ([]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	userIDs := make([]int, 0)
	for key := range r.s.links {
		if key.vinylID == vinylID {
			userIDs = append(userIDs, key.userID)
			delete(r.s.links, key)
		}
	}
	sort.Ints(userIDs)
	return userIDs, nil
}

package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/saiset-co/vinyl-tracker/types"
)

// VinylService serves vinyl reads through the cache and keeps the cache and
// the key tracker consistent on every write.
type VinylService struct {
	logger  types.Logger
	vinyls  types.VinylRepository
	users   types.UserRepository
	single  types.Cache[string, *types.Vinyl]
	lists   types.Cache[string, []*types.Vinyl]
	tracker types.KeyIndex[int, string]
}

func NewVinylService(logger types.Logger, vinyls types.VinylRepository, users types.UserRepository, caches *Caches, tracker types.KeyIndex[int, string]) *VinylService {
	return &VinylService{
		logger:  logger,
		vinyls:  vinyls,
		users:   users,
		single:  caches.Vinyl,
		lists:   caches.VinylList,
		tracker: tracker,
	}
}

func (s *VinylService) GetAll(ctx context.Context) ([]*types.Vinyl, error) {
	if cached, ok := s.lists.Get(allVinylsKey); ok {
		return cached, nil
	}

	generation := s.tracker.Generation()
	vinyls, err := s.vinyls.FindAll(ctx)
	if err != nil {
		return nil, types.WrapError(err, "failed to load vinyls")
	}

	s.lists.Put(allVinylsKey, vinyls)
	if s.tracker.Generation() != generation {
		s.lists.Remove(allVinylsKey)
	}
	return vinyls, nil
}

func (s *VinylService) Get(ctx context.Context, id int) (*types.Vinyl, error) {
	key := vinylKey(id)
	if cached, ok := s.single.Get(key); ok {
		return cached, nil
	}

	vinyl, err := s.vinyls.FindByID(ctx, id)
	if err != nil {
		if types.IsError(err, types.ErrNotFound) {
			s.logger.Warn("Vinyl not found", zap.Int("id", id))
			return nil, types.Errorf(types.ErrVinylNotFound, "id %d", id)
		}
		return nil, types.WrapError(err, "failed to load vinyl")
	}

	s.single.Put(key, vinyl)
	s.logger.Debug("Vinyl cached", zap.Int("id", id))
	return vinyl, nil
}

// Search returns every vinyl matching the filter. An empty filter is the
// full listing.
func (s *VinylService) Search(ctx context.Context, filter types.VinylFilter) ([]*types.Vinyl, error) {
	if filter == (types.VinylFilter{}) {
		return s.GetAll(ctx)
	}

	return s.derived(searchVinylKey(filter), func() ([]*types.Vinyl, error) {
		return s.vinyls.Search(ctx, filter)
	})
}

// SearchText matches the query against title, artist, genre and year.
func (s *VinylService) SearchText(ctx context.Context, query string) ([]*types.Vinyl, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*types.Vinyl{}, nil
	}

	return s.derived(searchVinylTextKey(query), func() ([]*types.Vinyl, error) {
		return s.vinyls.SearchText(ctx, query)
	})
}

func (s *VinylService) GetByUploader(ctx context.Context, userID int) ([]*types.Vinyl, error) {
	return s.derived(uploaderKey(userID), func() ([]*types.Vinyl, error) {
		return s.vinyls.FindByUploader(ctx, userID)
	})
}

// derived serves a query result from the list cache, loading and tracking
// every member on a miss. A result whose load overlapped a write is returned
// but not kept: the write may already have run its invalidation.
func (s *VinylService) derived(key string, load func() ([]*types.Vinyl, error)) ([]*types.Vinyl, error) {
	if cached, ok := s.lists.Get(key); ok {
		return cached, nil
	}

	generation := s.tracker.Generation()
	vinyls, err := load()
	if err != nil {
		return nil, types.WrapError(err, "failed to query vinyls")
	}

	ids := make([]int, 0, len(vinyls))
	for _, v := range vinyls {
		ids = append(ids, v.ID)
	}

	// Put before tracking: a write landing between the two either sees the
	// key tracked or has advanced the generation.
	s.lists.Put(key, vinyls)
	if !s.tracker.TrackAllIfCurrent(generation, ids, key) {
		s.lists.Remove(key)
		s.logger.Debug("Vinyl query overlapped a write, not cached", zap.String("key", key))
		return vinyls, nil
	}

	s.logger.Debug("Vinyl query cached", zap.String("key", key), zap.Int("count", len(vinyls)))
	return vinyls, nil
}

func (s *VinylService) Create(ctx context.Context, input types.VinylInput) (*types.Vinyl, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if err := s.checkUploader(ctx, input.AddedByID); err != nil {
		return nil, err
	}

	saved, err := s.vinyls.Save(ctx, vinylFromInput(input))
	if err != nil {
		return nil, types.WrapError(err, "failed to save vinyl")
	}

	s.tracker.MarkWrite()
	s.single.Put(vinylKey(saved.ID), saved)
	s.forgetUploader(saved.AddedByID)
	if _, err := s.refreshAll(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("Vinyl created", zap.Int("id", saved.ID), zap.String("title", saved.Title))
	return saved, nil
}

// CreateBulk validates the whole batch before saving any of it.
func (s *VinylService) CreateBulk(ctx context.Context, inputs []types.VinylInput) ([]*types.Vinyl, error) {
	batch := make([]*types.Vinyl, 0, len(inputs))
	for i, input := range inputs {
		if err := validateInput(input); err != nil {
			return nil, types.WrapError(err, fmt.Sprintf("vinyl #%d", i))
		}
		if err := s.checkUploader(ctx, input.AddedByID); err != nil {
			return nil, err
		}
		batch = append(batch, vinylFromInput(input))
	}

	saved, err := s.vinyls.SaveAll(ctx, batch)
	if err != nil {
		return nil, types.WrapError(err, "failed to save vinyls")
	}

	s.tracker.MarkWrite()
	for _, v := range saved {
		s.single.Put(vinylKey(v.ID), v)
		s.forgetUploader(v.AddedByID)
	}
	if _, err := s.refreshAll(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("Vinyls created", zap.Int("count", len(saved)))
	return saved, nil
}

// Update replaces the descriptive fields. The uploader is never changed here.
func (s *VinylService) Update(ctx context.Context, id int, input types.VinylInput) (*types.Vinyl, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	current, err := s.vinyls.FindByID(ctx, id)
	if err != nil {
		if types.IsError(err, types.ErrNotFound) {
			return nil, types.Errorf(types.ErrVinylNotFound, "id %d", id)
		}
		return nil, types.WrapError(err, "failed to load vinyl")
	}

	next := vinylFromInput(input)
	next.ID = current.ID
	next.AddedByID = current.AddedByID

	saved, err := s.vinyls.Save(ctx, next)
	if err != nil {
		return nil, types.WrapError(err, "failed to save vinyl")
	}

	s.single.Put(vinylKey(id), saved)
	s.invalidateDerived(id)
	s.forgetUploader(saved.AddedByID)
	if _, err := s.refreshAll(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("Vinyl updated", zap.Int("id", id))
	return saved, nil
}

func (s *VinylService) Delete(ctx context.Context, id int) error {
	current, err := s.vinyls.FindByID(ctx, id)
	if err != nil {
		if types.IsError(err, types.ErrNotFound) {
			s.logger.Warn("Vinyl to delete not found", zap.Int("id", id))
			return types.Errorf(types.ErrVinylNotFound, "id %d", id)
		}
		return types.WrapError(err, "failed to load vinyl")
	}

	if err := s.vinyls.DeleteByID(ctx, id); err != nil {
		return types.WrapError(err, "failed to delete vinyl")
	}

	s.single.Remove(vinylKey(id))
	s.invalidateDerived(id)
	s.forgetUploader(current.AddedByID)
	if _, err := s.refreshAll(ctx); err != nil {
		return err
	}

	s.logger.Info("Vinyl deleted", zap.Int("id", id))
	return nil
}

// DetachUploader clears the uploader of every vinyl added by userID. It runs
// before the user itself is deleted.
func (s *VinylService) DetachUploader(ctx context.Context, userID int) ([]int, error) {
	ids, err := s.vinyls.DetachUploader(ctx, userID)
	if err != nil {
		return nil, types.WrapError(err, "failed to detach uploader")
	}

	for _, id := range ids {
		s.single.Remove(vinylKey(id))
		s.invalidateDerived(id)
	}
	s.tracker.MarkWrite()
	s.lists.Remove(uploaderKey(userID))
	if _, err := s.refreshAll(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("Uploader detached", zap.Int("user_id", userID), zap.Int("vinyls", len(ids)))
	return ids, nil
}

// Exists answers from the cache when it can.
func (s *VinylService) Exists(ctx context.Context, id int) (bool, error) {
	if s.single.Contains(vinylKey(id)) {
		return true, nil
	}
	return s.vinyls.ExistsByID(ctx, id)
}

// invalidateDerived drops every cached query result that contained id. The
// keys are removed before the id is untracked.
func (s *VinylService) invalidateDerived(id int) {
	s.tracker.MarkWrite()
	keys := s.tracker.KeysFor(id)
	for _, key := range keys {
		s.lists.Remove(key)
	}
	s.tracker.Untrack(id)

	if len(keys) > 0 {
		s.logger.Debug("Derived vinyl keys invalidated", zap.Int("id", id), zap.Strings("keys", keys))
	}
}

func (s *VinylService) forgetUploader(addedByID *int) {
	if addedByID != nil {
		s.lists.Remove(uploaderKey(*addedByID))
	}
}

func (s *VinylService) refreshAll(ctx context.Context) ([]*types.Vinyl, error) {
	vinyls, err := s.vinyls.FindAll(ctx)
	if err != nil {
		return nil, types.WrapError(err, "failed to load vinyls")
	}

	s.lists.Put(allVinylsKey, vinyls)
	return vinyls, nil
}

func (s *VinylService) checkUploader(ctx context.Context, addedByID *int) error {
	if addedByID == nil {
		return nil
	}

	if _, err := s.users.FindByID(ctx, *addedByID); err != nil {
		if types.IsError(err, types.ErrNotFound) {
			return types.Errorf(types.ErrUserNotFound, "uploader %d", *addedByID)
		}
		return types.WrapError(err, "failed to load uploader")
	}
	return nil
}

func vinylFromInput(input types.VinylInput) *types.Vinyl {
	vinyl := &types.Vinyl{
		Title:       input.Title,
		Artist:      input.Artist,
		Genre:       input.Genre,
		ReleaseYear: input.ReleaseYear,
		Description: input.Description,
		CoverURL:    input.CoverURL,
	}
	if input.AddedByID != nil {
		id := *input.AddedByID
		vinyl.AddedByID = &id
	}
	return vinyl
}

package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/saiset-co/vinyl-tracker/types"
)

// UserVinylService manages ownership links. Each link is cached twice: under
// its owner and under its vinyl.
type UserVinylService struct {
	logger  types.Logger
	links   types.UserVinylRepository
	byUser  types.Cache[string, []*types.UserVinyl]
	byVinyl types.Cache[string, []*types.UserVinyl]
}

func NewUserVinylService(logger types.Logger, links types.UserVinylRepository, caches *Caches) *UserVinylService {
	return &UserVinylService{
		logger:  logger,
		links:   links,
		byUser:  caches.UserVinyls,
		byVinyl: caches.VinylUsers,
	}
}

// Add creates or overwrites the link. Callers check that both sides exist.
func (s *UserVinylService) Add(ctx context.Context, userID, vinylID, statusID int) (*types.UserVinyl, error) {
	if !types.ValidStatus(statusID) {
		return nil, types.Errorf(types.ErrInvalidStatus, "status %d", statusID)
	}

	saved, err := s.links.Save(ctx, &types.UserVinyl{UserID: userID, VinylID: vinylID, StatusID: statusID})
	if err != nil {
		return nil, types.WrapError(err, "failed to save user vinyl")
	}

	s.forget(userID, vinylID)
	s.logger.Info("Vinyl linked to user", zap.Int("user_id", userID), zap.Int("vinyl_id", vinylID), zap.Int("status_id", statusID))
	return saved, nil
}

func (s *UserVinylService) UpdateStatus(ctx context.Context, userID, vinylID, statusID int) (*types.UserVinyl, error) {
	if !types.ValidStatus(statusID) {
		return nil, types.Errorf(types.ErrInvalidStatus, "status %d", statusID)
	}

	link, err := s.Find(ctx, userID, vinylID)
	if err != nil {
		return nil, err
	}

	link.StatusID = statusID
	saved, err := s.links.Save(ctx, link)
	if err != nil {
		return nil, types.WrapError(err, "failed to save user vinyl")
	}

	s.forget(userID, vinylID)
	s.logger.Info("User vinyl status updated", zap.Int("user_id", userID), zap.Int("vinyl_id", vinylID), zap.Int("status_id", statusID))
	return saved, nil
}

// Remove is a no-op for a link that does not exist.
func (s *UserVinylService) Remove(ctx context.Context, userID, vinylID int) error {
	if err := s.links.Delete(ctx, userID, vinylID); err != nil {
		return types.WrapError(err, "failed to delete user vinyl")
	}

	s.forget(userID, vinylID)
	s.logger.Info("Vinyl unlinked from user", zap.Int("user_id", userID), zap.Int("vinyl_id", vinylID))
	return nil
}

func (s *UserVinylService) Find(ctx context.Context, userID, vinylID int) (*types.UserVinyl, error) {
	link, err := s.links.Find(ctx, userID, vinylID)
	if err != nil {
		if types.IsError(err, types.ErrNotFound) {
			return nil, types.Errorf(types.ErrUserVinylNotFound, "user %d vinyl %d", userID, vinylID)
		}
		return nil, types.WrapError(err, "failed to load user vinyl")
	}
	return link, nil
}

func (s *UserVinylService) GetAll(ctx context.Context) ([]*types.UserVinyl, error) {
	links, err := s.links.FindAll(ctx)
	if err != nil {
		return nil, types.WrapError(err, "failed to load user vinyls")
	}
	return links, nil
}

func (s *UserVinylService) GetUserVinyls(ctx context.Context, userID int) ([]*types.UserVinyl, error) {
	key := userVinylsKey(userID)
	if cached, ok := s.byUser.Get(key); ok {
		return cached, nil
	}

	links, err := s.links.FindByUser(ctx, userID)
	if err != nil {
		return nil, types.WrapError(err, "failed to load user vinyls")
	}

	s.byUser.Put(key, links)
	return links, nil
}

func (s *UserVinylService) GetUsersByVinyl(ctx context.Context, vinylID int) ([]*types.UserVinyl, error) {
	key := vinylUsersKey(vinylID)
	if cached, ok := s.byVinyl.Get(key); ok {
		return cached, nil
	}

	links, err := s.links.FindByVinyl(ctx, vinylID)
	if err != nil {
		return nil, types.WrapError(err, "failed to load vinyl users")
	}

	s.byVinyl.Put(key, links)
	return links, nil
}

// RemoveAllByUser drops every link of the user and the per-vinyl keys of
// each vinyl it held.
func (s *UserVinylService) RemoveAllByUser(ctx context.Context, userID int) error {
	vinylIDs, err := s.links.DeleteByUser(ctx, userID)
	if err != nil {
		return types.WrapError(err, "failed to delete user vinyls")
	}

	s.byUser.Remove(userVinylsKey(userID))
	for _, vinylID := range vinylIDs {
		s.byVinyl.Remove(vinylUsersKey(vinylID))
	}

	s.logger.Info("User links removed", zap.Int("user_id", userID), zap.Int("count", len(vinylIDs)))
	return nil
}

func (s *UserVinylService) RemoveAllByVinyl(ctx context.Context, vinylID int) error {
	userIDs, err := s.links.DeleteByVinyl(ctx, vinylID)
	if err != nil {
		return types.WrapError(err, "failed to delete vinyl users")
	}

	s.byVinyl.Remove(vinylUsersKey(vinylID))
	for _, userID := range userIDs {
		s.byUser.Remove(userVinylsKey(userID))
	}

	s.logger.Info("Vinyl links removed", zap.Int("vinyl_id", vinylID), zap.Int("count", len(userIDs)))
	return nil
}

func (s *UserVinylService) forget(userID, vinylID int) {
	s.byUser.Remove(userVinylsKey(userID))
	s.byVinyl.Remove(vinylUsersKey(vinylID))
}

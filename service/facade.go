package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/saiset-co/vinyl-tracker/types"
)

// Facade runs the operations that span more than one entity.
type Facade struct {
	logger     types.Logger
	vinyls     *VinylService
	users      *UserService
	userVinyls *UserVinylService
}

func NewFacade(logger types.Logger, vinyls *VinylService, users *UserService, userVinyls *UserVinylService) *Facade {
	return &Facade{
		logger:     logger,
		vinyls:     vinyls,
		users:      users,
		userVinyls: userVinyls,
	}
}

// AddVinylToUser checks the user, the vinyl and the status before linking.
func (f *Facade) AddVinylToUser(ctx context.Context, userID, vinylID, statusID int) (*types.UserVinyl, error) {
	if err := f.checkPair(ctx, userID, vinylID); err != nil {
		return nil, err
	}
	return f.userVinyls.Add(ctx, userID, vinylID, statusID)
}

func (f *Facade) UpdateVinylStatus(ctx context.Context, userID, vinylID, statusID int) (*types.UserVinyl, error) {
	return f.userVinyls.UpdateStatus(ctx, userID, vinylID, statusID)
}

func (f *Facade) RemoveVinylFromUser(ctx context.Context, userID, vinylID int) error {
	return f.userVinyls.Remove(ctx, userID, vinylID)
}

func (f *Facade) GetUserVinyls(ctx context.Context, userID int) ([]*types.UserVinyl, error) {
	if _, err := f.users.Get(ctx, userID); err != nil {
		return nil, err
	}
	return f.userVinyls.GetUserVinyls(ctx, userID)
}

func (f *Facade) GetUsersByVinyl(ctx context.Context, vinylID int) ([]*types.UserVinyl, error) {
	if _, err := f.vinyls.Get(ctx, vinylID); err != nil {
		return nil, err
	}
	return f.userVinyls.GetUsersByVinyl(ctx, vinylID)
}

// DeleteVinyl removes the ownership links first, then the vinyl.
func (f *Facade) DeleteVinyl(ctx context.Context, vinylID int) error {
	if _, err := f.vinyls.Get(ctx, vinylID); err != nil {
		return err
	}

	if err := f.userVinyls.RemoveAllByVinyl(ctx, vinylID); err != nil {
		return err
	}
	return f.vinyls.Delete(ctx, vinylID)
}

// DeleteUser detaches the user's uploads, removes its links, then the user.
func (f *Facade) DeleteUser(ctx context.Context, userID int) error {
	if _, err := f.users.Get(ctx, userID); err != nil {
		return err
	}

	detached, err := f.vinyls.DetachUploader(ctx, userID)
	if err != nil {
		return err
	}
	if err := f.userVinyls.RemoveAllByUser(ctx, userID); err != nil {
		return err
	}
	if err := f.users.Delete(ctx, userID); err != nil {
		return err
	}

	f.logger.Info("User removed with dependents", zap.Int("user_id", userID), zap.Int("detached_vinyls", len(detached)))
	return nil
}

func (f *Facade) checkPair(ctx context.Context, userID, vinylID int) error {
	if err := validateID("user id", userID); err != nil {
		return err
	}
	if err := validateID("vinyl id", vinylID); err != nil {
		return err
	}

	if _, err := f.users.Get(ctx, userID); err != nil {
		return err
	}
	if _, err := f.vinyls.Get(ctx, vinylID); err != nil {
		return err
	}
	return nil
}

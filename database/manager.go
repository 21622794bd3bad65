package database

import (
	"go.uber.org/zap"

	"github.com/saiset-co/vinyl-tracker/types"
)

// NewStore opens the backend named by config.Type. The store is returned
// stopped; Start it before use.
func NewStore(logger types.Logger, config *types.DatabaseConfig) (types.Store, error) {
	var (
		store types.Store
		err   error
	)

	switch config.Type {
	case "", "memory":
		store = NewMemoryStore(logger)
	case "clover":
		store, err = NewCloverStore(logger, config)
	case "sqlite":
		store, err = NewSQLiteStore(logger, config)
	default:
		return nil, types.Errorf(types.ErrStoreTypeUnknown, "type: %s", config.Type)
	}

	if err != nil {
		return nil, err
	}

	logger.Info("Store initialized", zap.String("type", config.Type), zap.String("path", config.Path))
	return store, nil
}

func cloneVinyl(v *types.Vinyl) *types.Vinyl {
	out := *v
	if v.AddedByID != nil {
		id := *v.AddedByID
		out.AddedByID = &id
	}
	return &out
}

func cloneUser(u *types.User) *types.User {
	out := *u
	return &out
}

func cloneLink(l *types.UserVinyl) *types.UserVinyl {
	out := *l
	return &out
}

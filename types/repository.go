package types

import "context"

// Store is the authoritative persistence backend. It is the single source of
// truth consulted on every cache miss and every write.
type Store interface {
	LifecycleManager
	Vinyls() VinylRepository
	Users() UserRepository
	UserVinyls() UserVinylRepository
	Ping(ctx context.Context) error
}

type VinylRepository interface {
	FindAll(ctx context.Context) ([]*Vinyl, error)
	FindByID(ctx context.Context, id int) (*Vinyl, error)
	ExistsByID(ctx context.Context, id int) (bool, error)
	Search(ctx context.Context, filter VinylFilter) ([]*Vinyl, error)
	SearchText(ctx context.Context, query string) ([]*Vinyl, error)
	FindByUploader(ctx context.Context, userID int) ([]*Vinyl, error)
	Save(ctx context.Context, vinyl *Vinyl) (*Vinyl, error)
	SaveAll(ctx context.Context, vinyls []*Vinyl) ([]*Vinyl, error)
	DeleteByID(ctx context.Context, id int) error
	DetachUploader(ctx context.Context, userID int) ([]int, error)
}

type UserRepository interface {
	FindAll(ctx context.Context) ([]*User, error)
	FindByID(ctx context.Context, id int) (*User, error)
	FindByUsername(ctx context.Context, username string) ([]*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	Save(ctx context.Context, user *User) (*User, error)
	DeleteByID(ctx context.Context, id int) error
}

type UserVinylRepository interface {
	FindAll(ctx context.Context) ([]*UserVinyl, error)
	Find(ctx context.Context, userID, vinylID int) (*UserVinyl, error)
	FindByUser(ctx context.Context, userID int) ([]*UserVinyl, error)
	FindByVinyl(ctx context.Context, vinylID int) ([]*UserVinyl, error)
	Save(ctx context.Context, link *UserVinyl) (*UserVinyl, error)
	Delete(ctx context.Context, userID, vinylID int) error
	DeleteByUser(ctx context.Context, userID int) ([]int, error)
	DeleteByVinyl(ctx context.Context, vinylID int) ([]int, error)
}

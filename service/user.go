package service

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/saiset-co/vinyl-tracker/types"
)

type UserService struct {
	logger     types.Logger
	users      types.UserRepository
	single     types.Cache[string, *types.User]
	list       types.Cache[string, []*types.User]
	byUsername types.Cache[string, []*types.User]
	hashCost   int
}

func NewUserService(logger types.Logger, users types.UserRepository, caches *Caches) *UserService {
	return &UserService{
		logger:     logger,
		users:      users,
		single:     caches.User,
		list:       caches.UserList,
		byUsername: caches.UserByUsername,
		hashCost:   bcrypt.DefaultCost,
	}
}

func (s *UserService) GetAll(ctx context.Context) ([]*types.User, error) {
	if cached, ok := s.list.Get(allUsersKey); ok {
		return cached, nil
	}
	return s.refreshAll(ctx)
}

func (s *UserService) Get(ctx context.Context, id int) (*types.User, error) {
	key := userKey(id)
	if cached, ok := s.single.Get(key); ok {
		return cached, nil
	}

	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	s.single.Put(key, user)
	s.logger.Debug("User cached", zap.Int("id", id))
	return user, nil
}

// GetByUsername caches empty results too; a later Create for that name
// overwrites the key.
func (s *UserService) GetByUsername(ctx context.Context, username string) ([]*types.User, error) {
	key := usernameKey(username)
	if cached, ok := s.byUsername.Get(key); ok {
		return cached, nil
	}

	users, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, types.WrapError(err, "failed to query users by username")
	}

	s.byUsername.Put(key, users)
	return users, nil
}

// GetByEmail always goes to the store.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if types.IsError(err, types.ErrNotFound) {
			return nil, types.Errorf(types.ErrUserNotFound, "email %s", email)
		}
		return nil, types.WrapError(err, "failed to load user by email")
	}
	return user, nil
}

func (s *UserService) Create(ctx context.Context, input types.UserInput) (*types.User, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Password) == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "password is required")
	}

	if taken, err := s.users.ExistsByEmail(ctx, input.Email); err != nil {
		return nil, types.WrapError(err, "failed to check email")
	} else if taken {
		s.logger.Warn("Email already taken", zap.String("email", input.Email))
		return nil, types.Errorf(types.ErrEmailTaken, "%s", input.Email)
	}

	if taken, err := s.users.ExistsByUsername(ctx, input.Username); err != nil {
		return nil, types.WrapError(err, "failed to check username")
	} else if taken {
		s.logger.Warn("Username already taken", zap.String("username", input.Username))
		return nil, types.Errorf(types.ErrUsernameTaken, "%s", input.Username)
	}

	hash, err := s.hashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	saved, err := s.users.Save(ctx, &types.User{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: hash,
		RoleID:       input.RoleID,
	})
	if err != nil {
		return nil, types.WrapError(err, "failed to save user")
	}

	if err := s.cacheWritten(ctx, saved, ""); err != nil {
		return nil, err
	}

	s.logger.Info("User created", zap.Int("id", saved.ID), zap.String("username", saved.Username))
	return saved, nil
}

// Update replaces username, email and role. The password changes only when
// a new one is supplied.
func (s *UserService) Update(ctx context.Context, id int, input types.UserInput) (*types.User, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(current.Email, input.Email) {
		if taken, err := s.users.ExistsByEmail(ctx, input.Email); err != nil {
			return nil, types.WrapError(err, "failed to check email")
		} else if taken {
			return nil, types.Errorf(types.ErrEmailTaken, "%s", input.Email)
		}
	}
	if current.Username != input.Username {
		if taken, err := s.users.ExistsByUsername(ctx, input.Username); err != nil {
			return nil, types.WrapError(err, "failed to check username")
		} else if taken {
			return nil, types.Errorf(types.ErrUsernameTaken, "%s", input.Username)
		}
	}

	next := *current
	next.Username = input.Username
	next.Email = input.Email
	next.RoleID = input.RoleID
	if strings.TrimSpace(input.Password) != "" {
		if next.PasswordHash, err = s.hashPassword(input.Password); err != nil {
			return nil, err
		}
	}

	saved, err := s.users.Save(ctx, &next)
	if err != nil {
		return nil, types.WrapError(err, "failed to save user")
	}

	if err := s.cacheWritten(ctx, saved, current.Username); err != nil {
		return nil, err
	}

	s.logger.Info("User updated", zap.Int("id", id))
	return saved, nil
}

func (s *UserService) UpdateRole(ctx context.Context, id, roleID int) (*types.User, error) {
	if roleID < 0 {
		return nil, types.Errorf(types.ErrInvalidParameter, "role id %d", roleID)
	}

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	current.RoleID = roleID
	saved, err := s.users.Save(ctx, current)
	if err != nil {
		return nil, types.WrapError(err, "failed to save user")
	}

	if err := s.cacheWritten(ctx, saved, saved.Username); err != nil {
		return nil, err
	}

	s.logger.Info("User role updated", zap.Int("id", id), zap.Int("role_id", roleID))
	return saved, nil
}

// Delete removes only the user record. Use Facade.DeleteUser to also clean
// up ownership links and uploaded vinyls.
func (s *UserService) Delete(ctx context.Context, id int) error {
	current, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	if err := s.users.DeleteByID(ctx, id); err != nil {
		return types.WrapError(err, "failed to delete user")
	}

	s.single.Remove(userKey(id))
	s.byUsername.Remove(usernameKey(current.Username))
	if _, err := s.refreshAll(ctx); err != nil {
		return err
	}

	s.logger.Info("User deleted", zap.Int("id", id))
	return nil
}

// Authenticate checks a plain password against the stored hash.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*types.User, error) {
	user, err := s.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "wrong credentials for %s", email)
	}
	return user, nil
}

func (s *UserService) cacheWritten(ctx context.Context, user *types.User, previousUsername string) error {
	s.single.Put(userKey(user.ID), user)
	if previousUsername != "" && previousUsername != user.Username {
		s.byUsername.Remove(usernameKey(previousUsername))
	}
	s.byUsername.Put(usernameKey(user.Username), []*types.User{user})

	_, err := s.refreshAll(ctx)
	return err
}

func (s *UserService) load(ctx context.Context, id int) (*types.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if types.IsError(err, types.ErrNotFound) {
			s.logger.Warn("User not found", zap.Int("id", id))
			return nil, types.Errorf(types.ErrUserNotFound, "id %d", id)
		}
		return nil, types.WrapError(err, "failed to load user")
	}
	return user, nil
}

func (s *UserService) refreshAll(ctx context.Context) ([]*types.User, error) {
	users, err := s.users.FindAll(ctx)
	if err != nil {
		return nil, types.WrapError(err, "failed to load users")
	}

	s.list.Put(allUsersKey, users)
	return users, nil
}

func (s *UserService) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return "", types.WrapError(err, "failed to hash password")
	}
	return string(hash), nil
}

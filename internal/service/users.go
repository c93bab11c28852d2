package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"go-identity-service/internal/model"
	"go-identity-service/internal/storage"
	"go-identity-service/pkg/apierror"
)

type UserOptions struct {
	ProfileImageMaxBytes int64
	ProfileImageMaxDim   int
}

type UserService struct {
	users    UserRepository
	images   ImageStore
	recorder AuthRecorder
	logger   *slog.Logger

	maxImageBytes int64
	maxImageDim   int
}

func NewUserService(users UserRepository, images ImageStore, recorder AuthRecorder, logger *slog.Logger, opts UserOptions) *UserService {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if opts.ProfileImageMaxBytes <= 0 {
		opts.ProfileImageMaxBytes = 5 << 20
	}
	if opts.ProfileImageMaxDim <= 0 {
		opts.ProfileImageMaxDim = 512
	}

	return &UserService{
		users:         users,
		images:        images,
		recorder:      recorder,
		logger:        logger,
		maxImageBytes: opts.ProfileImageMaxBytes,
		maxImageDim:   opts.ProfileImageMaxDim,
	}
}

func (s *UserService) List(ctx context.Context) ([]model.PublicUser, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fail(s.logger, "list users", err)
	}
	return model.PublicUsers(users), nil
}

func (s *UserService) ListByRole(ctx context.Context, rawRole string) ([]model.PublicUser, error) {
	role, ok := model.ParseRole(rawRole)
	if !ok {
		return nil, apierror.BadRequest("invalid role", rawRole)
	}

	users, err := s.users.ListByRole(ctx, role)
	if err != nil {
		return nil, fail(s.logger, "list users by role", err)
	}
	return model.PublicUsers(users), nil
}

func (s *UserService) GetByID(ctx context.Context, id string) (model.PublicUser, error) {
	user, err := s.find(ctx, id)
	if err != nil {
		return model.PublicUser{}, err
	}
	return user.Public(), nil
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (model.PublicUser, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.PublicUser{}, apierror.NotFound("user not found", username)
	}
	if err != nil {
		return model.PublicUser{}, fail(s.logger, "find user by username", err)
	}
	return user.Public(), nil
}

func (s *UserService) find(ctx context.Context, id string) (model.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.User{}, apierror.NotFound("user not found", id)
	}
	if err != nil {
		return model.User{}, fail(s.logger, "find user", err)
	}
	return user, nil
}

// Update applies patch to the account id. Role changes are reserved for a
// super-admin and can only target user or admin; super-admin accounts can
// only be edited by a super-admin.
func (s *UserService) Update(ctx context.Context, actor model.AuthClaims, id string, patch model.UserPatch) (model.PublicUser, error) {
	if patch.Empty() {
		return model.PublicUser{}, apierror.BadRequest("no fields to update", "")
	}

	actorIsSuper := actor.User.Role == model.RoleSuperAdmin
	if patch.Role != nil {
		if !actorIsSuper {
			return model.PublicUser{}, apierror.Forbidden("only a super admin can change roles")
		}
		if *patch.Role != model.RoleUser && *patch.Role != model.RoleAdmin {
			return model.PublicUser{}, apierror.BadRequest("role must be user or admin", string(*patch.Role))
		}
	}

	user, err := s.find(ctx, id)
	if err != nil {
		return model.PublicUser{}, err
	}
	if user.Role == model.RoleSuperAdmin && !actorIsSuper {
		return model.PublicUser{}, apierror.Forbidden("insufficient permissions")
	}
	if user.Role == model.RoleSuperAdmin && patch.Role != nil {
		return model.PublicUser{}, apierror.Forbidden("the super admin role cannot be changed")
	}

	if patch.Username != nil {
		username := strings.TrimSpace(*patch.Username)
		if !validUsername(username) {
			return model.PublicUser{}, apierror.BadRequest("invalid username", username)
		}
		taken, err := s.users.ExistsByUsername(ctx, username, user.ID)
		if err != nil {
			return model.PublicUser{}, fail(s.logger, "check username availability", err)
		}
		if taken {
			return model.PublicUser{}, apierror.Conflict("username already taken", username)
		}
		user.Username = username
	}

	if patch.Email != nil {
		email, ok := parseEmail(*patch.Email)
		if !ok {
			return model.PublicUser{}, apierror.BadRequest("invalid email address", *patch.Email)
		}
		taken, err := s.users.ExistsByEmail(ctx, email, user.ID)
		if err != nil {
			return model.PublicUser{}, fail(s.logger, "check email availability", err)
		}
		if taken {
			return model.PublicUser{}, apierror.Conflict("email already registered", email)
		}
		user.Email = email
	}

	if patch.Role != nil {
		user.Role = *patch.Role
	}

	err = s.users.Update(ctx, user)
	switch {
	case errors.Is(err, model.ErrUserAlreadyExists):
		return model.PublicUser{}, apierror.Conflict("email or username already registered", "")
	case errors.Is(err, model.ErrUserNotFound):
		return model.PublicUser{}, apierror.NotFound("user not found", id)
	case err != nil:
		return model.PublicUser{}, fail(s.logger, "update user", err)
	}

	s.logger.InfoContext(ctx, "user updated", "user_id", user.ID, "actor_id", actor.UserID)
	return s.GetByID(ctx, user.ID)
}

func (s *UserService) Delete(ctx context.Context, actor model.AuthClaims, id string) error {
	user, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if user.Role == model.RoleSuperAdmin && actor.User.Role != model.RoleSuperAdmin {
		return apierror.Forbidden("insufficient permissions")
	}

	err = s.users.Delete(ctx, id)
	if errors.Is(err, model.ErrUserNotFound) {
		return apierror.NotFound("user not found", id)
	}
	if err != nil {
		return fail(s.logger, "delete user", err)
	}

	if user.ProfileImage != nil {
		s.dropImage(ctx, *user.ProfileImage)
	}

	s.recorder.AuthEvent("delete_user", true)
	s.logger.InfoContext(ctx, "user deleted", "user_id", id, "actor_id", actor.UserID)
	return nil
}

// UpdateProfileImage normalizes the upload to a bounded JPEG, stores it
// under a fresh key and drops the previous image.
func (s *UserService) UpdateProfileImage(ctx context.Context, id string, upload io.Reader) (model.PublicUser, error) {
	user, err := s.find(ctx, id)
	if err != nil {
		return model.PublicUser{}, err
	}

	data, err := storage.NormalizeProfileImage(upload, s.maxImageBytes, s.maxImageDim)
	if err != nil {
		return model.PublicUser{}, fail(s.logger, "normalize profile image", err)
	}

	key := fmt.Sprintf("profiles/%s/%s.jpg", user.ID, uuid.NewString())
	if err := s.images.Put(ctx, key, data, storage.ProfileImageContentType); err != nil {
		return model.PublicUser{}, fail(s.logger, "store profile image", err)
	}

	err = s.users.UpdateProfileImage(ctx, user.ID, key)
	if err != nil {
		s.dropImage(ctx, key)
		if errors.Is(err, model.ErrUserNotFound) {
			return model.PublicUser{}, apierror.NotFound("user not found", id)
		}
		return model.PublicUser{}, fail(s.logger, "update profile image", err)
	}

	if user.ProfileImage != nil && *user.ProfileImage != key {
		s.dropImage(ctx, *user.ProfileImage)
	}

	user.ProfileImage = &key
	s.logger.InfoContext(ctx, "profile image updated", "user_id", user.ID, "bytes", len(data))
	return user.Public(), nil
}

// ProfileImage opens the stored image of account id. Callers close it.
func (s *UserService) ProfileImage(ctx context.Context, id string) (io.ReadCloser, error) {
	user, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.ProfileImage == nil {
		return nil, apierror.NotFound("profile image not found", id)
	}

	rc, err := s.images.Open(ctx, *user.ProfileImage)
	if errors.Is(err, model.ErrImageNotFound) {
		return nil, apierror.NotFound("profile image not found", id)
	}
	if err != nil {
		return nil, fail(s.logger, "open profile image", err)
	}
	return rc, nil
}

func (s *UserService) dropImage(ctx context.Context, key string) {
	if err := s.images.Delete(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "profile image cleanup failed", "key", key, "error", err)
	}
}

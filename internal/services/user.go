package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/storefront/apiserver/internal/store"
	"github.com/storefront/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

// UpdateProfileInput holds the editable profile fields.
type UpdateProfileInput struct {
	Name string `json:"name" validate:"max=200"`
}

// ChangePasswordInput is the password change payload.
type ChangePasswordInput struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72,password"`
}

// UserService encapsulates account self-service use-cases.
type UserService struct {
	repo   UserRepository
	tokens RefreshTokenRepository
	logger *slog.Logger
}

func NewUserService(repo UserRepository, tokens RefreshTokenRepository, logger *slog.Logger) *UserService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{repo: repo, tokens: tokens, logger: logger}
}

func (s *UserService) GetByID(ctx context.Context, id int64) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, notFound("user not found")
		}
		return types.User{}, internalError("load user", err)
	}
	return user, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, id int64, in UpdateProfileInput) (types.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateStruct(in); err != nil {
		return types.User{}, err
	}

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	user.Name = in.Name

	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, notFound("user not found")
		}
		return types.User{}, internalError("update user", err)
	}
	return updated, nil
}

// ChangePassword replaces the password hash and signs the user out of
// every session.
func (s *UserService) ChangePassword(ctx context.Context, id int64, in ChangePasswordInput) error {
	if err := validateStruct(in); err != nil {
		return err
	}

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.CurrentPassword)); err != nil {
		return validationError("current password is incorrect", map[string]any{"current_password": "mismatch"})
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return internalError("hash password", err)
	}
	user.PasswordHash = string(hashed)
	if _, err := s.repo.Update(ctx, user); err != nil {
		return internalError("update password", err)
	}

	if _, err := s.tokens.RevokeAllForUser(ctx, id); err != nil {
		return internalError("revoke sessions", err)
	}
	s.logger.InfoContext(ctx, "password changed", slog.Int64("user_id", id))
	return nil
}

// Deactivate soft-deletes the account. Rows referencing the user are kept.
func (s *UserService) Deactivate(ctx context.Context, id int64) error {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if user.Active {
		user.Active = false
		if _, err := s.repo.Update(ctx, user); err != nil {
			return internalError("deactivate user", err)
		}
	}
	if _, err := s.tokens.RevokeAllForUser(ctx, id); err != nil {
		return internalError("revoke sessions", err)
	}
	s.logger.InfoContext(ctx, "user deactivated", slog.Int64("user_id", id))
	return nil
}

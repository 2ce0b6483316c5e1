package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/storefront/apiserver/internal/store"
	"github.com/storefront/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const tokenTypeBearer = "Bearer"

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
}

// RefreshTokenRepository defines persistence operations for refresh tokens.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token types.RefreshToken) (types.RefreshToken, error)
	GetByHash(ctx context.Context, hash string) (types.RefreshToken, error)
	Rotate(ctx context.Context, oldHash string, next types.RefreshToken, now time.Time) (types.RefreshToken, error)
	Revoke(ctx context.Context, hash string, userID int64) error
	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	Email    string     `json:"email" validate:"required,email,max=254"`
	Password string     `json:"password" validate:"required,min=8,max=72,password"`
	Name     string     `json:"name" validate:"max=200"`
	Role     types.Role `json:"role" validate:"omitempty,oneof=buyer seller"`
}

// Session is the result of a successful login or refresh.
type Session struct {
	User types.User `json:"user"`
	types.TokenPair
}

// AuthService registers users and manages access and refresh credentials.
type AuthService struct {
	users      UserRepository
	tokens     RefreshTokenRepository
	manager    *TokenManager
	logger     *slog.Logger
	bcryptCost int
	now        func() time.Time

	// dummyHash is compared against on unknown emails so that login takes
	// the same time whether or not the account exists.
	dummyHash []byte
}

func NewAuthService(users UserRepository, tokens RefreshTokenRepository, manager *TokenManager, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("storefront-dummy-password"), bcrypt.DefaultCost)
	return &AuthService{
		users:      users,
		tokens:     tokens,
		manager:    manager,
		logger:     logger,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
		dummyHash:  dummy,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a new account with a salted bcrypt hash.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (types.User, error) {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := validateStruct(in); err != nil {
		return types.User{}, err
	}
	if in.Role == "" {
		in.Role = types.RoleBuyer
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return types.User{}, internalError("hash password", err)
	}

	user, err := s.users.Create(ctx, types.User{
		Email:        in.Email,
		Name:         in.Name,
		Role:         in.Role,
		PasswordHash: string(hashed),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, conflict("email already registered", map[string]any{"email": "taken"})
		}
		return types.User{}, internalError("create user", err)
	}

	s.logger.InfoContext(ctx, "user registered", slog.Int64("user_id", user.ID), slog.String("role", string(user.Role)))
	return user, nil
}

// Login verifies credentials and issues an access and a refresh token.
func (s *AuthService) Login(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, validationError("missing credentials", nil)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return Session{}, unauthorized("invalid credentials")
		}
		return Session{}, internalError("load user", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, unauthorized("invalid credentials")
	}
	if !user.Active {
		return Session{}, unauthorized("invalid credentials")
	}

	raw, hash, expiresAt, err := s.manager.NewRefreshToken()
	if err != nil {
		return Session{}, internalError("generate refresh token", err)
	}
	if _, err := s.tokens.Create(ctx, types.RefreshToken{
		UserID:    user.ID,
		TokenHash: hash,
		ExpiresAt: expiresAt,
	}); err != nil {
		return Session{}, internalError("store refresh token", err)
	}

	return s.session(user, raw, expiresAt)
}

// Refresh validates a refresh token, rotates it and issues a new access token.
// Presenting a token that was already rotated or revoked revokes every
// refresh token of its owner.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Session{}, unauthorized("invalid refresh token")
	}
	hash := s.manager.HashRefreshToken(refreshToken)

	current, err := s.tokens.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, unauthorized("invalid refresh token")
		}
		return Session{}, internalError("load refresh token", err)
	}
	if current.Revoked {
		revoked, err := s.tokens.RevokeAllForUser(ctx, current.UserID)
		if err != nil {
			s.logger.ErrorContext(ctx, "revoke sessions after token reuse failed", slog.Int64("user_id", current.UserID), slog.Any("error", err))
		} else {
			s.logger.WarnContext(ctx, "refresh token reuse detected", slog.Int64("user_id", current.UserID), slog.Int64("revoked", revoked))
		}
		return Session{}, unauthorized("invalid refresh token")
	}
	if current.Expired(s.now()) {
		return Session{}, unauthorized("refresh token expired")
	}

	user, err := s.users.GetByID(ctx, current.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, unauthorized("invalid refresh token")
		}
		return Session{}, internalError("load user", err)
	}
	if !user.Active {
		return Session{}, unauthorized("account is deactivated")
	}

	raw, nextHash, expiresAt, err := s.manager.NewRefreshToken()
	if err != nil {
		return Session{}, internalError("generate refresh token", err)
	}
	if _, err := s.tokens.Rotate(ctx, hash, types.RefreshToken{
		UserID:    user.ID,
		TokenHash: nextHash,
		ExpiresAt: expiresAt,
	}, s.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, unauthorized("invalid refresh token")
		}
		return Session{}, internalError("rotate refresh token", err)
	}

	return s.session(user, raw, expiresAt)
}

// Logout revokes the caller's refresh token. It is idempotent.
func (s *AuthService) Logout(ctx context.Context, userID int64, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return validationError("refresh token is required", map[string]any{"refresh_token": "required"})
	}
	if err := s.tokens.Revoke(ctx, s.manager.HashRefreshToken(refreshToken), userID); err != nil {
		return internalError("revoke refresh token", err)
	}
	return nil
}

// Authenticate verifies an access token.
func (s *AuthService) Authenticate(accessToken string) (Principal, error) {
	principal, err := s.manager.ParseAccess(accessToken)
	if err != nil {
		return Principal{}, unauthorized("invalid access token")
	}
	return principal, nil
}

func (s *AuthService) session(user types.User, refreshToken string, refreshExpiresAt time.Time) (Session, error) {
	access, accessExpiresAt, err := s.manager.IssueAccess(user)
	if err != nil {
		return Session{}, internalError("sign access token", err)
	}
	return Session{
		User: user,
		TokenPair: types.TokenPair{
			AccessToken:           access,
			AccessTokenExpiresAt:  accessExpiresAt,
			RefreshToken:          refreshToken,
			RefreshTokenExpiresAt: refreshExpiresAt,
			TokenType:             tokenTypeBearer,
		},
	}, nil
}

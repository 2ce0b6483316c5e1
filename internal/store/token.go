package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/storefront/apiserver/types"
)

// RefreshTokenRepository handles persistence for refresh tokens.
type RefreshTokenRepository struct {
	db *sql.DB
}

func NewRefreshTokenRepository(db *sql.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func (r *RefreshTokenRepository) Create(ctx context.Context, token types.RefreshToken) (types.RefreshToken, error) {
	return insertRefreshToken(ctx, r.db, token)
}

func (r *RefreshTokenRepository) GetByHash(ctx context.Context, hash string) (types.RefreshToken, error) {
	const query = `
		SELECT id, user_id, token_hash, expires_at, revoked, created_at
		FROM refresh_tokens
		WHERE token_hash = $1`
	var token types.RefreshToken
	err := r.db.QueryRowContext(ctx, query, hash).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.ExpiresAt,
		&token.Revoked,
		&token.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.RefreshToken{}, ErrNotFound
		}
		return types.RefreshToken{}, err
	}
	return token, nil
}

// Rotate revokes the token identified by oldHash and stores next for the same
// user in one transaction. It returns ErrNotFound when the old token is
// unknown, already revoked or expired at now.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldHash string, next types.RefreshToken, now time.Time) (types.RefreshToken, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.RefreshToken{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const revokeQuery = `
		UPDATE refresh_tokens
		SET revoked = TRUE
		WHERE token_hash = $1 AND revoked = FALSE AND expires_at > $2
		RETURNING user_id`
	if err := tx.QueryRowContext(ctx, revokeQuery, oldHash, now).Scan(&next.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.RefreshToken{}, ErrNotFound
		}
		return types.RefreshToken{}, fmt.Errorf("revoke refresh token: %w", err)
	}

	created, err := insertRefreshToken(ctx, tx, next)
	if err != nil {
		return types.RefreshToken{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.RefreshToken{}, err
	}
	return created, nil
}

// Revoke marks the token revoked if it belongs to userID. Revoking an unknown
// or already revoked token is not an error.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, hash string, userID int64) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE WHERE token_hash = $1 AND user_id = $2`
	_, err := r.db.ExecContext(ctx, query, hash, userID)
	return err
}

// RevokeAllForUser revokes every live token of the user and returns how many
// were revoked.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	const query = `UPDATE refresh_tokens SET revoked = TRUE WHERE user_id = $1 AND revoked = FALSE`
	result, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertRefreshToken(ctx context.Context, q queryRower, token types.RefreshToken) (types.RefreshToken, error) {
	token.CreatedAt = time.Now()
	token.Revoked = false

	const query = `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	if err := q.QueryRowContext(
		ctx,
		query,
		token.UserID,
		token.TokenHash,
		token.ExpiresAt,
		token.Revoked,
		token.CreatedAt,
	).Scan(&token.ID); err != nil {
		if isUniqueViolation(err) {
			return types.RefreshToken{}, ErrConflict
		}
		return types.RefreshToken{}, err
	}
	return token, nil
}

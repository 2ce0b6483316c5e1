package services

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/storefront/apiserver/config"
	"github.com/storefront/apiserver/types"
)

const refreshTokenBytes = 32

// Principal is the authenticated caller extracted from an access token.
type Principal struct {
	UserID int64
	Role   types.Role
}

// HasRole reports whether the principal holds one of roles.
func (p Principal) HasRole(roles ...types.Role) bool {
	for _, role := range roles {
		if p.Role == role {
			return true
		}
	}
	return false
}

// AccessClaims are the JWT claims of an access token.
type AccessClaims struct {
	Role types.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager issues self-verifying access tokens and opaque refresh tokens.
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

// NewTokenManager builds a TokenManager from auth config. The refresh secret
// falls back to the access secret when unset.
func NewTokenManager(cfg config.AuthConfig) (*TokenManager, error) {
	accessSecret := strings.TrimSpace(cfg.AccessSecret)
	if accessSecret == "" {
		return nil, errors.New("JWT_ACCESS_SECRET is required")
	}
	refreshSecret := strings.TrimSpace(cfg.RefreshSecret)
	if refreshSecret == "" {
		refreshSecret = accessSecret
	}

	accessTTL := cfg.AccessTTL
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	refreshTTL := cfg.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}

	return &TokenManager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		issuer:        cfg.Issuer,
		now:           time.Now,
	}, nil
}

// IssueAccess signs an HS256 access token for user.
func (m *TokenManager) IssueAccess(user types.User) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.accessTTL)
	claims := AccessClaims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.accessSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseAccess verifies an access token and returns its principal.
func (m *TokenManager) ParseAccess(tokenString string) (Principal, error) {
	claims := AccessClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return m.accessSecret, nil
	}, opts...)
	if err != nil {
		return Principal{}, err
	}
	if !token.Valid {
		return Principal{}, errors.New("invalid token")
	}

	userID, err := strconv.ParseInt(strings.TrimSpace(claims.Subject), 10, 64)
	if err != nil || userID < 1 {
		return Principal{}, errors.New("invalid subject")
	}
	if !claims.Role.Valid() {
		return Principal{}, errors.New("invalid role")
	}
	return Principal{UserID: userID, Role: claims.Role}, nil
}

// NewRefreshToken returns a random refresh token, its storage hash and expiry.
func (m *TokenManager) NewRefreshToken() (raw, hash string, expiresAt time.Time, err error) {
	var buf [refreshTokenBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", "", time.Time{}, err
	}
	raw = base64.RawURLEncoding.EncodeToString(buf[:])
	return raw, m.HashRefreshToken(raw), m.now().Add(m.refreshTTL), nil
}

// HashRefreshToken is the keyed hash stored in place of the raw token.
func (m *TokenManager) HashRefreshToken(raw string) string {
	mac := hmac.New(sha256.New, m.refreshSecret)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/storefront/apiserver/internal/services"
	"github.com/storefront/apiserver/types"
)

type contextKey string

const contextPrincipalKey contextKey = "principal"

// Authenticator verifies access tokens.
type Authenticator interface {
	Authenticate(accessToken string) (services.Principal, error)
}

// AuthMiddleware authenticates bearer tokens and enforces roles.
type AuthMiddleware struct {
	authn Authenticator
	responder
}

func NewAuthMiddleware(authn Authenticator, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{authn: authn, responder: newResponder(logger)}
}

// PrincipalFromContext returns the caller injected by RequireAuth or OptionalAuth.
func PrincipalFromContext(ctx context.Context) (services.Principal, bool) {
	principal, ok := ctx.Value(contextPrincipalKey).(services.Principal)
	return principal, ok && principal.UserID > 0
}

func withPrincipal(ctx context.Context, principal services.Principal) context.Context {
	return context.WithValue(ctx, contextPrincipalKey, principal)
}

// RequireAuth rejects requests without a valid access token.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			writeError(w, &services.Error{Code: services.CodeUnauthorized, Message: "missing or malformed authorization header"})
			return
		}

		principal, err := m.authn.Authenticate(tokenString)
		if err != nil {
			m.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}

// OptionalAuth injects the caller when a valid token is present. Requests
// without an Authorization header pass through anonymously; invalid tokens
// are rejected.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get("Authorization")) == "" {
			next.ServeHTTP(w, r)
			return
		}
		m.RequireAuth(next).ServeHTTP(w, r)
	})
}

// RequireRole allows only callers holding one of roles. It must run after
// RequireAuth.
func (m *AuthMiddleware) RequireRole(roles ...types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, &services.Error{Code: services.CodeUnauthorized, Message: "authentication required"})
				return
			}
			if !principal.HasRole(roles...) {
				writeError(w, &services.Error{Code: services.CodeForbidden, Message: "insufficient role"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}

// principal returns the authenticated caller. Routes using it are mounted
// behind RequireAuth, so a missing principal is a wiring bug reported as 401.
func (rs responder) principal(w http.ResponseWriter, r *http.Request) (services.Principal, bool) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, &services.Error{Code: services.CodeUnauthorized, Message: "authentication required"})
	}
	return principal, ok
}

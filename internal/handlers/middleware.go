package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/usermgmt/apiserver/internal/security"
	"github.com/usermgmt/apiserver/types"
)

type contextKey string

const contextIdentityKey contextKey = "identity"

// TokenVerifier verifies session tokens.
type TokenVerifier interface {
	Verify(token string) (security.Identity, error)
}

// WithIdentity attaches a verified identity to ctx.
func WithIdentity(ctx context.Context, identity security.Identity) context.Context {
	return context.WithValue(ctx, contextIdentityKey, identity)
}

// IdentityFromContext returns the identity attached by RequireAuth.
func IdentityFromContext(ctx context.Context) (security.Identity, bool) {
	identity, ok := ctx.Value(contextIdentityKey).(security.Identity)
	return identity, ok
}

// RequireAuth rejects requests without a valid session token. The token is
// read from the Authorization bearer header first and the session cookie
// second. Claims are trusted as-is; no repository lookup happens here.
func RequireAuth(tokens TokenVerifier, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractToken(r, cookieName)
			if tokenString == "" {
				writeError(w, http.StatusUnauthorized, "Access denied. No token provided.")
				return
			}

			identity, err := tokens.Verify(tokenString)
			if err != nil {
				var tokenErr *security.TokenError
				if !errors.As(err, &tokenErr) {
					tokenErr = &security.TokenError{Kind: security.TokenMalformed, Err: err}
				}
				writeError(w, http.StatusUnauthorized, tokenMessage(tokenErr))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireRole rejects callers whose role is not role. It must run after
// RequireAuth.
func RequireRole(role types.Role) func(http.Handler) http.Handler {
	message := fmt.Sprintf("Access denied. %s role required.", capitalize(string(role)))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Access denied. No token provided.")
				return
			}
			if identity.Role != role {
				writeError(w, http.StatusForbidden, message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request, cookieName string) string {
	if token, ok := bearerToken(r); ok {
		return token
	}
	if cookieName == "" {
		return ""
	}
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func bearerToken(r *http.Request) (string, bool) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", false
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

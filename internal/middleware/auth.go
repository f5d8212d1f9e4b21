package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/akz4ol/toolsgateway/internal/domain"
	"github.com/akz4ol/toolsgateway/internal/handler"
)

// AuthInfo is the authenticated identity attached to the request context.
type AuthInfo struct {
	UserID   string
	Email    string
	Provider string
}

// AuthInfoKey is the context key AuthInfo is stored under.
const AuthInfoKey contextKey = "auth_info"

// Claims is the subset of a verified bearer token the middleware needs.
type Claims struct {
	Subject  string
	Email    string
	Provider string
}

// TokenVerifier validates a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(raw string) (*Claims, error)
}

// UserLookup resolves a verified token's subject to a live user record,
// so a disabled or deleted account is rejected even with a valid signature.
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// Auth extracts a bearer token from the Authorization header or a
// "token" query parameter, verifies it, and rejects disabled/missing
// users. Mirrors the Python original's get_current_user dual lookup.
func Auth(verifier TokenVerifier, users UserLookup, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractToken(r)
			if raw == "" {
				handler.WriteError(w, http.StatusUnauthorized, "missing_auth", "authentication required")
				return
			}

			claims, err := verifier.Verify(raw)
			if err != nil {
				logger.Debug().Err(err).Msg("token verification failed")
				handler.WriteError(w, http.StatusUnauthorized, "invalid_auth", "invalid or expired token")
				return
			}

			user, err := users.GetUser(r.Context(), claims.Subject)
			if err != nil || !user.Enabled {
				handler.WriteError(w, http.StatusUnauthorized, "invalid_auth", "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), AuthInfoKey, &AuthInfo{
				UserID:   user.UserID,
				Email:    user.Email,
				Provider: user.Provider,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth behaves like Auth but lets unauthenticated requests
// through; handlers that need anonymous access call GetAuthInfo and
// handle a nil result themselves.
func OptionalAuth(verifier TokenVerifier, users UserLookup, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractToken(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := verifier.Verify(raw)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			user, err := users.GetUser(r.Context(), claims.Subject)
			if err != nil || !user.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), AuthInfoKey, &AuthInfo{
				UserID:   user.UserID,
				Email:    user.Email,
				Provider: user.Provider,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}

// GetAuthInfo extracts auth info from context.
func GetAuthInfo(ctx context.Context) *AuthInfo {
	if info, ok := ctx.Value(AuthInfoKey).(*AuthInfo); ok {
		return info
	}
	return nil
}

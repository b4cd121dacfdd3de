package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/jrsteele09/sider-auth/internal/errors"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyUserID stores the authenticated user ID
	ContextKeyUserID ContextKey = "user_id"
)

// UserIDFromContext returns the user ID stored by RequireAuth.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyUserID).(string)
	return id
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("missing Authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errors.New("invalid Authorization header format")
	}
	raw := strings.TrimSpace(parts[1])
	if raw == "" {
		return "", errors.New("empty token")
	}
	return raw, nil
}

// RequireAuth is middleware that validates a Bearer access token and stores
// the user ID and claims in the request context
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			info, err := s.tokens.Introspection(raw)
			if err != nil || !info.Active || info.Sub == "" {
				msg := "invalid token"
				switch {
				case apperrors.Is(err, apperrors.ErrTokenExpired):
					msg = "token expired"
				case apperrors.Is(err, apperrors.ErrTokenRevoked):
					msg = "token revoked"
				}
				writeError(w, http.StatusUnauthorized, msg)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyUserID, info.Sub)
			next(w, r.WithContext(ctx))
		}
	}
}

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"projecttree/backend/internal/auth"
)

type contextKey string

const (
	UserIDKey   contextKey = "userID"
	UsernameKey contextKey = "username"
	ProjectKey  contextKey = "projectID"
	RoleKey     contextKey = "role"
)

// Auth verifies the bearer token and stores the caller in the request context.
func Auth(v *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")

			claims, err := v.ValidateJWTAndGetClaims(tokenString)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			userID, err := uuid.Parse(claims.UserID)
			if err != nil {
				http.Error(w, "Invalid user ID in token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID, claims.Username)))
		})
	}
}

func WithUser(ctx context.Context, userID uuid.UUID, username string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, UsernameKey, username)
}

// User returns the authenticated caller.
func User(ctx context.Context) (userID uuid.UUID, username string, ok bool) {
	userID, ok = ctx.Value(UserIDKey).(uuid.UUID)
	if !ok {
		return uuid.Nil, "", false
	}
	username, _ = ctx.Value(UsernameKey).(string)
	return userID, username, true
}

// Project returns the project resolved by ProjectMemberAuth.
func Project(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ProjectKey).(uuid.UUID)
	return id, ok
}

func Role(ctx context.Context) string {
	role, _ := ctx.Value(RoleKey).(string)
	return role
}

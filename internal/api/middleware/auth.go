package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Thainyx11/GameMaster/internal/models"
	"github.com/Thainyx11/GameMaster/internal/store"
)

type contextKey string

const UserContextKey contextKey = "user"

// AuthMiddleware handles bearer token verification for authenticated
// endpoints. Tokens have the form "<user-id>.<secret>"; only the bcrypt hash
// of the secret is stored.
type AuthMiddleware struct {
	store store.DataStore
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(st store.DataStore) *AuthMiddleware {
	return &AuthMiddleware{store: st}
}

// RequireAuth verifies the Authorization header and stores the user in the
// request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			jsonError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		idPart, secret, found := strings.Cut(token, ".")
		if !found || secret == "" {
			jsonError(w, http.StatusUnauthorized, "malformed token")
			return
		}

		userID, err := uuid.Parse(idPart)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "malformed token")
			return
		}

		user, err := m.store.GetUserByID(r.Context(), userID)
		if err != nil || user == nil {
			jsonError(w, http.StatusUnauthorized, "unknown user")
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.TokenHash), []byte(secret)); err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		if fields := FieldsFromContext(r.Context()); fields != nil {
			fields.UserID = user.ID.String()
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetUserFromContext retrieves the authenticated user from the request context.
func GetUserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

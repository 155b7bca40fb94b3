package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// RegisterRequest represents the registration request.
type RegisterRequest struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// RegisterResponse represents the registration response. The token is shown
// exactly once; only its hash is stored.
type RegisterResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

// Register handles player registration.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Name = sanitizeName(req.Name)
	if req.Name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	if !isValidEmail(req.Email) {
		h.Error(w, http.StatusBadRequest, "invalid email address")
		return
	}

	secret, err := newSecret()
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to hash token")
		return
	}

	user, err := h.store.CreateUser(r.Context(), req.Name, req.Email, string(hash))
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	h.JSON(w, http.StatusCreated, RegisterResponse{
		ID:    user.ID.String(),
		Name:  user.Name,
		Token: user.ID.String() + "." + secret,
	})
}

// newSecret returns 32 bytes of randomness, base64url-encoded.
func newSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/Thainyx11/GameMaster/internal/api/middleware"
)

const maxInstructionsLength = 2000

// InstructionsRequest represents the custom instructions update request.
type InstructionsRequest struct {
	Instructions string `json:"instructions"`
}

// GetInstructions returns the user's custom instructions.
func (h *Handler) GetInstructions(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"instructions": user.Instructions})
}

// UpdateInstructions replaces the user's custom instructions. These are
// appended verbatim to the system prompt on every turn.
func (h *Handler) UpdateInstructions(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req InstructionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Instructions) > maxInstructionsLength {
		h.Error(w, http.StatusUnprocessableEntity, "instructions too long (max 2000 characters)")
		return
	}

	if err := h.store.UpdateUserInstructions(r.Context(), user.ID, req.Instructions); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to update instructions")
		return
	}

	h.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

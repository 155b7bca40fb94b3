package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Thainyx11/GameMaster/internal/api/middleware"
	"github.com/Thainyx11/GameMaster/internal/models"
)

// CreateConversationRequest represents the conversation creation request.
type CreateConversationRequest struct {
	Model string `json:"model"`
}

// UpdateModelRequest represents the model change request.
type UpdateModelRequest struct {
	Model string `json:"model"`
}

// ConversationInfo represents a conversation in list responses.
type ConversationInfo struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Model     string `json:"model"`
	UpdatedAt int64  `json:"updated_at"`
}

// ConversationResponse represents a conversation with its transcript.
type ConversationResponse struct {
	Conversation ConversationInfo `json:"conversation"`
	Messages     []models.Message `json:"messages"`
}

// CreateConversation handles conversation creation.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	conv, err := h.store.CreateConversation(r.Context(), user.ID, "", strings.TrimSpace(req.Model))
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	h.JSON(w, http.StatusCreated, map[string]ConversationInfo{"conversation": toInfo(conv)})
}

// ListConversations handles listing the user's conversations.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	conversations, err := h.store.ListConversations(r.Context(), user.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	infos := make([]ConversationInfo, len(conversations))
	for i := range conversations {
		infos[i] = toInfo(&conversations[i])
	}

	h.JSON(w, http.StatusOK, map[string][]ConversationInfo{"conversations": infos})
}

// GetConversation handles fetching a conversation and its messages.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.ownedConversation(w, r)
	if !ok {
		return
	}

	messages, err := h.store.ListMessages(r.Context(), conv.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	h.JSON(w, http.StatusOK, ConversationResponse{
		Conversation: toInfo(conv),
		Messages:     messages,
	})
}

// DeleteConversation handles whole-conversation deletion. Messages are never
// deleted individually.
func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.ownedConversation(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteConversation(r.Context(), conv.ID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}

	h.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// UpdateModel handles switching a conversation's upstream model.
func (h *Handler) UpdateModel(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.ownedConversation(w, r)
	if !ok {
		return
	}

	var req UpdateModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Model = strings.TrimSpace(req.Model)
	if req.Model == "" {
		h.Error(w, http.StatusBadRequest, "model is required")
		return
	}

	if err := h.store.UpdateConversationModel(r.Context(), conv.ID, req.Model); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to update model")
		return
	}

	h.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ExportConversation handles exporting a transcript as JSON or Markdown.
func (h *Handler) ExportConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.ownedConversation(w, r)
	if !ok {
		return
	}

	messages, err := h.store.ListMessages(r.Context(), conv.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	switch chi.URLParam(r, "format") {
	case "json":
		h.JSON(w, http.StatusOK, map[string]interface{}{
			"title":    conv.Title,
			"model":    conv.Model,
			"messages": messages,
		})

	case "markdown":
		var sb strings.Builder
		fmt.Fprintf(&sb, "# %s\n\n", conv.Title)
		for _, msg := range messages {
			fmt.Fprintf(&sb, "**%s**\n\n%s\n\n---\n\n", msg.Role, msg.Content)
		}

		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", slug(conv.Title)+".md"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(sb.String()))

	default:
		h.Error(w, http.StatusBadRequest, "format must be json or markdown")
	}
}

// ownedConversation loads the conversation from the URL and checks ownership.
// A conversation belonging to another user reads as not found.
func (h *Handler) ownedConversation(w http.ResponseWriter, r *http.Request) (*models.Conversation, bool) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}

	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation ID format")
		return nil, false
	}

	conv, err := h.store.GetConversation(r.Context(), convID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return nil, false
	}
	if conv == nil || conv.UserID != user.ID {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}

	return conv, true
}

func toInfo(conv *models.Conversation) ConversationInfo {
	return ConversationInfo{
		ID:        conv.ID.String(),
		Title:     conv.Title,
		Model:     conv.Model,
		UpdatedAt: conv.UpdatedAt.UnixMilli(),
	}
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// slug converts a title into a safe filename fragment.
func slug(s string) string {
	s = strings.ToLower(s)
	s = slugStrip.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "conversation"
	}
	return s
}

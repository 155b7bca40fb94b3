package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/Thainyx11/GameMaster/internal/api/middleware"
	"github.com/Thainyx11/GameMaster/internal/chat"
)

const maxMessageLength = 10000

// SendMessageRequest represents the streaming turn request.
type SendMessageRequest struct {
	ConversationID  string `json:"conversation_id"`
	Message         string `json:"message"`
	ThinkingEnabled bool   `json:"thinking_enabled"`
	ImagePath       string `json:"image_path,omitempty"`
}

// SendMessage handles one conversation turn, streaming the reply back as SSE
// frames. Each frame is one JSON event: {"token":...}, {"title":...,
// "conversation_id":...}, {"done":true,"message_id":...} or {"error":...}.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		h.Error(w, http.StatusBadRequest, "message is required")
		return
	}
	if len(req.Message) > maxMessageLength {
		h.Error(w, http.StatusUnprocessableEntity, "message too long (max 10000 characters)")
		return
	}
	convID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation ID format")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// The sink writes the SSE headers lazily, so pre-stream failures can
	// still produce a proper HTTP status.
	sink := &sseSink{w: w, flusher: flusher}

	err = h.session.Send(r.Context(), user, convID, req.Message, req.ImagePath, req.ThinkingEnabled, sink)
	switch {
	case err == nil:
		return
	case errors.Is(err, chat.ErrTurnInProgress):
		h.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, chat.ErrConversationNotFound):
		h.Error(w, http.StatusNotFound, "conversation not found")
	default:
		h.logger.Error().Err(err).Msg("turn setup failed")
		if sink.started {
			_ = sink.Error("internal error")
			return
		}
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// sseSink emits chat events as text/event-stream frames, flushing after each
// one so the client renders incrementally.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (s *sseSink) writeEvent(payload interface{}) error {
	if !s.started {
		s.started = true
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream; charset=utf-8")
		h.Set("Cache-Control", "no-cache, no-store")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) Token(text string) error {
	return s.writeEvent(map[string]string{"token": text})
}

func (s *sseSink) Title(conversationID uuid.UUID, title string) error {
	return s.writeEvent(map[string]string{
		"title":           title,
		"conversation_id": conversationID.String(),
	})
}

func (s *sseSink) Done(messageID string) error {
	return s.writeEvent(map[string]interface{}{
		"done":       true,
		"message_id": messageID,
	})
}

func (s *sseSink) Error(message string) error {
	return s.writeEvent(map[string]string{"error": message})
}

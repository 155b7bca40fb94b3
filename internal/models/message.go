package models

import "time"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents one turn half within a conversation. Messages are
// immutable once created; transcript order is creation order, with the
// ULID id breaking ties.
type Message struct {
	ID             string    `json:"id"` // ULID
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	ImagePath      string    `json:"image_path,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsFromUser reports whether the message was written by the player.
func (m *Message) IsFromUser() bool {
	return m.Role == RoleUser
}

// IsFromAssistant reports whether the message was written by the model.
func (m *Message) IsFromAssistant() bool {
	return m.Role == RoleAssistant
}

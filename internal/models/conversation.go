package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultModel is the upstream model used when a conversation doesn't pick one.
const DefaultModel = "openai/gpt-4o-mini"

// DefaultTitle is the placeholder title until the first turn generates one.
const DefaultTitle = "New adventure"

// Conversation represents a chat session between a player and the game master.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

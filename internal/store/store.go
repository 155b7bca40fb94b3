package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/Thainyx11/GameMaster/internal/models"
)

// DataStore defines the interface for persistent storage of users,
// conversations and messages. Both PostgresStore and SQLiteStore implement
// this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, name, email, tokenHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateUserInstructions(ctx context.Context, id uuid.UUID, instructions string) error

	// Conversation operations
	CreateConversation(ctx context.Context, userID uuid.UUID, title, model string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id uuid.UUID, title string) error
	UpdateConversationModel(ctx context.Context, id uuid.UUID, model string) error
	TouchConversation(ctx context.Context, id uuid.UUID) error
	DeleteConversation(ctx context.Context, id uuid.UUID) error

	// Message operations. ListMessages returns messages in transcript order
	// (created_at, then id; message IDs are ULIDs, so the tiebreak is still
	// chronological).
	CreateMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
	CountMessages(ctx context.Context, conversationID uuid.UUID) (int64, error)
}

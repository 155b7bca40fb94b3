package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/Thainyx11/GameMaster/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/gamemaster.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/gamemaster.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT DEFAULT '',
		token_hash TEXT NOT NULL,
		instructions TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		title TEXT NOT NULL DEFAULT 'New adventure',
		model TEXT NOT NULL DEFAULT 'openai/gpt-4o-mini',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role TEXT NOT NULL CHECK (role IN ('system', 'user', 'assistant')),
		content TEXT NOT NULL,
		image_path TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_user_updated ON conversations(user_id, updated_at);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, name, email, tokenHash string) (*models.User, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, token_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, name, email, tokenHash, now, now)
	if err != nil {
		return nil, err
	}

	return s.GetUserByID(ctx, uuid.MustParse(id))
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	var idStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, token_hash, instructions, created_at, updated_at
		FROM users WHERE id = ?
	`, id.String()).Scan(
		&idStr,
		&user.Name,
		&user.Email,
		&user.TokenHash,
		&user.Instructions,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.ID = uuid.MustParse(idStr)
	return user, nil
}

// UpdateUserInstructions replaces the user's custom instructions.
func (s *SQLiteStore) UpdateUserInstructions(ctx context.Context, id uuid.UUID, instructions string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET instructions = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, instructions, id.String())
	return err
}

// CreateConversation creates a new conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, userID uuid.UUID, title, model string) (*models.Conversation, error) {
	if title == "" {
		title = models.DefaultTitle
	}
	if model == "" {
		model = models.DefaultModel
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, title, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, userID.String(), title, model, now, now)
	if err != nil {
		return nil, err
	}

	return s.GetConversation(ctx, uuid.MustParse(id))
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var idStr, userIDStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, model, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id.String()).Scan(
		&idStr,
		&userIDStr,
		&conv.Title,
		&conv.Model,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	conv.ID = uuid.MustParse(idStr)
	conv.UserID = uuid.MustParse(userIDStr)
	return conv, nil
}

// ListConversations retrieves a user's conversations, most recently active first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, model, created_at, updated_at
		FROM conversations
		WHERE user_id = ?
		ORDER BY updated_at DESC
	`, userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		var conv models.Conversation
		var idStr, userIDStr string

		err := rows.Scan(
			&idStr,
			&userIDStr,
			&conv.Title,
			&conv.Model,
			&conv.CreatedAt,
			&conv.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		conv.ID = uuid.MustParse(idStr)
		conv.UserID = uuid.MustParse(userIDStr)
		conversations = append(conversations, conv)
	}

	return conversations, rows.Err()
}

// UpdateConversationTitle sets a conversation's title.
func (s *SQLiteStore) UpdateConversationTitle(ctx context.Context, id uuid.UUID, title string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET title = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, title, id.String())
	return err
}

// UpdateConversationModel sets a conversation's upstream model.
func (s *SQLiteStore) UpdateConversationModel(ctx context.Context, id uuid.UUID, model string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET model = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, model, id.String())
	return err
}

// TouchConversation bumps the updated_at timestamp.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, id.String())
	return err
}

// DeleteConversation removes a conversation and its messages.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM conversations WHERE id = ?
	`, id.String())
	return err
}

// CreateMessage stores a message. Generates the ULID and timestamp if unset.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, image_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.ImagePath, msg.CreatedAt)
	return err
}

// ListMessages retrieves a conversation's messages in transcript order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, image_path, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at, id
	`, conversationID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.Role,
			&msg.Content,
			&msg.ImagePath,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// CountMessages returns the number of messages in a conversation.
func (s *SQLiteStore) CountMessages(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE conversation_id = ?
	`, conversationID.String()).Scan(&count)
	return count, err
}

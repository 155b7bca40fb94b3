// Package chat owns the turn lifecycle: persisting the player's message,
// assembling the prompt, driving the streaming relay, persisting the
// assistant's reply and generating a title on the first completed turn.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Thainyx11/GameMaster/internal/metrics"
	"github.com/Thainyx11/GameMaster/internal/models"
	"github.com/Thainyx11/GameMaster/internal/openrouter"
	"github.com/Thainyx11/GameMaster/internal/store"
)

// ErrTurnInProgress is returned when a conversation already has a relay in
// flight. Turns on one conversation are serialized; the second request is
// rejected rather than queued.
var ErrTurnInProgress = errors.New("a turn is already in progress for this conversation")

// ErrConversationNotFound is returned when the conversation doesn't exist or
// belongs to another user.
var ErrConversationNotFound = errors.New("conversation not found")

// Sink receives the application-level events of one turn. Each call must be
// flushed to the client independently so rendering is incremental.
type Sink interface {
	Token(text string) error
	Title(conversationID uuid.UUID, title string) error
	Done(messageID string) error
	Error(message string) error
}

// Session orchestrates conversation turns.
type Session struct {
	store  store.DataStore
	llm    *openrouter.Client
	logger zerolog.Logger

	mu     sync.Mutex
	active map[uuid.UUID]struct{}
}

// NewSession creates a turn orchestrator.
func NewSession(st store.DataStore, llm *openrouter.Client, logger zerolog.Logger) *Session {
	return &Session{
		store:  st,
		llm:    llm,
		logger: logger,
		active: make(map[uuid.UUID]struct{}),
	}
}

// acquire marks a conversation as having an in-flight turn.
func (s *Session) acquire(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[id]; busy {
		return false
	}
	s.active[id] = struct{}{}
	return true
}

func (s *Session) release(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

// Send runs one turn. The player message is persisted before the relay
// starts, so a durable record of the prompt exists even if the relay fails.
// Pre-stream failures (unknown conversation, concurrent turn) are returned
// as errors; once streaming begins, failures reach the client through the
// sink's Error event instead.
func (s *Session) Send(ctx context.Context, user *models.User, conversationID uuid.UUID, text, imagePath string, thinkingEnabled bool, sink Sink) error {
	if !s.acquire(conversationID) {
		metrics.TurnsTotal.WithLabelValues("rejected").Inc()
		return ErrTurnInProgress
	}
	defer s.release(conversationID)

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil || conv.UserID != user.ID {
		return ErrConversationNotFound
	}

	userMsg := &models.Message{
		ConversationID: conv.ID.String(),
		Role:           models.RoleUser,
		Content:        text,
		ImagePath:      imagePath,
	}
	if err := s.store.CreateMessage(ctx, userMsg); err != nil {
		return fmt.Errorf("persist user message: %w", err)
	}
	if err := s.store.TouchConversation(ctx, conv.ID); err != nil {
		s.logger.Warn().Err(err).Str("conversation", conv.ID.String()).Msg("touch conversation failed")
	}

	history, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	firstTurn := isFirstTurn(history)

	prompt := openrouter.BuildPrompt(history, user.Instructions, thinkingEnabled, time.Now())

	outcome := s.llm.Stream(ctx, prompt, conv.Model, sink)

	if !outcome.Finished {
		metrics.TurnsTotal.WithLabelValues(outcomeLabel(ctx)).Inc()
		if ctx.Err() != nil {
			// Client is gone; nothing to write. The turn stays recorded as
			// the player message without a reply.
			s.logger.Info().
				Str("conversation", conv.ID.String()).
				Msg("turn cancelled by client disconnect")
			return nil
		}
		message := "the game master is unreachable, try again later"
		if outcome.Err != nil {
			message = outcome.Err.Error()
		}
		s.logger.Error().
			Err(outcome.Err).
			Str("conversation", conv.ID.String()).
			Str("model", conv.Model).
			Msg("turn failed")
		if err := sink.Error(message); err != nil {
			s.logger.Warn().Err(err).Msg("error event not delivered")
		}
		return nil
	}

	assistantMsg := &models.Message{
		ConversationID: conv.ID.String(),
		Role:           models.RoleAssistant,
		Content:        outcome.FullText,
	}
	if err := s.store.CreateMessage(ctx, assistantMsg); err != nil {
		metrics.TurnsTotal.WithLabelValues("failed").Inc()
		s.logger.Error().Err(err).Str("conversation", conv.ID.String()).Msg("persist assistant message failed")
		if serr := sink.Error("failed to save the reply"); serr != nil {
			s.logger.Warn().Err(serr).Msg("error event not delivered")
		}
		return nil
	}
	if err := s.store.TouchConversation(ctx, conv.ID); err != nil {
		s.logger.Warn().Err(err).Str("conversation", conv.ID.String()).Msg("touch conversation failed")
	}

	if firstTurn {
		title := s.generateTitle(ctx, text)
		if err := s.store.UpdateConversationTitle(ctx, conv.ID, title); err != nil {
			s.logger.Warn().Err(err).Str("conversation", conv.ID.String()).Msg("store title failed")
		} else if err := sink.Title(conv.ID, title); err != nil {
			s.logger.Warn().Err(err).Msg("title event not delivered")
		}
	}

	metrics.TurnsTotal.WithLabelValues("completed").Inc()
	if err := sink.Done(assistantMsg.ID); err != nil {
		s.logger.Warn().Err(err).Msg("done event not delivered")
	}
	return nil
}

// generateTitle asks the model for a title and falls back to a
// timestamp-derived one. Title generation never fails the turn.
func (s *Session) generateTitle(ctx context.Context, firstMessage string) string {
	title, err := s.llm.GenerateTitle(ctx, firstMessage)
	if err != nil || title == "" {
		metrics.TitleGenerations.WithLabelValues("fallback").Inc()
		s.logger.Warn().Err(err).Msg("title generation failed, using fallback")
		return "Adventure of " + time.Now().Format("Jan 2, 2006")
	}
	metrics.TitleGenerations.WithLabelValues("generated").Inc()
	return title
}

// isFirstTurn reports whether the history holds no assistant reply yet.
func isFirstTurn(history []models.Message) bool {
	for _, msg := range history {
		if msg.Role == models.RoleAssistant {
			return false
		}
	}
	return true
}

func outcomeLabel(ctx context.Context) string {
	if ctx.Err() != nil {
		return "cancelled"
	}
	return "failed"
}

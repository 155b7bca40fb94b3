package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thainyx11/GameMaster/internal/models"
	"github.com/Thainyx11/GameMaster/internal/openrouter"
)

// memStore is an in-memory DataStore for session tests.
type memStore struct {
	mu            sync.Mutex
	users         map[uuid.UUID]*models.User
	conversations map[uuid.UUID]*models.Conversation
	messages      map[uuid.UUID][]models.Message
	failMessage   bool
}

func newMemStore() *memStore {
	return &memStore{
		users:         make(map[uuid.UUID]*models.User),
		conversations: make(map[uuid.UUID]*models.Conversation),
		messages:      make(map[uuid.UUID][]models.Message),
	}
}

func (m *memStore) Close()                         {}
func (m *memStore) Ping(ctx context.Context) error { return nil }

func (m *memStore) CreateUser(ctx context.Context, name, email, tokenHash string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &models.User{ID: uuid.New(), Name: name, Email: email, TokenHash: tokenHash}
	m.users[u.ID] = u
	return u, nil
}

func (m *memStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id], nil
}

func (m *memStore) UpdateUserInstructions(ctx context.Context, id uuid.UUID, instructions string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.Instructions = instructions
	}
	return nil
}

func (m *memStore) CreateConversation(ctx context.Context, userID uuid.UUID, title, model string) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &models.Conversation{ID: uuid.New(), UserID: userID, Title: title, Model: model}
	m.conversations[c.ID] = c
	return c, nil
}

func (m *memStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversations[id], nil
}

func (m *memStore) ListConversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Conversation
	for _, c := range m.conversations {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) UpdateConversationTitle(ctx context.Context, id uuid.UUID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conversations[id]; ok {
		c.Title = title
	}
	return nil
}

func (m *memStore) UpdateConversationModel(ctx context.Context, id uuid.UUID, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conversations[id]; ok {
		c.Model = model
	}
	return nil
}

func (m *memStore) TouchConversation(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conversations[id]; ok {
		c.UpdatedAt = time.Now()
	}
	return nil
}

func (m *memStore) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, id)
	delete(m.messages, id)
	return nil
}

func (m *memStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMessage && msg.Role == models.RoleAssistant {
		return errors.New("disk full")
	}
	msg.ID = ulid.Make().String()
	msg.CreatedAt = time.Now()
	id := uuid.MustParse(msg.ConversationID)
	m.messages[id] = append(m.messages[id], *msg)
	return nil
}

func (m *memStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Message(nil), m.messages[conversationID]...), nil
}

func (m *memStore) CountMessages(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.messages[conversationID])), nil
}

// recordSink records turn events.
type recordSink struct {
	mu      sync.Mutex
	tokens  []string
	titles  []string
	doneIDs []string
	errors  []string
}

func (s *recordSink) Token(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, text)
	return nil
}

func (s *recordSink) Title(conversationID uuid.UUID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return nil
}

func (s *recordSink) Done(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doneIDs = append(s.doneIDs, messageID)
	return nil
}

func (s *recordSink) Error(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, message)
	return nil
}

// fakeUpstream speaks just enough of the OpenRouter API for turns: streamed
// completions on stream:true, title completions otherwise.
func fakeUpstream(t *testing.T, streamFrames []string, title string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stream bool `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, frame := range streamFrames {
				fmt.Fprintf(w, "data: %s\n\n", frame)
			}
			return
		}
		fmt.Fprintf(w, `{"choices":[{"message":{"content":%q}}]}`, title)
	}))
}

func contentFrame(text string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"delta": map[string]string{"content": text}}},
	})
	return string(b)
}

func newTestSession(st *memStore, upstreamURL string) *Session {
	llm := openrouter.NewClient(upstreamURL, "key", "http://app", "GameMaster", zerolog.Nop(),
		openrouter.WithTimeout(5*time.Second))
	return NewSession(st, llm, zerolog.Nop())
}

func seedConversation(t *testing.T, st *memStore) (*models.User, *models.Conversation) {
	t.Helper()
	user, err := st.CreateUser(context.Background(), "Alice", "", "hash")
	require.NoError(t, err)
	conv, err := st.CreateConversation(context.Background(), user.ID, models.DefaultTitle, models.DefaultModel)
	require.NoError(t, err)
	return user, conv
}

func TestSendFirstTurn(t *testing.T) {
	srv := fakeUpstream(t, []string{contentFrame("Welcome, "), contentFrame("traveler."), "[DONE]"}, "The Lost Crown")
	defer srv.Close()

	st := newMemStore()
	user, conv := seedConversation(t, st)
	session := newTestSession(st, srv.URL)

	sink := &recordSink{}
	err := session.Send(context.Background(), user, conv.ID, "Let's begin", "", false, sink)
	require.NoError(t, err)

	// Both sides of the turn are persisted, in order.
	msgs, _ := st.ListMessages(context.Background(), conv.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "Let's begin", msgs[0].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Welcome, traveler.", msgs[1].Content)

	assert.Equal(t, []string{"Welcome, ", "traveler."}, sink.tokens)
	assert.Equal(t, []string{"The Lost Crown"}, sink.titles)
	require.Len(t, sink.doneIDs, 1)
	assert.Equal(t, msgs[1].ID, sink.doneIDs[0])
	assert.Empty(t, sink.errors)

	got, _ := st.GetConversation(context.Background(), conv.ID)
	assert.Equal(t, "The Lost Crown", got.Title)
}

func TestSendSecondTurnNoTitle(t *testing.T) {
	srv := fakeUpstream(t, []string{contentFrame("again"), "[DONE]"}, "never used")
	defer srv.Close()

	st := newMemStore()
	user, conv := seedConversation(t, st)
	// History already holds a completed exchange.
	st.CreateMessage(context.Background(), &models.Message{ConversationID: conv.ID.String(), Role: models.RoleUser, Content: "hi"})
	st.CreateMessage(context.Background(), &models.Message{ConversationID: conv.ID.String(), Role: models.RoleAssistant, Content: "hello"})

	session := newTestSession(st, srv.URL)
	sink := &recordSink{}
	require.NoError(t, session.Send(context.Background(), user, conv.ID, "next", "", false, sink))

	assert.Empty(t, sink.titles)
	require.Len(t, sink.doneIDs, 1)
}

func TestSendTitleFallback(t *testing.T) {
	// Streaming works, the title completion fails.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stream bool `json:"stream"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprintf(w, "data: %s\n\ndata: [DONE]\n\n", contentFrame("reply"))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := newMemStore()
	user, conv := seedConversation(t, st)
	session := newTestSession(st, srv.URL)

	sink := &recordSink{}
	require.NoError(t, session.Send(context.Background(), user, conv.ID, "hello", "", false, sink))

	require.Len(t, sink.titles, 1)
	assert.Contains(t, sink.titles[0], "Adventure of ")
	assert.Empty(t, sink.errors, "title failure never surfaces as a turn error")
	require.Len(t, sink.doneIDs, 1)
}

func TestSendUpstreamFailure(t *testing.T) {
	srv := fakeUpstream(t, []string{contentFrame("part"), `{"error":{"message":"model overloaded"}}`}, "")
	defer srv.Close()

	st := newMemStore()
	user, conv := seedConversation(t, st)
	session := newTestSession(st, srv.URL)

	sink := &recordSink{}
	require.NoError(t, session.Send(context.Background(), user, conv.ID, "hello", "", false, sink))

	assert.Equal(t, []string{"model overloaded"}, sink.errors)
	assert.Empty(t, sink.doneIDs)
	assert.Empty(t, sink.titles)

	// The player message survives, the partial reply is not persisted.
	msgs, _ := st.ListMessages(context.Background(), conv.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
}

func TestSendUnknownConversation(t *testing.T) {
	srv := fakeUpstream(t, nil, "")
	defer srv.Close()

	st := newMemStore()
	user, _ := seedConversation(t, st)
	session := newTestSession(st, srv.URL)

	err := session.Send(context.Background(), user, uuid.New(), "hello", "", false, &recordSink{})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestSendOtherUsersConversation(t *testing.T) {
	srv := fakeUpstream(t, nil, "")
	defer srv.Close()

	st := newMemStore()
	_, conv := seedConversation(t, st)
	intruder, err := st.CreateUser(context.Background(), "Mallory", "", "hash")
	require.NoError(t, err)

	session := newTestSession(st, srv.URL)
	err = session.Send(context.Background(), intruder, conv.ID, "hello", "", false, &recordSink{})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestSendConcurrentTurnRejected(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", contentFrame("slow"))
		w.(http.Flusher).Flush()
		<-release
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	st := newMemStore()
	user, conv := seedConversation(t, st)
	session := newTestSession(st, srv.URL)

	firstDone := make(chan error, 1)
	sink := &recordSink{}
	go func() {
		firstDone <- session.Send(context.Background(), user, conv.ID, "first", "", false, sink)
	}()

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.tokens) > 0
	}, 2*time.Second, 10*time.Millisecond)

	err := session.Send(context.Background(), user, conv.ID, "second", "", false, &recordSink{})
	assert.ErrorIs(t, err, ErrTurnInProgress)

	close(release)
	require.NoError(t, <-firstDone)

	// The slot is free again after the turn ends.
	err = session.Send(context.Background(), user, conv.ID, "third", "", false, &recordSink{})
	require.NoError(t, err)
}

func TestSendPersistFailureSurfacesError(t *testing.T) {
	srv := fakeUpstream(t, []string{contentFrame("reply"), "[DONE]"}, "t")
	defer srv.Close()

	st := newMemStore()
	st.failMessage = true
	user, conv := seedConversation(t, st)
	session := newTestSession(st, srv.URL)

	sink := &recordSink{}
	require.NoError(t, session.Send(context.Background(), user, conv.ID, "hello", "", false, sink))

	assert.Equal(t, []string{"failed to save the reply"}, sink.errors)
	assert.Empty(t, sink.doneIDs)
}

func TestSendClientDisconnect(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", contentFrame("start"))
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	st := newMemStore()
	user, conv := seedConversation(t, st)
	session := newTestSession(st, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	sink := &recordSink{}
	done := make(chan error, 1)
	go func() {
		done <- session.Send(ctx, user, conv.ID, "hello", "", false, sink)
	}()

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.tokens) > 0
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	require.NoError(t, <-done)

	// Disconnect is silent: no error event, no assistant message.
	assert.Empty(t, sink.errors)
	msgs, _ := st.ListMessages(context.Background(), conv.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
}

func TestIsFirstTurn(t *testing.T) {
	assert.True(t, isFirstTurn(nil))
	assert.True(t, isFirstTurn([]models.Message{{Role: models.RoleUser}}))
	assert.False(t, isFirstTurn([]models.Message{
		{Role: models.RoleUser},
		{Role: models.RoleAssistant},
	}))
}

package handlers_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thainyx11/GameMaster/internal/api"
	"github.com/Thainyx11/GameMaster/internal/chat"
	"github.com/Thainyx11/GameMaster/internal/openrouter"
	"github.com/Thainyx11/GameMaster/internal/store"
)

// fakeOpenRouter serves the three upstream endpoints the server uses:
// streamed completions, title completions and the model catalog.
func fakeOpenRouter(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models" {
			fmt.Fprint(w, `{"data":[
				{"id":"openai/gpt-4o-mini","name":"GPT-4o Mini","architecture":{"output_modalities":["text"]}},
				{"id":"img/gen","name":"ImageGen","architecture":{"output_modalities":["image"]}}
			]}`)
			return
		}

		var req struct {
			Stream bool `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, text := range []string{"The goblin ", "snarls."} {
				frame, _ := json.Marshal(map[string]any{
					"choices": []map[string]any{{"delta": map[string]string{"content": text}}},
				})
				fmt.Fprintf(w, "data: %s\n\n", frame)
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"Goblin Ambush"}}]}`)
	}))
}

type testServer struct {
	srv   *httptest.Server
	token string
	uid   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	upstream := fakeOpenRouter(t)
	t.Cleanup(upstream.Close)

	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(st.Close)

	llm := openrouter.NewClient(upstream.URL, "key", "http://app", "GameMaster", zerolog.Nop(),
		openrouter.WithTimeout(5*time.Second))
	session := chat.NewSession(st, llm, zerolog.Nop())

	router := api.NewRouter(zerolog.Nop(), st, llm, session)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	ts := &testServer{srv: srv}
	ts.register(t, "Alice")
	return ts
}

func (ts *testServer) register(t *testing.T, name string) {
	t.Helper()
	resp := ts.do(t, "POST", "/register", `{"name":"`+name+`"}`, false)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var reg struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reg))
	require.NotEmpty(t, reg.Token)
	ts.token = reg.Token
	ts.uid = reg.ID
}

func (ts *testServer) do(t *testing.T, method, path, body string, authed bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (ts *testServer) createConversation(t *testing.T) string {
	t.Helper()
	resp := ts.do(t, "POST", "/api/conversations", `{"model":""}`, true)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		Conversation struct {
			ID    string `json:"id"`
			Title string `json:"title"`
			Model string `json:"model"`
		} `json:"conversation"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "New adventure", out.Conversation.Title)
	assert.Equal(t, "openai/gpt-4o-mini", out.Conversation.Model)
	return out.Conversation.ID
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	for _, header := range []string{"", "Bearer garbage", "Bearer not-a-uuid.secret", "Bearer " + ts.uid + ".wrong"} {
		req, _ := http.NewRequest("GET", ts.srv.URL+"/api/conversations", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "header %q", header)
	}
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/register", `{"name":""}`, false)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, "POST", "/register", `{"name":"Bob","email":"not-an-email"}`, false)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConversationLifecycle(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createConversation(t)

	resp := ts.do(t, "GET", "/api/conversations", "", true)
	var list struct {
		Conversations []struct {
			ID string `json:"id"`
		} `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, id, list.Conversations[0].ID)

	resp = ts.do(t, "GET", "/api/conversations/"+id, "", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, "PATCH", "/api/conversations/"+id+"/model", `{"model":"anthropic/claude-sonnet-4"}`, true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, "DELETE", "/api/conversations/"+id, "", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, "GET", "/api/conversations/"+id, "", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestConversationIsolation(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createConversation(t)

	// A second account cannot see the first account's conversation.
	ts.register(t, "Mallory")
	resp := ts.do(t, "GET", "/api/conversations/"+id, "", true)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendMessageStreams(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createConversation(t)

	body := fmt.Sprintf(`{"conversation_id":%q,"message":"I attack the goblin"}`, id)
	resp := ts.do(t, "POST", "/api/chat/message", body, true)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	var tokens []string
	var title string
	var done bool
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev struct {
			Token     string `json:"token"`
			Title     string `json:"title"`
			Done      bool   `json:"done"`
			MessageID string `json:"message_id"`
			Error     string `json:"error"`
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		require.Empty(t, ev.Error)
		switch {
		case ev.Done:
			done = true
			assert.NotEmpty(t, ev.MessageID)
		case ev.Title != "":
			title = ev.Title
		case ev.Token != "":
			tokens = append(tokens, ev.Token)
		}
	}
	require.NoError(t, scanner.Err())

	assert.Equal(t, []string{"The goblin ", "snarls."}, tokens)
	assert.Equal(t, "Goblin Ambush", title)
	assert.True(t, done)

	// The transcript now holds the exchange and the generated title stuck.
	resp = ts.do(t, "GET", "/api/conversations/"+id, "", true)
	var conv struct {
		Conversation struct {
			Title string `json:"title"`
		} `json:"conversation"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conv))
	resp.Body.Close()

	assert.Equal(t, "Goblin Ambush", conv.Conversation.Title)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "user", conv.Messages[0].Role)
	assert.Equal(t, "assistant", conv.Messages[1].Role)
	assert.Equal(t, "The goblin snarls.", conv.Messages[1].Content)
}

func TestSendMessageValidation(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createConversation(t)

	resp := ts.do(t, "POST", "/api/chat/message", fmt.Sprintf(`{"conversation_id":%q,"message":""}`, id), true)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	long := strings.Repeat("x", 10001)
	resp = ts.do(t, "POST", "/api/chat/message", fmt.Sprintf(`{"conversation_id":%q,"message":%q}`, id, long), true)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = ts.do(t, "POST", "/api/chat/message", `{"conversation_id":"b5f7c8aa-0000-0000-0000-000000000000","message":"hi"}`, true)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestModelsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "GET", "/api/models", "", true)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Models []struct {
			ID string `json:"id"`
		} `json:"models"`
		DefaultModel string `json:"default_model"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	assert.Equal(t, "openai/gpt-4o-mini", out.DefaultModel)
	require.Len(t, out.Models, 1, "image-only models are filtered")
	assert.Equal(t, "openai/gpt-4o-mini", out.Models[0].ID)
}

func TestInstructions(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "PUT", "/api/instructions", `{"instructions":"keep it grim"}`, true)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, "GET", "/api/instructions", "", true)
	var out struct {
		Instructions string `json:"instructions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.Equal(t, "keep it grim", out.Instructions)

	long := strings.Repeat("x", 2001)
	resp = ts.do(t, "PUT", "/api/instructions", fmt.Sprintf(`{"instructions":%q}`, long), true)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestExportMarkdown(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createConversation(t)

	resp := ts.do(t, "POST", "/api/chat/message", fmt.Sprintf(`{"conversation_id":%q,"message":"hello"}`, id), true)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	resp = ts.do(t, "GET", "/api/conversations/"+id+"/export/markdown", "", true)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/markdown")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".md")

	body, _ := io.ReadAll(resp.Body)
	md := string(body)
	assert.Contains(t, md, "# Goblin Ambush")
	assert.Contains(t, md, "**user**")
	assert.Contains(t, md, "**assistant**")

	resp = ts.do(t, "GET", "/api/conversations/"+id+"/export/xml", "", true)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "GET", "/health", "", false)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Status string `json:"status"`
		} `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "healthy", out.Status)
	assert.Equal(t, "pass", out.Checks["database"].Status)
}

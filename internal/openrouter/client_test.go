package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionUpstream(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)

		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.False(t, req.Stream)

		fmt.Fprintf(w, `{"choices":[{"message":{"content":%q}}]}`, content)
	}))
}

func TestComplete(t *testing.T) {
	srv := completionUpstream(t, "The tavern falls silent.")
	defer srv.Close()

	got, err := testClient(t, srv.URL).Complete(context.Background(),
		[]PromptMessage{{Role: "user", Content: "hi"}}, "m", 0.8)
	require.NoError(t, err)
	assert.Equal(t, "The tavern falls silent.", got)
}

func TestCompleteErrorBody(t *testing.T) {
	// OpenRouter can return 200 with an error object instead of choices.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"message":"model not found"}}`)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Complete(context.Background(), nil, "bad/model", 0.7)
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "model not found", ue.Message)
}

func TestCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Complete(context.Background(), nil, "m", 0.7)
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
}

func TestGenerateTitleTrimsQuotes(t *testing.T) {
	srv := completionUpstream(t, `  "The Dragon's Bargain"  `)
	defer srv.Close()

	title, err := testClient(t, srv.URL).GenerateTitle(context.Background(), "I want to fight a dragon")
	require.NoError(t, err)
	assert.Equal(t, "The Dragon's Bargain", title)
}

func TestGenerateTitleCapsLength(t *testing.T) {
	long := strings.Repeat("é", 150)
	srv := completionUpstream(t, long)
	defer srv.Close()

	title, err := testClient(t, srv.URL).GenerateTitle(context.Background(), "hi")
	require.NoError(t, err)

	runes := []rune(title)
	assert.Len(t, runes, 100)
	assert.Equal(t, strings.Repeat("é", 97)+"...", title)
}

func TestGenerateTitleUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).GenerateTitle(context.Background(), "hi")
	require.Error(t, err)
}

func TestNewRequestHeaders(t *testing.T) {
	c := NewClient("https://openrouter.ai/api/v1/", "sk-key", "https://game.example", "GameMaster", zerolog.Nop())

	req, err := c.newRequest(context.Background(), http.MethodGet, "/models", nil)
	require.NoError(t, err)

	assert.Equal(t, "https://openrouter.ai/api/v1/models", req.URL.String())
	assert.Equal(t, "Bearer sk-key", req.Header.Get("Authorization"))
	assert.Equal(t, "https://game.example", req.Header.Get("HTTP-Referer"))
	assert.Equal(t, "GameMaster", req.Header.Get("X-Title"))
}

// Package gamemaster provides a client for the GameMaster conversation API.
package gamemaster

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Client is a GameMaster API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	Token      string
	HTTPClient *http.Client
}

// Config holds stored credentials.
type Config struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

// NewClient creates a new GameMaster client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("GAMEMASTER_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".gamemaster")
	}

	c := &Client{
		BaseURL:    baseURL,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadConfig()
	return c
}

// LoadConfig loads stored credentials from disk.
func (c *Client) LoadConfig() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "credentials.json"))
	if err != nil {
		return err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}

	c.Token = config.Token
	return nil
}

// SaveConfig saves credentials to disk.
func (c *Client) SaveConfig(id, name string) error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	config := Config{ID: id, Name: name, Token: c.Token}
	data, _ := json.MarshalIndent(config, "", "  ")
	return os.WriteFile(filepath.Join(c.ConfigDir, "credentials.json"), data, 0600)
}

// doRequest performs an HTTP request.
func (c *Client) doRequest(method, path string, body []byte, authed bool) ([]byte, error) {
	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("gamemaster error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

// RegisterRequest is the request body for registration.
type RegisterRequest struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// RegisterResponse is the response from registration.
type RegisterResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

// Register creates a new account and stores the returned token.
func (c *Client) Register(name, email string) (*RegisterResponse, error) {
	req := RegisterRequest{Name: name, Email: email}
	body, _ := json.Marshal(req)

	respBody, err := c.doRequest("POST", "/register", body, false)
	if err != nil {
		return nil, err
	}

	var resp RegisterResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}

	c.Token = resp.Token
	if err := c.SaveConfig(resp.ID, resp.Name); err != nil {
		return nil, err
	}

	return &resp, nil
}

// Conversation represents a conversation summary.
type Conversation struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Model     string `json:"model"`
	UpdatedAt int64  `json:"updated_at"`
}

// Message represents one message in a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationDetail is the response from fetching a conversation.
type ConversationDetail struct {
	Conversation Conversation `json:"conversation"`
	Messages     []Message    `json:"messages"`
}

// CreateConversation starts a new conversation. An empty model uses the
// server default.
func (c *Client) CreateConversation(model string) (*Conversation, error) {
	body, _ := json.Marshal(map[string]string{"model": model})

	respBody, err := c.doRequest("POST", "/api/conversations", body, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Conversation Conversation `json:"conversation"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp.Conversation, nil
}

// ListConversations lists the account's conversations, most recent first.
func (c *Client) ListConversations() ([]Conversation, error) {
	respBody, err := c.doRequest("GET", "/api/conversations", nil, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// GetConversation fetches a conversation with its full message history.
func (c *Client) GetConversation(id string) (*ConversationDetail, error) {
	respBody, err := c.doRequest("GET", "/api/conversations/"+id, nil, true)
	if err != nil {
		return nil, err
	}

	var resp ConversationDetail
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteConversation deletes a conversation and its messages.
func (c *Client) DeleteConversation(id string) error {
	_, err := c.doRequest("DELETE", "/api/conversations/"+id, nil, true)
	return err
}

// SetModel changes the model used for a conversation's future turns.
func (c *Client) SetModel(conversationID, model string) error {
	body, _ := json.Marshal(map[string]string{"model": model})
	_, err := c.doRequest("PATCH", "/api/conversations/"+conversationID+"/model", body, true)
	return err
}

// Model represents an available completion model.
type Model struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	ContextLength int    `json:"context_length,omitempty"`
}

// ListModels lists the models available for conversations.
func (c *Client) ListModels() ([]Model, string, error) {
	respBody, err := c.doRequest("GET", "/api/models", nil, true)
	if err != nil {
		return nil, "", err
	}

	var resp struct {
		Models       []Model `json:"models"`
		DefaultModel string  `json:"default_model"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, "", err
	}
	return resp.Models, resp.DefaultModel, nil
}

// GetInstructions fetches the account's custom instructions.
func (c *Client) GetInstructions() (string, error) {
	respBody, err := c.doRequest("GET", "/api/instructions", nil, true)
	if err != nil {
		return "", err
	}

	var resp struct {
		Instructions string `json:"instructions"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", err
	}
	return resp.Instructions, nil
}

// SetInstructions replaces the account's custom instructions.
func (c *Client) SetInstructions(instructions string) error {
	body, _ := json.Marshal(map[string]string{"instructions": instructions})
	_, err := c.doRequest("PUT", "/api/instructions", body, true)
	return err
}

// StreamHandler receives events during a streaming turn. Any nil callback
// is skipped.
type StreamHandler struct {
	OnToken func(text string)
	OnTitle func(conversationID, title string)
	OnDone  func(messageID string)
	OnError func(message string)
}

// streamEvent is one decoded SSE frame from the chat endpoint.
type streamEvent struct {
	Token          string `json:"token"`
	Title          string `json:"title"`
	ConversationID string `json:"conversation_id"`
	Done           bool   `json:"done"`
	MessageID      string `json:"message_id"`
	Error          string `json:"error"`
}

// SendMessage sends one turn and streams the reply through the handler.
// It blocks until the stream ends or ctx is cancelled.
func (c *Client) SendMessage(ctx context.Context, conversationID, message string, thinking bool, handler StreamHandler) error {
	body, _ := json.Marshal(map[string]interface{}{
		"conversation_id":  conversationID,
		"message":          message,
		"thinking_enabled": thinking,
	})

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/chat/message", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	// Streaming turns can run far longer than the default client timeout.
	httpClient := &http.Client{Timeout: 0, Transport: c.HTTPClient.Transport}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return fmt.Errorf("gamemaster error %d: %s", resp.StatusCode, errResp.Error)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}

		switch {
		case ev.Error != "":
			if handler.OnError != nil {
				handler.OnError(ev.Error)
			}
		case ev.Done:
			if handler.OnDone != nil {
				handler.OnDone(ev.MessageID)
			}
			return nil
		case ev.Title != "":
			if handler.OnTitle != nil {
				handler.OnTitle(ev.ConversationID, ev.Title)
			}
		case ev.Token != "":
			if handler.OnToken != nil {
				handler.OnToken(ev.Token)
			}
		}
	}
	return scanner.Err()
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	respBody, err := c.doRequest("GET", "/health", nil, false)
	if err != nil {
		return nil, err
	}

	var resp HealthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

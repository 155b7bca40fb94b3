// Package openrouter implements the completion relay core: the OpenRouter
// API client, the SSE line decoder, the stream event classifier, the prompt
// assembler and the streaming relay state machine.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thainyx11/GameMaster/internal/metrics"
)

// Default sampling temperatures, carried over from the original service.
const (
	turnTemperature  = 0.8
	titleTemperature = 0.7
)

// titleModel is pinned: title generation is a cheap secondary call and does
// not follow the conversation's selected model.
const titleModel = "openai/gpt-4o-mini"

const maxTitleLength = 100

// Client talks to the OpenRouter chat completion API.
type Client struct {
	baseURL    string
	apiKey     string
	appURL     string
	appName    string
	timeout    time.Duration
	httpClient *http.Client
	catalog    Cache
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (used by tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithCatalogCache sets the model catalog cache.
func WithCatalogCache(cache Cache) Option {
	return func(c *Client) { c.catalog = cache }
}

// WithTimeout bounds the total lifetime of one completion request,
// including the streamed body.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// NewClient creates an OpenRouter client.
func NewClient(baseURL, apiKey, appURL, appName string, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		appURL:     appURL,
		appName:    appName,
		timeout:    120 * time.Second,
		httpClient: &http.Client{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.catalog == nil {
		c.catalog = NewMemoryCache(time.Hour, time.Now)
	}
	return c
}

type completionRequest struct {
	Model       string          `json:"model"`
	Messages    []PromptMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream,omitempty"`
}

type completionResponse struct {
	Error   *apiError `json:"error"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// newRequest builds an authenticated request against the API.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.appURL)
	req.Header.Set("X-Title", c.appName)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Complete performs a non-streaming completion and returns the message text.
func (c *Client) Complete(ctx context.Context, msgs []PromptMessage, model string, temperature float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(completionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ConnectionError{Err: err}
	}
	defer resp.Body.Close()
	metrics.UpstreamRequestDuration.WithLabelValues("completion").Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &ConnectionError{Err: err}
	}

	var parsed completionResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil && parsed.Error.Message != "" {
			return "", &UpstreamError{Message: parsed.Error.Message}
		}
		return "", &ConnectionError{Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	if parsed.Error != nil {
		msg := parsed.Error.Message
		if msg == "" {
			msg = genericErrorMessage
		}
		return "", &UpstreamError{Message: msg}
	}
	if len(parsed.Choices) == 0 {
		return "", &UpstreamError{Message: "completion returned no choices"}
	}
	return parsed.Choices[0].Message.Content, nil
}

// GenerateTitle asks the model for a short conversation title seeded from the
// first player message. Errors are returned for the caller to fall back on a
// default title; title generation must never fail a turn.
func (c *Client) GenerateTitle(ctx context.Context, firstMessage string) (string, error) {
	msgs := []PromptMessage{
		{
			Role: "system",
			Content: "Generate a short title (at most 6 words) for a roleplaying conversation. " +
				"Reply ONLY with the title, without quotes or trailing punctuation.",
		},
		{
			Role:    "user",
			Content: fmt.Sprintf("Generate a title for this conversation, which starts with: %q", firstMessage),
		},
	}

	title, err := c.Complete(ctx, msgs, titleModel, titleTemperature)
	if err != nil {
		return "", err
	}

	title = strings.Trim(strings.TrimSpace(title), `"'`)
	if len([]rune(title)) > maxTitleLength {
		title = string([]rune(title)[:maxTitleLength-3]) + "..."
	}
	return title, nil
}

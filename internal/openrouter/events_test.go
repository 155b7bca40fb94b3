package openrouter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Event
	}{
		{
			name:    "done sentinel",
			payload: "[DONE]",
			want:    Event{Kind: EventDone},
		},
		{
			name:    "content delta",
			payload: `{"choices":[{"delta":{"content":"Hello"}}]}`,
			want:    Event{Kind: EventContent, Text: "Hello"},
		},
		{
			name:    "reasoning delta",
			payload: `{"choices":[{"delta":{"reasoning":"thinking..."}}]}`,
			want:    Event{Kind: EventReasoning, Text: "thinking..."},
		},
		{
			name:    "reasoning_content variant",
			payload: `{"choices":[{"delta":{"reasoning_content":"hmm"}}]}`,
			want:    Event{Kind: EventReasoning, Text: "hmm"},
		},
		{
			name:    "content wins over reasoning",
			payload: `{"choices":[{"delta":{"content":"answer","reasoning":"ignored"}}]}`,
			want:    Event{Kind: EventContent, Text: "answer"},
		},
		{
			name:    "error with message",
			payload: `{"error":{"message":"rate limited","code":429}}`,
			want:    Event{Kind: EventError, Text: "rate limited"},
		},
		{
			name:    "error without message",
			payload: `{"error":{}}`,
			want:    Event{Kind: EventError, Text: "unknown upstream error"},
		},
		{
			name:    "error wins over choices",
			payload: `{"error":{"message":"boom"},"choices":[{"delta":{"content":"x"}}]}`,
			want:    Event{Kind: EventError, Text: "boom"},
		},
		{
			name:    "malformed JSON is soft",
			payload: `{"choices":[{"delta":{"content":"trunc`,
			want:    Event{Kind: EventNone},
		},
		{
			name:    "not JSON at all",
			payload: "OPENROUTER PROCESSING",
			want:    Event{Kind: EventNone},
		},
		{
			name:    "empty choices",
			payload: `{"choices":[]}`,
			want:    Event{Kind: EventNone},
		},
		{
			name:    "empty delta",
			payload: `{"choices":[{"delta":{}}]}`,
			want:    Event{Kind: EventNone},
		},
		{
			name:    "usage-only chunk",
			payload: `{"usage":{"total_tokens":42}}`,
			want:    Event{Kind: EventNone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.payload))
		})
	}
}

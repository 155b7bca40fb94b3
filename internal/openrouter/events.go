package openrouter

import "encoding/json"

// EventKind labels a classified stream event.
type EventKind int

const (
	// EventNone carries no actionable signal: heartbeats, deltas with no
	// text, or malformed JSON. Dropped, never fatal.
	EventNone EventKind = iota
	EventContent
	EventReasoning
	EventError
	EventDone
)

// Event is one classified upstream stream event.
type Event struct {
	Kind EventKind
	Text string // token text for Content/Reasoning, message for Error
}

// doneSentinel terminates an OpenRouter stream.
const doneSentinel = "[DONE]"

// genericErrorMessage is used when an error event has no message field.
const genericErrorMessage = "unknown upstream error"

type streamDelta struct {
	Content          string `json:"content"`
	Reasoning        string `json:"reasoning"`
	ReasoningContent string `json:"reasoning_content"`
}

type streamChoice struct {
	Delta streamDelta `json:"delta"`
}

type streamChunk struct {
	Error   *apiError      `json:"error"`
	Choices []streamChoice `json:"choices"`
}

type apiError struct {
	Message string `json:"message"`
}

// Classify parses one payload string and labels it. Malformed JSON is a soft
// failure: upstream emits keepalive and partially specified frames, so
// anything unrecognized classifies as EventNone rather than aborting the
// stream.
func Classify(payload string) Event {
	if payload == doneSentinel {
		return Event{Kind: EventDone}
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return Event{Kind: EventNone}
	}

	if chunk.Error != nil {
		msg := chunk.Error.Message
		if msg == "" {
			msg = genericErrorMessage
		}
		return Event{Kind: EventError, Text: msg}
	}

	if len(chunk.Choices) == 0 {
		return Event{Kind: EventNone}
	}

	delta := chunk.Choices[0].Delta
	if delta.Content != "" {
		return Event{Kind: EventContent, Text: delta.Content}
	}
	// Both reasoning keys map to the same event kind; first one present wins.
	if delta.Reasoning != "" {
		return Event{Kind: EventReasoning, Text: delta.Reasoning}
	}
	if delta.ReasoningContent != "" {
		return Event{Kind: EventReasoning, Text: delta.ReasoningContent}
	}

	return Event{Kind: EventNone}
}

package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/Thainyx11/GameMaster/internal/metrics"
)

// Relay states. One machine runs per turn; it is not resumable.
var (
	stateIdle       stateless.State = "Idle"
	stateRequesting stateless.State = "Requesting"
	stateStreaming  stateless.State = "Streaming"
	stateCompleted  stateless.State = "Completed"
	stateFailed     stateless.State = "Failed"
	stateClosed     stateless.State = "Closed"
)

// Relay triggers.
var (
	triggerStart         stateless.Trigger = "Start"
	triggerConnected     stateless.Trigger = "Connected"
	triggerConnectFailed stateless.Trigger = "ConnectFailed"
	triggerDone          stateless.Trigger = "Done"
	triggerUpstreamError stateless.Trigger = "UpstreamError"
	triggerStreamClosed  stateless.Trigger = "StreamClosed"
	triggerSinkBroken    stateless.Trigger = "SinkBroken"
	triggerRelease       stateless.Trigger = "Release"
)

// TokenSink receives content and reasoning fragments as they arrive. A sink
// error means the downstream client is gone; the relay aborts the upstream
// read instead of consuming and accumulating indefinitely.
type TokenSink interface {
	Token(text string) error
}

// Outcome is the result of one relay run. Finished is true only when the
// stream reached [DONE]; an upstream close without a terminator is recorded
// as a failure, so silent truncation is never persisted as success.
type Outcome struct {
	FullText string
	Err      error
	Finished bool
}

type relay struct {
	client      *Client
	sink        TokenSink
	machine     *stateless.StateMachine
	body        io.ReadCloser
	full        strings.Builder
	inReasoning bool
	err         error
	finished    bool
}

// Stream opens a streaming completion request and relays classified events
// to sink until the stream terminates. Each Content/Reasoning fragment is
// forwarded with no buffering delay and accumulated into the returned
// Outcome; reasoning fragments are wrapped in the delimiter markers so the
// transcript keeps the distinction inline, and the sink observes exactly the
// accumulated text.
func (c *Client) Stream(ctx context.Context, msgs []PromptMessage, model string, sink TokenSink) Outcome {
	r := &relay{client: c, sink: sink}
	return r.run(ctx, msgs, model)
}

func (r *relay) run(ctx context.Context, msgs []PromptMessage, model string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, r.client.timeout)
	defer cancel()

	m := stateless.NewStateMachine(stateIdle)
	m.Configure(stateIdle).
		Permit(triggerStart, stateRequesting)
	m.Configure(stateRequesting).
		Permit(triggerConnected, stateStreaming).
		Permit(triggerConnectFailed, stateFailed)
	m.Configure(stateStreaming).
		Permit(triggerDone, stateCompleted).
		Permit(triggerUpstreamError, stateFailed).
		Permit(triggerStreamClosed, stateFailed).
		Permit(triggerSinkBroken, stateFailed)
	m.Configure(stateCompleted).
		OnEntry(func(context.Context, ...any) error {
			r.finished = true
			return nil
		}).
		Permit(triggerRelease, stateClosed)
	m.Configure(stateFailed).
		Permit(triggerRelease, stateClosed)
	m.Configure(stateClosed).
		OnEntry(func(context.Context, ...any) error {
			if r.body != nil {
				r.body.Close()
			}
			cancel()
			return nil
		})
	r.machine = m

	start := time.Now()
	r.fire(triggerStart)

	if err := r.connect(ctx, msgs, model); err != nil {
		r.err = err
		r.fire(triggerConnectFailed)
	} else {
		r.fire(triggerConnected)
		r.consume(ctx)
	}

	r.fire(triggerRelease)
	metrics.UpstreamRequestDuration.WithLabelValues("stream").Observe(time.Since(start).Seconds())

	return Outcome{FullText: r.full.String(), Err: r.err, Finished: r.finished}
}

func (r *relay) fire(trigger stateless.Trigger) {
	if err := r.machine.Fire(trigger); err != nil {
		r.client.logger.Warn().Err(err).Interface("trigger", trigger).Msg("relay state machine fire failed")
	}
}

// connect issues the upstream POST. An HTTP-level failure, or a non-2xx
// status before any body, never enters Streaming.
func (r *relay) connect(ctx context.Context, msgs []PromptMessage, model string) error {
	payload, err := json.Marshal(completionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: turnTemperature,
		Stream:      true,
	})
	if err != nil {
		return &ConnectionError{Err: err}
	}

	req, err := r.client.newRequest(ctx, http.MethodPost, "/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return &ConnectionError{Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := r.client.httpClient.Do(req)
	if err != nil {
		return &ConnectionError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		var parsed completionResponse
		if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil && parsed.Error.Message != "" {
			return &ConnectionError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, parsed.Error.Message)}
		}
		return &ConnectionError{Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	r.body = resp.Body
	return nil
}

// consume drives the decoder/classifier pipeline until a terminal event.
func (r *relay) consume(ctx context.Context) {
	dec := NewLineDecoder(r.body)

	for {
		payload, err := dec.Next()
		if err != nil {
			r.streamClosed(ctx, err)
			return
		}

		event := Classify(payload)
		switch event.Kind {
		case EventDone:
			metrics.StreamEventsTotal.WithLabelValues("done").Inc()
			// Remaining bytes, if any, are left unread.
			if err := r.setReasoning(false); err != nil {
				r.sinkBroken(err)
				return
			}
			r.fire(triggerDone)
			return

		case EventError:
			metrics.StreamEventsTotal.WithLabelValues("error").Inc()
			r.err = &UpstreamError{Message: event.Text}
			r.fire(triggerUpstreamError)
			return

		case EventContent:
			metrics.StreamEventsTotal.WithLabelValues("content").Inc()
			if err := r.setReasoning(false); err != nil {
				r.sinkBroken(err)
				return
			}
			if err := r.emit(event.Text); err != nil {
				r.sinkBroken(err)
				return
			}

		case EventReasoning:
			metrics.StreamEventsTotal.WithLabelValues("reasoning").Inc()
			if err := r.setReasoning(true); err != nil {
				r.sinkBroken(err)
				return
			}
			if err := r.emit(event.Text); err != nil {
				r.sinkBroken(err)
				return
			}

		default:
			metrics.StreamEventsTotal.WithLabelValues("skipped").Inc()
		}
	}
}

// streamClosed handles the upstream ending without [DONE] or an error frame.
// Truncation is a failure, not an implicit success.
func (r *relay) streamClosed(ctx context.Context, cause error) {
	switch {
	case ctx.Err() != nil:
		r.err = ctx.Err()
	case errors.Is(cause, io.EOF):
		r.err = &UpstreamError{Message: "stream closed before completion"}
	default:
		r.err = &UpstreamError{Message: cause.Error()}
	}
	r.fire(triggerStreamClosed)
}

func (r *relay) sinkBroken(cause error) {
	r.err = cause
	r.fire(triggerSinkBroken)
}

// setReasoning tracks whether the transcript is inside a reasoning segment,
// emitting the delimiter markers on transitions.
func (r *relay) setReasoning(in bool) error {
	if in == r.inReasoning {
		return nil
	}
	r.inReasoning = in
	if in {
		return r.emit(ReasoningStartMarker + "\n")
	}
	return r.emit("\n" + ReasoningEndMarker + "\n\n")
}

// emit forwards one fragment downstream and accumulates it.
func (r *relay) emit(text string) error {
	r.full.WriteString(text)
	if r.sink == nil {
		return nil
	}
	if err := r.sink.Token(text); err != nil {
		return fmt.Errorf("downstream sink: %w", err)
	}
	return nil
}

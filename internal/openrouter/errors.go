package openrouter

import "fmt"

// ConnectionError indicates the upstream was unreachable, or answered with a
// non-2xx status before any streaming began. Fatal to the turn, no retry.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("openrouter connection failed: %v", e.Err)
	}
	return "openrouter connection failed"
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// UpstreamError is an error event received inside an otherwise established
// stream, or a truncated stream. Fatal to the turn, surfaced verbatim.
type UpstreamError struct {
	Message string
}

func (e *UpstreamError) Error() string {
	return e.Message
}

package openrouter

import (
	"bytes"
	"io"
	"strings"
)

// dataPrefix marks SSE payload lines. Everything else on the wire (blank
// separators, ": keep-alive" comments, event name lines) carries no payload.
const dataPrefix = "data: "

// readChunkSize is deliberately small relative to upstream frames: reads are
// not expected to align with line, JSON or even UTF-8 boundaries.
const readChunkSize = 1024

// LineDecoder turns a raw byte stream into a sequence of SSE payload strings.
// It maintains a single growable buffer; each read appends to it, and the
// buffer is scanned for the next newline. Lines are the unit of parsing, not
// reads: a read may end mid-rune or mid-JSON-object.
type LineDecoder struct {
	r   io.Reader
	buf []byte
	err error
}

// NewLineDecoder creates a decoder over the given byte source.
func NewLineDecoder(r io.Reader) *LineDecoder {
	return &LineDecoder{r: r}
}

// splitLine extracts the first newline-terminated line from buf.
// Pure over its input: returns the line without the trailing newline, the
// remaining buffer, and whether a complete line was found.
func splitLine(buf []byte) (line string, rest []byte, ok bool) {
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		return "", buf, false
	}
	return string(buf[:i]), buf[i+1:], true
}

// Next returns the next payload string, i.e. the text after "data: " on the
// next payload line. Blank lines, comment lines and other non-data lines are
// skipped. Returns io.EOF when the source is exhausted; a dangling partial
// line at end-of-stream is an incomplete frame and is discarded.
func (d *LineDecoder) Next() (string, error) {
	for {
		line, rest, ok := splitLine(d.buf)
		if ok {
			d.buf = rest
			if payload, isData := payloadOf(line); isData {
				return payload, nil
			}
			continue
		}

		if d.err != nil {
			d.buf = nil
			return "", d.err
		}

		chunk := make([]byte, readChunkSize)
		n, err := d.r.Read(chunk)
		if n > 0 {
			d.buf = append(d.buf, chunk[:n]...)
		}
		if err != nil {
			// Keep draining buffered complete lines before reporting it.
			d.err = err
		}
	}
}

// payloadOf strips the data prefix from a line, filtering empty lines and
// comments (lines starting with ':').
func payloadOf(line string) (string, bool) {
	line = strings.TrimSuffix(line, "\r")
	if line == "" || strings.HasPrefix(line, ":") {
		return "", false
	}
	if !strings.HasPrefix(line, dataPrefix) {
		return "", false
	}
	return line[len(dataPrefix):], true
}

// Package sse reads and writes text/event-stream bodies.
package sse

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Event is one dispatched server-sent event.
type Event struct {
	Event string
	Data  []byte
}

// Reader splits an event stream into events.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	// Increase buffer size for potentially large chunks (inline images)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 32*1024*1024)
	return &Reader{scanner: scanner}
}

// Next returns the next event, or io.EOF when the stream ends cleanly.
// Multiple data lines are joined with a newline; comments are skipped.
func (r *Reader) Next() (*Event, error) {
	var (
		ev      Event
		data    bytes.Buffer
		hasData bool
	)

	for r.scanner.Scan() {
		line := r.scanner.Text()

		if line == "" {
			if hasData {
				ev.Data = data.Bytes()
				return &ev, nil
			}
			ev.Event = ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			ev.Event = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
	}

	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream read error: %w", err)
	}

	// Some providers omit the blank line after the last event.
	if hasData {
		ev.Data = data.Bytes()
		return &ev, nil
	}
	return nil, io.EOF
}

// WriteEvent writes a single event and flushes it if w supports flushing.
func WriteEvent(w io.Writer, event string, data []byte) error {
	var buf bytes.Buffer
	if event != "" {
		buf.WriteString("event: ")
		buf.WriteString(event)
		buf.WriteByte('\n')
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')

	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// SetHeaders prepares a response for streaming.
func SetHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

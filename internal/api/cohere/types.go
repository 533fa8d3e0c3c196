// Package cohere provides types and an HTTP client for the Cohere v2 Chat API.
package cohere

import (
	"encoding/json"

	"github.com/openmaas/openmaas-gateway/internal/domain"
)

// ChatRequest is the body of POST /v2/chat.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// Message is a chat turn. Cohere accepts system, user and assistant roles.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Stream event types.
const (
	EventMessageStart = "message-start"
	EventContentStart = "content-start"
	EventContentDelta = "content-delta"
	EventContentEnd   = "content-end"
	EventMessageEnd   = "message-end"
)

// StreamEvent is one streamed event.
type StreamEvent struct {
	Type  string       `json:"type"`
	Index int          `json:"index,omitempty"`
	Delta *StreamDelta `json:"delta,omitempty"`
}

// StreamDelta carries the event payload.
type StreamDelta struct {
	Message *struct {
		Content *struct {
			Text string `json:"text"`
		} `json:"content,omitempty"`
	} `json:"message,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Text returns the text carried by a content-delta event.
func (e *StreamEvent) Text() string {
	if e.Delta == nil || e.Delta.Message == nil || e.Delta.Message.Content == nil {
		return ""
	}
	return e.Delta.Message.Content.Text
}

// ErrorResponse is Cohere's error body.
type ErrorResponse struct {
	Message string `json:"message"`
}

// ToCanonical converts the native error into the gateway taxonomy.
func (e *ErrorResponse) ToCanonical(status int) *domain.APIError {
	return domain.ErrFromStatus(status, e.Message)
}

// ParseErrorResponse attempts to parse an error response from JSON.
func ParseErrorResponse(data []byte) (*ErrorResponse, error) {
	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err != nil {
		return nil, err
	}
	if errResp.Message == "" {
		return nil, nil
	}
	return &errResp, nil
}

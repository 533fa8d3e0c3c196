// Package anthropic provides types and an HTTP client for the Anthropic Messages API.
package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/openmaas/openmaas-gateway/internal/domain"
)

// MessagesRequest represents an Anthropic messages request.
type MessagesRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// Message represents a conversation turn. Content is plain text.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessageStartEvent is sent first in a stream.
type MessageStartEvent struct {
	Type    string `json:"type"`
	Message struct {
		ID    string `json:"id"`
		Model string `json:"model"`
	} `json:"message"`
}

// ContentBlockDeltaEvent carries incremental content.
type ContentBlockDeltaEvent struct {
	Type  string     `json:"type"`
	Index int        `json:"index"`
	Delta BlockDelta `json:"delta"`
}

// BlockDelta is the delta payload. Only text_delta carries user-visible text.
type BlockDelta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// MessageDeltaEvent carries the stop reason near the end of a stream.
type MessageDeltaEvent struct {
	Type  string `json:"type"`
	Delta struct {
		StopReason string `json:"stop_reason,omitempty"`
	} `json:"delta"`
}

// ErrorResponse represents an Anthropic error response, also used as the
// payload of in-stream error events.
type ErrorResponse struct {
	Type  string    `json:"type"`
	Error *APIError `json:"error"`
}

// APIError represents an Anthropic API error.
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Type + ": " + e.Message
}

// ToCanonical converts the native error into the gateway taxonomy.
func (e *APIError) ToCanonical(status int) *domain.APIError {
	canonical := domain.ErrFromStatus(status, e.Message)

	switch e.Type {
	case "authentication_error", "permission_error":
		canonical.Type = domain.ErrorTypeAuthentication
	case "rate_limit_error":
		canonical.Type = domain.ErrorTypeRateLimit
		canonical.Code = domain.ErrorCodeRateLimitExceeded
	case "invalid_request_error":
		msg := strings.ToLower(e.Message)
		if strings.Contains(msg, "prompt is too long") || strings.Contains(msg, "context window") {
			canonical.Type = domain.ErrorTypeContextLength
			canonical.Code = domain.ErrorCodeContextLengthExceeded
		}
	}
	return canonical
}

// ParseErrorResponse attempts to parse an error response from JSON.
func ParseErrorResponse(data []byte) (*APIError, error) {
	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err != nil {
		return nil, err
	}
	if errResp.Error == nil {
		return nil, nil
	}
	return errResp.Error, nil
}

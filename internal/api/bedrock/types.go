// Package bedrock provides types and an HTTP client for the Amazon Bedrock
// Converse API authenticated with a Bedrock API key.
package bedrock

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/openmaas/openmaas-gateway/internal/domain"
)

// ConverseRequest is the body of POST /model/{modelId}/converse.
type ConverseRequest struct {
	Messages        []Message        `json:"messages"`
	System          []ContentBlock   `json:"system,omitempty"`
	InferenceConfig *InferenceConfig `json:"inferenceConfig,omitempty"`
}

// Message is a conversation turn. Bedrock accepts user and assistant roles.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is a text content block.
type ContentBlock struct {
	Text string `json:"text"`
}

// InferenceConfig holds sampling parameters.
type InferenceConfig struct {
	MaxTokens   int      `json:"maxTokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// ConverseResponse is returned by the Converse API.
type ConverseResponse struct {
	Output struct {
		Message Message `json:"message"`
	} `json:"output"`
	StopReason string `json:"stopReason"`
	Usage      struct {
		InputTokens  int `json:"inputTokens"`
		OutputTokens int `json:"outputTokens"`
	} `json:"usage"`
}

// Text concatenates the text blocks of the output message.
func (r *ConverseResponse) Text() string {
	var sb strings.Builder
	for _, block := range r.Output.Message.Content {
		sb.WriteString(block.Text)
	}
	return sb.String()
}

// ErrorResponse is Bedrock's error body.
type ErrorResponse struct {
	Message string `json:"message"`
}

// ToCanonical converts the native error into the gateway taxonomy.
func (e *ErrorResponse) ToCanonical(status int) *domain.APIError {
	canonical := domain.ErrFromStatus(status, e.Message)
	if status == http.StatusBadRequest && strings.Contains(strings.ToLower(e.Message), "too long") {
		canonical.Type = domain.ErrorTypeContextLength
		canonical.Code = domain.ErrorCodeContextLengthExceeded
	}
	return canonical
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

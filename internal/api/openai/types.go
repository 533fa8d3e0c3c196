// Package openai provides types and an HTTP client for the OpenAI API and the
// OpenAI-compatible APIs of Azure OpenAI, Mistral and Ollama.
package openai

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/openmaas/openmaas-gateway/internal/domain"
)

// ChatCompletionRequest represents an OpenAI chat completion request.
type ChatCompletionRequest struct {
	Model         string                  `json:"model"`
	Messages      []ChatCompletionMessage `json:"messages"`
	MaxTokens     int                     `json:"max_tokens,omitempty"`
	Temperature   *float64                `json:"temperature,omitempty"`
	Stream        bool                    `json:"stream,omitempty"`
	StreamOptions *StreamOptions          `json:"stream_options,omitempty"`
}

// StreamOptions configures streaming behavior.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// ChatCompletionMessage represents a message in the chat completion request.
type ChatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage represents token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChunk represents a streaming chunk.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// ChunkChoice represents a choice in a streaming chunk.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChunkDelta represents the delta in a streaming chunk.
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ImageRequest is the body of POST /images/generations.
type ImageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// ImageResponse is returned by POST /images/generations.
type ImageResponse struct {
	Created      int64       `json:"created"`
	Data         []ImageData `json:"data"`
	OutputFormat string      `json:"output_format,omitempty"`
}

// ImageData is one generated image.
type ImageData struct {
	B64JSON       string `json:"b64_json,omitempty"`
	URL           string `json:"url,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// VideoRequest is the body of POST /videos.
type VideoRequest struct {
	Model   string
	Prompt  string
	Size    string
	Seconds string
}

// Video is a video generation job.
type Video struct {
	ID       string      `json:"id"`
	Object   string      `json:"object"`
	Model    string      `json:"model"`
	Status   string      `json:"status"` // queued, in_progress, completed, failed
	Progress int         `json:"progress"`
	Seconds  string      `json:"seconds,omitempty"`
	Size     string      `json:"size,omitempty"`
	Error    *VideoError `json:"error,omitempty"`
}

// VideoError describes a failed video job.
type VideoError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Video job states.
const (
	VideoStatusQueued     = "queued"
	VideoStatusInProgress = "in_progress"
	VideoStatusCompleted  = "completed"
	VideoStatusFailed     = "failed"
)

// SpeechRequest is the body of POST /audio/speech.
type SpeechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed,omitempty"`
	ResponseFormat string  `json:"response_format,omitempty"`
}

// TranscriptionRequest is the multipart body of POST /audio/transcriptions.
type TranscriptionRequest struct {
	Model    string
	Filename string
	MimeType string
	Data     []byte
}

// Transcription is returned by POST /audio/transcriptions.
type Transcription struct {
	Text string `json:"text"`
}

// ErrorResponse represents an OpenAI error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// APIError represents an OpenAI API error.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return e.Type + " (" + e.Code + "): " + e.Message
	}
	return e.Type + ": " + e.Message
}

// ToCanonical converts the native error into the gateway taxonomy. The HTTP
// status decides the category; native codes refine it.
func (e *APIError) ToCanonical(status int) *domain.APIError {
	canonical := domain.ErrFromStatus(status, e.Message).WithParam(e.Param)

	switch e.Code {
	case "context_length_exceeded":
		canonical.Type = domain.ErrorTypeContextLength
		canonical.Code = domain.ErrorCodeContextLengthExceeded
	case "invalid_api_key":
		canonical.Type = domain.ErrorTypeAuthentication
		canonical.Code = domain.ErrorCodeInvalidAPIKey
	case "model_not_found":
		canonical.Code = domain.ErrorCodeModelNotFound
	case "rate_limit_exceeded":
		canonical.Type = domain.ErrorTypeRateLimit
		canonical.Code = domain.ErrorCodeRateLimitExceeded
	}

	if status == http.StatusBadRequest && strings.Contains(strings.ToLower(e.Message), "maximum context length") {
		canonical.Type = domain.ErrorTypeContextLength
		canonical.Code = domain.ErrorCodeContextLengthExceeded
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

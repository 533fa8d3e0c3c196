// Package gemini provides types and clients for the Gemini API: content
// generation over HTTP/SSE, Imagen and Veo prediction, long-running
// operations, and Lyria RealTime music over WebSocket. The same protocol is
// served by Vertex AI publisher endpoints.
package gemini

import (
	"encoding/json"
	"strings"

	"github.com/openmaas/openmaas-gateway/internal/domain"
)

// Blob is inline binary data.
type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

// Part is one piece of content.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
	Thought    bool   `json:"thought,omitempty"`
}

// Content is a role-tagged list of parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// PrebuiltVoiceConfig selects a named voice.
type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

// VoiceConfig wraps the voice selection.
type VoiceConfig struct {
	PrebuiltVoiceConfig PrebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

// SpeechConfig configures audio output.
type SpeechConfig struct {
	VoiceConfig VoiceConfig `json:"voiceConfig"`
}

// GenerationConfig holds sampling and output settings.
type GenerationConfig struct {
	Temperature        *float64      `json:"temperature,omitempty"`
	MaxOutputTokens    int           `json:"maxOutputTokens,omitempty"`
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

// GenerateContentRequest is the body of generateContent and streamGenerateContent.
type GenerateContentRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

// Candidate is one generated response.
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// PromptFeedback reports prompt-level blocking.
type PromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

// GenerateContentResponse is a full response or one streamed increment.
type GenerateContentResponse struct {
	Candidates     []Candidate     `json:"candidates"`
	PromptFeedback *PromptFeedback `json:"promptFeedback,omitempty"`
}

// PredictInstance is one Imagen or Veo prompt.
type PredictInstance struct {
	Prompt string `json:"prompt"`
}

// PredictParameters configures Imagen and Veo predictions.
type PredictParameters struct {
	SampleCount     int    `json:"sampleCount,omitempty"`
	AspectRatio     string `json:"aspectRatio,omitempty"`
	Resolution      string `json:"resolution,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
}

// PredictRequest is the body of :predict and :predictLongRunning.
type PredictRequest struct {
	Instances  []PredictInstance  `json:"instances"`
	Parameters *PredictParameters `json:"parameters,omitempty"`
}

// Prediction is one Imagen output.
type Prediction struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType,omitempty"`
}

// PredictResponse is returned by :predict.
type PredictResponse struct {
	Predictions []Prediction `json:"predictions"`
}

// Status is a google.rpc.Status.
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// VideoRef points at a generated video file.
type VideoRef struct {
	URI string `json:"uri"`
}

// GeneratedSample is one generated video.
type GeneratedSample struct {
	Video VideoRef `json:"video"`
}

// GenerateVideoResponse is the result of a finished Veo operation.
type GenerateVideoResponse struct {
	GeneratedSamples        []GeneratedSample `json:"generatedSamples"`
	RaiMediaFilteredReasons []string          `json:"raiMediaFilteredReasons,omitempty"`
}

// OperationResponse wraps the typed operation result.
type OperationResponse struct {
	GenerateVideoResponse *GenerateVideoResponse `json:"generateVideoResponse,omitempty"`
}

// Operation is a long-running job.
type Operation struct {
	Name     string             `json:"name"`
	Done     bool               `json:"done"`
	Error    *Status            `json:"error,omitempty"`
	Response *OperationResponse `json:"response,omitempty"`
}

// ErrorResponse represents a Gemini error response.
type ErrorResponse struct {
	Error *Status `json:"error"`
}

// ToCanonical converts a Gemini error status into the gateway taxonomy.
func ToCanonical(httpStatus int, s *Status) *domain.APIError {
	canonical := domain.ErrFromStatus(httpStatus, s.Message)

	switch s.Status {
	case "UNAUTHENTICATED", "PERMISSION_DENIED":
		canonical.Type = domain.ErrorTypeAuthentication
	case "RESOURCE_EXHAUSTED":
		canonical.Type = domain.ErrorTypeRateLimit
		canonical.Code = domain.ErrorCodeRateLimitExceeded
	case "INVALID_ARGUMENT":
		// An invalid key is reported as a bad argument.
		if strings.Contains(s.Message, "API key not valid") || strings.Contains(s.Message, "API_KEY_INVALID") {
			canonical.Type = domain.ErrorTypeAuthentication
			canonical.Code = domain.ErrorCodeInvalidAPIKey
		}
		if strings.Contains(s.Message, "exceeds the maximum number of tokens") {
			canonical.Type = domain.ErrorTypeContextLength
			canonical.Code = domain.ErrorCodeContextLengthExceeded
		}
	}
	return canonical
}

// ParseErrorResponse attempts to parse an error response from JSON.
func ParseErrorResponse(data []byte) (*Status, error) {
	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err != nil {
		return nil, err
	}
	return errResp.Error, nil
}

// Package domain holds the provider-neutral request, chunk and message types
// shared by every layer of the gateway.
package domain

import (
	"fmt"
	"time"
)

// ProviderID identifies an entry in the provider catalog.
type ProviderID string

const (
	ProviderOpenAI    ProviderID = "openai"
	ProviderAnthropic ProviderID = "anthropic"
	ProviderGemini    ProviderID = "gemini"
	ProviderBedrock   ProviderID = "bedrock"
	ProviderAzure     ProviderID = "azure"
	ProviderVertex    ProviderID = "vertex"
	ProviderMistral   ProviderID = "mistral"
	ProviderCohere    ProviderID = "cohere"
	ProviderOllama    ProviderID = "ollama"
)

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Modality is the output category of a model.
type Modality string

const (
	ModalityChat  Modality = "chat"
	ModalityImage Modality = "image"
	ModalityVideo Modality = "video"
	ModalityMusic Modality = "music"
	ModalityTTS   Modality = "tts"
	ModalitySTT   Modality = "stt"
)

// IsMedia reports whether the modality produces long-running media jobs.
func (m Modality) IsMedia() bool {
	return m == ModalityVideo || m == ModalityMusic
}

// Volatility selects the storage tier a credential lives in.
type Volatility string

const (
	VolatilityDurable   Volatility = "durable"
	VolatilitySession   Volatility = "session"
	VolatilityEphemeral Volatility = "ephemeral"
)

// ParseVolatility converts a user supplied string into a Volatility.
func ParseVolatility(s string) (Volatility, error) {
	switch v := Volatility(s); v {
	case VolatilityDurable, VolatilitySession, VolatilityEphemeral:
		return v, nil
	}
	return "", fmt.Errorf("unknown volatility %q", s)
}

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// VideoConfig controls video generation.
type VideoConfig struct {
	AspectRatio     string `json:"aspectRatio"`
	Resolution      string `json:"resolution"`
	DurationSeconds int    `json:"durationSeconds"`
}

// MusicConfig controls music generation.
type MusicConfig struct {
	BPM             int `json:"bpm"`
	DurationSeconds int `json:"durationSeconds"`
}

// SpeechConfig controls text-to-speech synthesis.
type SpeechConfig struct {
	Voice           string  `json:"voice"`
	SpeedMultiplier float64 `json:"speedMultiplier"`
}

// ModalityConfig carries the settings for exactly one target modality.
type ModalityConfig struct {
	Video  *VideoConfig  `json:"video,omitempty"`
	Music  *MusicConfig  `json:"music,omitempty"`
	Speech *SpeechConfig `json:"speech,omitempty"`
}

// Validate checks that at most one variant is populated.
func (c *ModalityConfig) Validate() error {
	if c == nil {
		return nil
	}
	set := 0
	if c.Video != nil {
		set++
	}
	if c.Music != nil {
		set++
	}
	if c.Speech != nil {
		set++
	}
	if set > 1 {
		return ErrInvalidRequest("modalityConfig must set at most one of video, music, speech").
			WithParam("modalityConfig")
	}
	return nil
}

// DefaultVideoConfig mirrors the playground defaults.
func DefaultVideoConfig() VideoConfig {
	return VideoConfig{AspectRatio: "16:9", Resolution: "720p", DurationSeconds: 8}
}

// DefaultMusicConfig mirrors the playground defaults.
func DefaultMusicConfig() MusicConfig {
	return MusicConfig{BPM: 120, DurationSeconds: 20}
}

// DefaultSpeechConfig mirrors the playground defaults.
func DefaultSpeechConfig() SpeechConfig {
	return SpeechConfig{Voice: "alloy", SpeedMultiplier: 1.0}
}

// GenerateRequest is the unified request accepted by every adapter.
type GenerateRequest struct {
	ProviderID     ProviderID      `json:"providerId"`
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"maxTokens,omitempty"`
	ModalityConfig *ModalityConfig `json:"modalityConfig,omitempty"`

	// Modality is stamped by the router from the catalog before dispatch.
	Modality Modality `json:"modality,omitempty"`
}

// Validate checks the request shape. Catalog membership is checked by the router.
func (r *GenerateRequest) Validate() error {
	if r == nil {
		return ErrInvalidRequest("request is required")
	}
	if r.Model == "" {
		return ErrInvalidRequest("model is required").WithParam("model")
	}
	if len(r.Messages) == 0 {
		return ErrInvalidRequest("at least one message is required").WithParam("messages")
	}
	for i, m := range r.Messages {
		if !m.Role.Valid() {
			return ErrInvalidRequest(fmt.Sprintf("messages[%d]: unknown role %q", i, m.Role)).WithParam("messages")
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return ErrInvalidRequest("temperature must be between 0 and 2").WithParam("temperature")
	}
	if r.MaxTokens < 0 {
		return ErrInvalidRequest("maxTokens must not be negative").WithParam("maxTokens")
	}
	return r.ModalityConfig.Validate()
}

// LastUserText returns the content of the most recent user message. Media
// endpoints that accept a single prompt use it.
func (r *GenerateRequest) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

// SystemPrompt joins all system messages.
func (r *GenerateRequest) SystemPrompt() string {
	var out string
	for _, m := range r.Messages {
		if m.Role != RoleSystem {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += m.Content
	}
	return out
}

// Image is an inline generated image.
type Image struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

// Video references a generated video. URL is usually a data URL.
type Video struct {
	URL string `json:"url"`
}

// Audio references generated audio. URL is usually a data URL.
type Audio struct {
	URL string `json:"url"`
}

// Chunk is one element of a normalized response stream.
//
// Exactly one chunk per stream has IsFinal set and it carries no deltas.
// A chunk with Err set is terminal and is never delivered after the final.
type Chunk struct {
	TextDelta string  `json:"textDelta,omitempty"`
	Images    []Image `json:"images,omitempty"`
	Videos    []Video `json:"videos,omitempty"`
	Audios    []Audio `json:"audios,omitempty"`
	IsFinal   bool    `json:"isFinal"`

	Err error `json:"-"`
}

// HasDelta reports whether the chunk carries any payload.
func (c Chunk) HasDelta() bool {
	return c.TextDelta != "" || len(c.Images) > 0 || len(c.Videos) > 0 || len(c.Audios) > 0
}

// FinalChunk is the end-of-stream marker.
func FinalChunk() Chunk { return Chunk{IsFinal: true} }

// ErrorChunk wraps a terminal stream error.
func ErrorChunk(err error) Chunk { return Chunk{Err: err} }

// GeneratedMessage is the immutable result of aggregating a stream.
type GeneratedMessage struct {
	ID                     string    `json:"id"`
	Role                   Role      `json:"role"`
	Content                string    `json:"content"`
	Images                 []Image   `json:"images,omitempty"`
	Videos                 []Video   `json:"videos,omitempty"`
	Audios                 []Audio   `json:"audios,omitempty"`
	TimeToFirstChunkMillis int64     `json:"timeToFirstChunkMillis"`
	CreatedAt              time.Time `json:"createdAt"`
}

// AudioBlob is transcription input.
type AudioBlob struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// Package gemini adapts the Gemini API, and Gemini models served from Vertex
// AI publisher endpoints, to the gateway's chunk stream.
package gemini

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/openmaas/openmaas-gateway/internal/adapter"
	api "github.com/openmaas/openmaas-gateway/internal/api/gemini"
	"github.com/openmaas/openmaas-gateway/internal/domain"
)

// Adapter implements domain.Adapter for Gemini and Vertex AI.
type Adapter struct {
	id       domain.ProviderID
	opts     adapter.Options
	musicURL string
}

// Option configures the adapter.
type Option func(*Adapter)

// WithMusicURL overrides the Lyria RealTime endpoint.
func WithMusicURL(url string) Option {
	return func(a *Adapter) {
		a.musicURL = url
	}
}

// New creates an adapter for id, which is either gemini or vertex.
func New(id domain.ProviderID, opts adapter.Options, options ...Option) *Adapter {
	a := &Adapter{id: id, opts: opts}
	for _, o := range options {
		o(a)
	}
	return a
}

// Name returns the provider ID.
func (a *Adapter) Name() string {
	return string(a.id)
}

func (a *Adapter) client(secret string) *api.Client {
	return api.NewClient(secret,
		api.WithBaseURL(a.opts.BaseURL),
		api.WithHTTPClient(a.opts.HTTPClient),
		api.WithMusicURL(a.musicURL),
	)
}

// GenerateStream dispatches on the request's modality.
func (a *Adapter) GenerateStream(ctx context.Context, secret string, req *domain.GenerateRequest) (<-chan domain.Chunk, error) {
	client := a.client(secret)

	switch req.Modality {
	case "", domain.ModalityChat:
		return a.streamContent(ctx, client, req, nil)
	case domain.ModalityImage:
		if strings.HasPrefix(req.Model, "imagen") {
			return a.generateImagen(ctx, client, req)
		}
		return a.streamContent(ctx, client, req, []string{"TEXT", "IMAGE"})
	case domain.ModalityVideo:
		return a.generateVideo(ctx, client, req)
	case domain.ModalityTTS:
		return a.generateSpeech(ctx, client, req)
	case domain.ModalityMusic:
		return a.generateMusic(ctx, client, req)
	default:
		return nil, adapter.UnsupportedModality(a.id, req.Modality)
	}
}

func (a *Adapter) streamContent(ctx context.Context, client *api.Client, req *domain.GenerateRequest, modalities []string) (<-chan domain.Chunk, error) {
	stream, err := client.StreamGenerateContent(ctx, req.Model, buildContentRequest(req, modalities))
	if err != nil {
		return nil, err
	}

	return adapter.Run(ctx, func(ctx context.Context, emit adapter.Emit) error {
		finished := false
		for result := range stream {
			if result.Err != nil {
				return result.Err
			}
			resp := result.Response
			if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
				return domain.ErrInvalidRequest("prompt blocked: " + resp.PromptFeedback.BlockReason).WithProvider(a.id)
			}
			if len(resp.Candidates) == 0 {
				continue
			}
			candidate := resp.Candidates[0]
			chunk := partsToChunk(candidate.Content.Parts)
			if chunk.HasDelta() && !emit(chunk) {
				return ctx.Err()
			}
			if candidate.FinishReason != "" {
				finished = true
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		// The SSE stream simply ends; a finish reason marks completion.
		if !finished {
			return domain.ErrStreamTruncated("stream ended without a finish reason").WithProvider(a.id)
		}
		return nil
	}), nil
}

func (a *Adapter) generateImagen(ctx context.Context, client *api.Client, req *domain.GenerateRequest) (<-chan domain.Chunk, error) {
	prompt, err := adapter.RequirePrompt(req)
	if err != nil {
		return nil, err
	}

	resp, err := client.Predict(ctx, req.Model, &api.PredictRequest{
		Instances:  []api.PredictInstance{{Prompt: prompt}},
		Parameters: &api.PredictParameters{SampleCount: 1},
	})
	if err != nil {
		return nil, err
	}

	var chunk domain.Chunk
	for _, p := range resp.Predictions {
		if p.BytesBase64Encoded == "" {
			continue
		}
		mimeType := p.MimeType
		if mimeType == "" {
			mimeType = "image/png"
		}
		chunk.Images = append(chunk.Images, domain.Image{MimeType: mimeType, Data: p.BytesBase64Encoded})
	}
	if len(chunk.Images) == 0 {
		return nil, domain.ErrProviderProtocol("prediction returned no images; the prompt may have been filtered").WithProvider(a.id)
	}
	return adapter.Single(ctx, chunk), nil
}

func (a *Adapter) generateSpeech(ctx context.Context, client *api.Client, req *domain.GenerateRequest) (<-chan domain.Chunk, error) {
	text, err := adapter.RequirePrompt(req)
	if err != nil {
		return nil, err
	}

	voice := DefaultVoice
	if req.ModalityConfig != nil && req.ModalityConfig.Speech != nil && req.ModalityConfig.Speech.Voice != "" {
		voice = req.ModalityConfig.Speech.Voice
	}

	resp, err := client.GenerateContent(ctx, req.Model, &api.GenerateContentRequest{
		Contents: []api.Content{{Role: "user", Parts: []api.Part{{Text: text}}}},
		GenerationConfig: &api.GenerationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &api.SpeechConfig{
				VoiceConfig: api.VoiceConfig{PrebuiltVoiceConfig: api.PrebuiltVoiceConfig{VoiceName: voice}},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	for _, c := range resp.Candidates {
		for _, p := range c.Content.Parts {
			if p.InlineData == nil {
				continue
			}
			url, err := audioURL(p.InlineData)
			if err != nil {
				return nil, err
			}
			return adapter.Single(ctx, domain.Chunk{Audios: []domain.Audio{{URL: url}}}), nil
		}
	}
	return nil, domain.ErrProviderProtocol("speech response contained no audio").WithProvider(a.id)
}

// Transcribe sends the audio inline to a Gemini model with a transcription
// instruction. Catalog STT models carry a "-stt" suffix that names the
// underlying model.
func (a *Adapter) Transcribe(ctx context.Context, secret string, audio *domain.AudioBlob, model string) (string, error) {
	mimeType := audio.MimeType
	if mimeType == "" {
		mimeType = "audio/webm"
	}

	resp, err := a.client(secret).GenerateContent(ctx, strings.TrimSuffix(model, "-stt"), &api.GenerateContentRequest{
		Contents: []api.Content{{
			Role: "user",
			Parts: []api.Part{
				{Text: transcribeInstruction},
				{InlineData: &api.Blob{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(audio.Data)}},
			},
		}},
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, c := range resp.Candidates {
		for _, p := range c.Content.Parts {
			if !p.Thought {
				sb.WriteString(p.Text)
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// DefaultVoice is the prebuilt voice used when none is requested.
const DefaultVoice = "Kore"

const transcribeInstruction = "Transcribe this audio verbatim. Respond with the transcript only."

func buildContentRequest(req *domain.GenerateRequest, modalities []string) *api.GenerateContentRequest {
	out := &api.GenerateContentRequest{}
	if system := req.SystemPrompt(); system != "" {
		out.SystemInstruction = &api.Content{Parts: []api.Part{{Text: system}}}
	}
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleUser:
			out.Contents = append(out.Contents, api.Content{Role: "user", Parts: []api.Part{{Text: m.Content}}})
		case domain.RoleAssistant:
			out.Contents = append(out.Contents, api.Content{Role: "model", Parts: []api.Part{{Text: m.Content}}})
		}
	}
	if req.Temperature != nil || req.MaxTokens > 0 || len(modalities) > 0 {
		out.GenerationConfig = &api.GenerationConfig{
			Temperature:        req.Temperature,
			MaxOutputTokens:    req.MaxTokens,
			ResponseModalities: modalities,
		}
	}
	return out
}

// partsToChunk folds all parts of one streamed event into a single chunk.
func partsToChunk(parts []api.Part) domain.Chunk {
	var chunk domain.Chunk
	for _, p := range parts {
		if p.Thought {
			continue
		}
		chunk.TextDelta += p.Text
		if p.InlineData != nil && strings.HasPrefix(p.InlineData.MimeType, "image/") {
			chunk.Images = append(chunk.Images, domain.Image{MimeType: p.InlineData.MimeType, Data: p.InlineData.Data})
		}
	}
	return chunk
}

// audioURL turns inline audio into a playable data URL, wrapping raw PCM
// in a WAV container.
func audioURL(blob *api.Blob) (string, error) {
	data, err := base64.StdEncoding.DecodeString(blob.Data)
	if err != nil {
		return "", domain.ErrProviderProtocol("invalid base64 audio payload")
	}
	if adapter.IsPCM(blob.MimeType) {
		rate, channels := adapter.PCMFormat(blob.MimeType, 24000, 1)
		return adapter.DataURL("audio/wav", adapter.WAV(data, rate, channels, 16)), nil
	}
	return adapter.DataURL(blob.MimeType, data), nil
}

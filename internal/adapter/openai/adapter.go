// Package openai adapts the OpenAI API, and the OpenAI-compatible APIs of
// Azure OpenAI, Mistral and Ollama, to the gateway's chunk stream.
package openai

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/openmaas/openmaas-gateway/internal/adapter"
	api "github.com/openmaas/openmaas-gateway/internal/api/openai"
	"github.com/openmaas/openmaas-gateway/internal/domain"
)

// Flavor describes one OpenAI-compatible provider.
type Flavor struct {
	ID domain.ProviderID
	// KeyHeader names a header that carries the raw key instead of a bearer token.
	KeyHeader string
	// RequireBaseURL rejects calls when no endpoint is configured.
	RequireBaseURL bool
	// Media enables the image, video, speech and transcription endpoints.
	Media bool
}

// Known flavors.
var (
	OpenAI  = Flavor{ID: domain.ProviderOpenAI, Media: true}
	Azure   = Flavor{ID: domain.ProviderAzure, KeyHeader: "api-key", RequireBaseURL: true}
	Mistral = Flavor{ID: domain.ProviderMistral}
	Ollama  = Flavor{ID: domain.ProviderOllama}
)

// Adapter implements domain.Adapter for one flavor.
type Adapter struct {
	flavor Flavor
	opts   adapter.Options
}

// New creates an adapter.
func New(flavor Flavor, opts adapter.Options) *Adapter {
	return &Adapter{flavor: flavor, opts: opts}
}

// Name returns the provider ID.
func (a *Adapter) Name() string {
	return string(a.flavor.ID)
}

func (a *Adapter) client(secret string) (*api.Client, error) {
	if a.flavor.RequireBaseURL && a.opts.BaseURL == "" {
		return nil, domain.ErrInvalidRequest(fmt.Sprintf("no endpoint configured for %s; set providers.%s.base_url", a.flavor.ID, a.flavor.ID)).
			WithProvider(a.flavor.ID)
	}
	opts := []api.ClientOption{
		api.WithBaseURL(a.opts.BaseURL),
		api.WithHTTPClient(a.opts.HTTPClient),
	}
	if a.flavor.KeyHeader != "" {
		opts = append(opts, api.WithAPIKeyHeader(a.flavor.KeyHeader))
	}
	return api.NewClient(secret, opts...), nil
}

// GenerateStream dispatches on the request's modality.
func (a *Adapter) GenerateStream(ctx context.Context, secret string, req *domain.GenerateRequest) (<-chan domain.Chunk, error) {
	client, err := a.client(secret)
	if err != nil {
		return nil, err
	}

	modality := req.Modality
	if modality == "" {
		modality = domain.ModalityChat
	}
	if modality != domain.ModalityChat && !a.flavor.Media {
		return nil, adapter.UnsupportedModality(a.flavor.ID, modality)
	}

	switch modality {
	case domain.ModalityChat:
		return a.streamChat(ctx, client, req)
	case domain.ModalityImage:
		return a.generateImage(ctx, client, req)
	case domain.ModalityVideo:
		return a.generateVideo(ctx, client, req)
	case domain.ModalityTTS:
		return a.generateSpeech(ctx, client, req)
	default:
		return nil, adapter.UnsupportedModality(a.flavor.ID, modality)
	}
}

func (a *Adapter) streamChat(ctx context.Context, client *api.Client, req *domain.GenerateRequest) (<-chan domain.Chunk, error) {
	apiReq := &api.ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, api.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	stream, err := client.StreamChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, err
	}

	return adapter.Run(ctx, func(ctx context.Context, emit adapter.Emit) error {
		for result := range stream {
			if result.Err != nil {
				return result.Err
			}
			for _, choice := range result.Chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !emit(domain.Chunk{TextDelta: choice.Delta.Content}) {
					return ctx.Err()
				}
			}
		}
		return ctx.Err()
	}), nil
}

func (a *Adapter) generateImage(ctx context.Context, client *api.Client, req *domain.GenerateRequest) (<-chan domain.Chunk, error) {
	prompt, err := adapter.RequirePrompt(req)
	if err != nil {
		return nil, err
	}

	apiReq := &api.ImageRequest{Model: req.Model, Prompt: prompt, N: 1}
	// GPT image models always return base64 and reject response_format.
	if strings.HasPrefix(req.Model, "dall-e") {
		apiReq.ResponseFormat = "b64_json"
	}

	resp, err := client.CreateImage(ctx, apiReq)
	if err != nil {
		return nil, err
	}

	mimeType := "image/png"
	if resp.OutputFormat != "" {
		mimeType = "image/" + strings.ToLower(resp.OutputFormat)
	}
	var chunk domain.Chunk
	for _, img := range resp.Data {
		if img.B64JSON == "" {
			continue
		}
		chunk.Images = append(chunk.Images, domain.Image{MimeType: mimeType, Data: img.B64JSON})
	}
	if len(chunk.Images) == 0 {
		return nil, domain.ErrProviderProtocol("image response contained no inline image data").WithProvider(a.flavor.ID)
	}
	return adapter.Single(ctx, chunk), nil
}

func (a *Adapter) generateVideo(ctx context.Context, client *api.Client, req *domain.GenerateRequest) (<-chan domain.Chunk, error) {
	prompt, err := adapter.RequirePrompt(req)
	if err != nil {
		return nil, err
	}

	cfg := domain.DefaultVideoConfig()
	if req.ModalityConfig != nil && req.ModalityConfig.Video != nil {
		cfg = *req.ModalityConfig.Video
	}

	job, err := client.CreateVideo(ctx, &api.VideoRequest{
		Model:   req.Model,
		Prompt:  prompt,
		Size:    VideoSize(cfg.AspectRatio, cfg.Resolution),
		Seconds: strconv.Itoa(VideoSeconds(cfg.DurationSeconds)),
	})
	if err != nil {
		return nil, err
	}

	log := a.opts.Log().With("provider", a.flavor.ID, "video_id", job.ID)
	log.Info("video job started", "model", req.Model)

	return adapter.Run(ctx, func(ctx context.Context, emit adapter.Emit) error {
		err := adapter.Poll(ctx, a.opts.Interval(), func(ctx context.Context) (bool, error) {
			current, err := client.GetVideo(ctx, job.ID)
			if err != nil {
				return false, err
			}
			log.Debug("video job status", "status", current.Status, "progress", current.Progress)
			switch current.Status {
			case api.VideoStatusCompleted:
				return true, nil
			case api.VideoStatusFailed:
				msg := "video generation failed"
				if current.Error != nil && current.Error.Message != "" {
					msg = current.Error.Message
				}
				return false, domain.ErrProviderProtocol(msg).WithCode(domain.ErrorCodeJobFailed).WithProvider(a.flavor.ID)
			}
			return false, nil
		})
		if err != nil {
			return err
		}

		data, mimeType, err := client.DownloadVideoContent(ctx, job.ID)
		if err != nil {
			return err
		}
		log.Info("video job completed", "bytes", len(data))
		emit(domain.Chunk{Videos: []domain.Video{{URL: adapter.DataURL(mimeType, data)}}})
		return nil
	}), nil
}

func (a *Adapter) generateSpeech(ctx context.Context, client *api.Client, req *domain.GenerateRequest) (<-chan domain.Chunk, error) {
	input, err := adapter.RequirePrompt(req)
	if err != nil {
		return nil, err
	}

	cfg := domain.DefaultSpeechConfig()
	if req.ModalityConfig != nil && req.ModalityConfig.Speech != nil {
		cfg = *req.ModalityConfig.Speech
	}
	if cfg.Voice == "" {
		cfg.Voice = domain.DefaultSpeechConfig().Voice
	}

	data, mimeType, err := client.CreateSpeech(ctx, &api.SpeechRequest{
		Model:          req.Model,
		Input:          input,
		Voice:          cfg.Voice,
		Speed:          SpeechSpeed(cfg.SpeedMultiplier),
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, err
	}
	return adapter.Single(ctx, domain.Chunk{Audios: []domain.Audio{{URL: adapter.DataURL(mimeType, data)}}}), nil
}

// Transcribe converts speech to text.
func (a *Adapter) Transcribe(ctx context.Context, secret string, audio *domain.AudioBlob, model string) (string, error) {
	if !a.flavor.Media {
		return "", adapter.UnsupportedModality(a.flavor.ID, domain.ModalitySTT)
	}
	client, err := a.client(secret)
	if err != nil {
		return "", err
	}
	filename := audio.Filename
	if filename == "" {
		filename = "audio.webm"
	}
	result, err := client.CreateTranscription(ctx, &api.TranscriptionRequest{
		Model:    model,
		Filename: filename,
		MimeType: audio.MimeType,
		Data:     audio.Data,
	})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// VideoSize maps an aspect ratio and resolution to a Sora frame size.
func VideoSize(aspectRatio, resolution string) string {
	portrait := aspectRatio == "9:16"
	switch {
	case resolution == "1080p" && portrait:
		return "1024x1792"
	case resolution == "1080p":
		return "1792x1024"
	case portrait:
		return "720x1280"
	default:
		return "1280x720"
	}
}

var soraDurations = []int{4, 8, 12}

// VideoSeconds snaps a requested duration to the nearest supported length.
func VideoSeconds(requested int) int {
	best := soraDurations[0]
	for _, d := range soraDurations[1:] {
		if abs(d-requested) < abs(best-requested) {
			best = d
		}
	}
	return best
}

// SpeechSpeed clamps a speed multiplier to the accepted range.
func SpeechSpeed(multiplier float64) float64 {
	if multiplier == 0 || math.IsNaN(multiplier) {
		return 1.0
	}
	return math.Max(0.25, math.Min(4.0, multiplier))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Package anthropic adapts the Anthropic Messages API to the gateway's chunk
// stream.
package anthropic

import (
	"context"
	"fmt"

	"github.com/openmaas/openmaas-gateway/internal/adapter"
	api "github.com/openmaas/openmaas-gateway/internal/api/anthropic"
	"github.com/openmaas/openmaas-gateway/internal/domain"
)

// DefaultMaxTokens is sent when the request leaves maxTokens unset; the API
// requires a value.
const DefaultMaxTokens = 4096

// Adapter implements domain.Adapter for Anthropic.
type Adapter struct {
	opts adapter.Options
}

// New creates an adapter.
func New(opts adapter.Options) *Adapter {
	return &Adapter{opts: opts}
}

// Name returns the provider ID.
func (a *Adapter) Name() string {
	return string(domain.ProviderAnthropic)
}

// GenerateStream streams a chat completion.
func (a *Adapter) GenerateStream(ctx context.Context, secret string, req *domain.GenerateRequest) (<-chan domain.Chunk, error) {
	if req.Modality != "" && req.Modality != domain.ModalityChat {
		return nil, adapter.UnsupportedModality(domain.ProviderAnthropic, req.Modality)
	}

	client := api.NewClient(secret,
		api.WithBaseURL(a.opts.BaseURL),
		api.WithHTTPClient(a.opts.HTTPClient),
	)

	stream, err := client.StreamMessage(ctx, buildRequest(req))
	if err != nil {
		return nil, err
	}

	return adapter.Run(ctx, func(ctx context.Context, emit adapter.Emit) error {
		for ev := range stream {
			if ev.Err != nil {
				return ev.Err
			}
			switch ev.EventType {
			case "content_block_delta":
				delta, err := ev.ParseContentBlockDelta()
				if err != nil {
					return domain.ErrProviderProtocol(fmt.Sprintf("failed to unmarshal content_block_delta: %v", err))
				}
				if delta.Delta.Type != "text_delta" || delta.Delta.Text == "" {
					continue
				}
				if !emit(domain.Chunk{TextDelta: delta.Delta.Text}) {
					return ctx.Err()
				}
			case "error":
				apiErr, err := ev.ParseError()
				if err != nil {
					return domain.ErrProviderProtocol(fmt.Sprintf("failed to unmarshal error event: %v", err))
				}
				return apiErr.ToCanonical(0)
			case "message_stop":
				return nil
			}
		}
		return ctx.Err()
	}), nil
}

// Transcribe is not offered by Anthropic.
func (a *Adapter) Transcribe(context.Context, string, *domain.AudioBlob, string) (string, error) {
	return "", adapter.UnsupportedModality(domain.ProviderAnthropic, domain.ModalitySTT)
}

func buildRequest(req *domain.GenerateRequest) *api.MessagesRequest {
	out := &api.MessagesRequest{
		Model:       req.Model,
		System:      req.SystemPrompt(),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = DefaultMaxTokens
	}
	// Temperature above 1 is rejected by the Messages API.
	if out.Temperature != nil && *out.Temperature > 1 {
		one := 1.0
		out.Temperature = &one
	}
	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			continue
		}
		out.Messages = append(out.Messages, api.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

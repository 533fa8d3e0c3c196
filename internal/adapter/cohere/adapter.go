// Package cohere adapts the Cohere v2 Chat API to the gateway's chunk stream.
package cohere

import (
	"context"

	"github.com/openmaas/openmaas-gateway/internal/adapter"
	api "github.com/openmaas/openmaas-gateway/internal/api/cohere"
	"github.com/openmaas/openmaas-gateway/internal/domain"
)

// Adapter implements domain.Adapter for Cohere.
type Adapter struct {
	opts adapter.Options
}

// New creates an adapter.
func New(opts adapter.Options) *Adapter {
	return &Adapter{opts: opts}
}

// Name returns the provider ID.
func (a *Adapter) Name() string {
	return string(domain.ProviderCohere)
}

// GenerateStream streams a chat completion.
func (a *Adapter) GenerateStream(ctx context.Context, secret string, req *domain.GenerateRequest) (<-chan domain.Chunk, error) {
	if req.Modality != "" && req.Modality != domain.ModalityChat {
		return nil, adapter.UnsupportedModality(domain.ProviderCohere, req.Modality)
	}

	client := api.NewClient(secret,
		api.WithBaseURL(a.opts.BaseURL),
		api.WithHTTPClient(a.opts.HTTPClient),
	)

	apiReq := &api.ChatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, api.Message{Role: string(m.Role), Content: m.Content})
	}

	stream, err := client.StreamChat(ctx, apiReq)
	if err != nil {
		return nil, err
	}

	return adapter.Run(ctx, func(ctx context.Context, emit adapter.Emit) error {
		for result := range stream {
			if result.Err != nil {
				return result.Err
			}
			switch result.Event.Type {
			case api.EventContentDelta:
				if text := result.Event.Text(); text != "" && !emit(domain.Chunk{TextDelta: text}) {
					return ctx.Err()
				}
			case api.EventMessageEnd:
				return nil
			}
		}
		return ctx.Err()
	}), nil
}

// Transcribe is not offered by Cohere.
func (a *Adapter) Transcribe(context.Context, string, *domain.AudioBlob, string) (string, error) {
	return "", adapter.UnsupportedModality(domain.ProviderCohere, domain.ModalitySTT)
}

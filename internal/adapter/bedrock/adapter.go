// Package bedrock adapts the Bedrock Converse API to the gateway's chunk
// stream. Converse is unary, so each call yields one text chunk.
package bedrock

import (
	"context"

	"github.com/openmaas/openmaas-gateway/internal/adapter"
	api "github.com/openmaas/openmaas-gateway/internal/api/bedrock"
	"github.com/openmaas/openmaas-gateway/internal/domain"
)

// Adapter implements domain.Adapter for Bedrock.
type Adapter struct {
	opts adapter.Options
}

// New creates an adapter.
func New(opts adapter.Options) *Adapter {
	return &Adapter{opts: opts}
}

// Name returns the provider ID.
func (a *Adapter) Name() string {
	return string(domain.ProviderBedrock)
}

// GenerateStream runs one Converse call.
func (a *Adapter) GenerateStream(ctx context.Context, secret string, req *domain.GenerateRequest) (<-chan domain.Chunk, error) {
	if req.Modality != "" && req.Modality != domain.ModalityChat {
		return nil, adapter.UnsupportedModality(domain.ProviderBedrock, req.Modality)
	}

	client := api.NewClient(secret,
		api.WithBaseURL(a.opts.BaseURL),
		api.WithHTTPClient(a.opts.HTTPClient),
	)

	apiReq := &api.ConverseRequest{}
	if system := req.SystemPrompt(); system != "" {
		apiReq.System = []api.ContentBlock{{Text: system}}
	}
	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			continue
		}
		apiReq.Messages = append(apiReq.Messages, api.Message{
			Role:    string(m.Role),
			Content: []api.ContentBlock{{Text: m.Content}},
		})
	}
	if req.MaxTokens > 0 || req.Temperature != nil {
		apiReq.InferenceConfig = &api.InferenceConfig{MaxTokens: req.MaxTokens, Temperature: req.Temperature}
	}

	resp, err := client.Converse(ctx, req.Model, apiReq)
	if err != nil {
		return nil, err
	}
	return adapter.Single(ctx, domain.Chunk{TextDelta: resp.Text()}), nil
}

// Transcribe is not offered through Converse.
func (a *Adapter) Transcribe(context.Context, string, *domain.AudioBlob, string) (string, error) {
	return "", adapter.UnsupportedModality(domain.ProviderBedrock, domain.ModalitySTT)
}

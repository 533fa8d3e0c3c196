// Package registry maps provider IDs to adapter implementations.
//
// # Adding a New Provider
//
// Add an entry to the catalog, implement domain.Adapter in a package under
// internal/adapter, and append a Factory to builtins:
//
//	{
//	    ID:          domain.ProviderID("acme"),
//	    Description: "Acme chat API",
//	    Create:      func(o adapter.Options) domain.Adapter { return acme.New(o) },
//	}
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openmaas/openmaas-gateway/internal/adapter"
	"github.com/openmaas/openmaas-gateway/internal/adapter/anthropic"
	"github.com/openmaas/openmaas-gateway/internal/adapter/bedrock"
	"github.com/openmaas/openmaas-gateway/internal/adapter/cohere"
	"github.com/openmaas/openmaas-gateway/internal/adapter/gemini"
	"github.com/openmaas/openmaas-gateway/internal/adapter/openai"
	"github.com/openmaas/openmaas-gateway/internal/domain"
)

// Factory defines how to create the adapter for one provider.
type Factory struct {
	// ID is the catalog provider ID the adapter serves.
	ID domain.ProviderID

	// Description provides a human-readable description of the adapter.
	Description string

	// Create instantiates the adapter.
	Create func(opts adapter.Options) domain.Adapter
}

var builtins = []Factory{
	{
		ID:          domain.ProviderOpenAI,
		Description: "OpenAI chat, images, Sora video, speech and transcription",
		Create:      func(o adapter.Options) domain.Adapter { return openai.New(openai.OpenAI, o) },
	},
	{
		ID:          domain.ProviderAnthropic,
		Description: "Anthropic Messages API",
		Create:      func(o adapter.Options) domain.Adapter { return anthropic.New(o) },
	},
	{
		ID:          domain.ProviderGemini,
		Description: "Gemini chat, images, Imagen, Veo, speech, transcription and Lyria music",
		Create:      func(o adapter.Options) domain.Adapter { return gemini.New(domain.ProviderGemini, o) },
	},
	{
		ID:          domain.ProviderBedrock,
		Description: "Amazon Bedrock Converse API",
		Create:      func(o adapter.Options) domain.Adapter { return bedrock.New(o) },
	},
	{
		ID:          domain.ProviderAzure,
		Description: "Azure OpenAI chat completions",
		Create:      func(o adapter.Options) domain.Adapter { return openai.New(openai.Azure, o) },
	},
	{
		ID:          domain.ProviderVertex,
		Description: "Gemini models on Vertex AI",
		Create:      func(o adapter.Options) domain.Adapter { return gemini.New(domain.ProviderVertex, o) },
	},
	{
		ID:          domain.ProviderMistral,
		Description: "Mistral chat completions",
		Create:      func(o adapter.Options) domain.Adapter { return openai.New(openai.Mistral, o) },
	},
	{
		ID:          domain.ProviderCohere,
		Description: "Cohere v2 Chat API",
		Create:      func(o adapter.Options) domain.Adapter { return cohere.New(o) },
	},
	{
		ID:          domain.ProviderOllama,
		Description: "Local Ollama server through its OpenAI-compatible API",
		Create:      func(o adapter.Options) domain.Adapter { return openai.New(openai.Ollama, o) },
	},
}

// Factories returns the built-in factories sorted by ID.
func Factories() []Factory {
	result := make([]Factory, len(builtins))
	copy(result, builtins)
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

// OptionsFunc supplies per-provider adapter options.
type OptionsFunc func(id domain.ProviderID) adapter.Options

// Registry holds one adapter instance per provider.
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.ProviderID]domain.Adapter
}

// New instantiates every built-in adapter. A nil optionsFor uses zero options.
func New(optionsFor OptionsFunc) *Registry {
	r := &Registry{adapters: make(map[domain.ProviderID]domain.Adapter, len(builtins))}
	for _, f := range builtins {
		var opts adapter.Options
		if optionsFor != nil {
			opts = optionsFor(f.ID)
		}
		r.adapters[f.ID] = f.Create(opts)
	}
	return r
}

// Register installs or replaces the adapter for id.
func (r *Registry) Register(id domain.ProviderID, a domain.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[id] = a
}

// Adapter returns the adapter for id.
func (r *Registry) Adapter(id domain.ProviderID) (domain.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[id]
	if !ok {
		return nil, domain.ErrInvalidRequest(fmt.Sprintf("no adapter registered for provider %q", id)).
			WithCode(domain.ErrorCodeProviderNotFound)
	}
	return a, nil
}

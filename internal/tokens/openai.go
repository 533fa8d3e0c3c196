package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/openmaas/openmaas-gateway/internal/domain"
)

// OpenAICounter provides accurate token counts for OpenAI models using tiktoken.
type OpenAICounter struct {
	matcher *ModelMatcher
	// codecCache caches tokenizer codecs by encoding name
	codecCache map[tokenizer.Encoding]tokenizer.Codec
	cacheMu    sync.RWMutex
}

// NewOpenAICounter creates a new OpenAI token counter.
func NewOpenAICounter() *OpenAICounter {
	return &OpenAICounter{
		matcher: NewModelMatcher(
			[]string{"gpt-4", "gpt-3.5", "gpt-5", "o1", "o3", "o4"},
			nil,
		),
		codecCache: make(map[tokenizer.Encoding]tokenizer.Codec),
	}
}

// getCodec returns the tokenizer codec for a model.
func (c *OpenAICounter) getCodec(model string) (tokenizer.Codec, error) {
	// Map model name to tokenizer.Model
	tmodel := mapModelName(model)

	// Try to get codec for the specific model
	codec, err := tokenizer.ForModel(tmodel)
	if err == nil {
		return codec, nil
	}

	// Fall back to encoding based on model prefix
	encoding := modelToEncoding(model)

	// Check cache
	c.cacheMu.RLock()
	if cached, ok := c.codecCache[encoding]; ok {
		c.cacheMu.RUnlock()
		return cached, nil
	}
	c.cacheMu.RUnlock()

	// Get encoding
	codec, err = tokenizer.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}

	// Cache it
	c.cacheMu.Lock()
	c.codecCache[encoding] = codec
	c.cacheMu.Unlock()

	return codec, nil
}

// mapModelName maps a model string to tokenizer.Model
func mapModelName(model string) tokenizer.Model {
	// Normalize model name
	model = strings.ToLower(model)

	// Direct mappings for known models
	switch {
	// GPT-5 family (exact matches for known variants)
	case model == "gpt-5":
		return tokenizer.GPT5
	case model == "gpt-5-mini" || strings.HasPrefix(model, "gpt-5-mini-"):
		return tokenizer.GPT5Mini
	case model == "gpt-5-nano" || strings.HasPrefix(model, "gpt-5-nano-"):
		return tokenizer.GPT5Nano
	// GPT-5.x and other gpt-5 variants (gpt-5-turbo, gpt-5.1, etc.) use GPT5 encoding
	case strings.HasPrefix(model, "gpt-5"):
		return tokenizer.GPT5

	// GPT-4.1 family
	case strings.HasPrefix(model, "gpt-4.1") || strings.HasPrefix(model, "gpt-41"):
		return tokenizer.GPT41

	// GPT-4o family
	case strings.HasPrefix(model, "gpt-4o"):
		return tokenizer.GPT4o

	// O-series reasoning models
	case model == "o1" || model == "o1-preview" || strings.HasPrefix(model, "o1-"):
		if strings.Contains(model, "mini") {
			return tokenizer.O1Mini
		}
		if strings.Contains(model, "preview") {
			return tokenizer.O1Preview
		}
		return tokenizer.O1
	case model == "o3" || strings.HasPrefix(model, "o3-"):
		if strings.Contains(model, "mini") {
			return tokenizer.O3Mini
		}
		return tokenizer.O3
	case model == "o4-mini" || strings.HasPrefix(model, "o4-mini"):
		return tokenizer.O4Mini
	// Future O-series models (o4, o5, o6, etc.) - use O4Mini as closest match
	case strings.HasPrefix(model, "o4"), strings.HasPrefix(model, "o5"), strings.HasPrefix(model, "o6"):
		return tokenizer.O4Mini

	// GPT-4 family
	case strings.HasPrefix(model, "gpt-4"):
		return tokenizer.GPT4

	// GPT-3.5 family
	case strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.GPT35Turbo

	// Future GPT models (gpt-6+) - use GPT5 encoding (o200k_base)
	case strings.HasPrefix(model, "gpt-6"), strings.HasPrefix(model, "gpt-7"):
		return tokenizer.GPT5

	default:
		// Return as Model type - tokenizer.ForModel will handle unknown models
		return tokenizer.Model(model)
	}
}

// modelToEncoding maps model names to encoding names for fallback.
//
// Encoding reference:
// - O200kBase: GPT-5, GPT-4.1, GPT-4o, O1, O3, O4-mini and newer models
// - Cl100kBase: GPT-4, GPT-3.5-turbo
func modelToEncoding(model string) tokenizer.Encoding {
	model = strings.ToLower(model)

	switch {
	// Newer models use O200k_base
	case strings.HasPrefix(model, "gpt-5"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4.1"), strings.HasPrefix(model, "gpt-41"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4o"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase

	// GPT-4 and GPT-3.5 use cl100k_base
	case strings.HasPrefix(model, "gpt-4"):
		return tokenizer.Cl100kBase
	case strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.Cl100kBase

	default:
		// Default to O200k_base for unknown/future models (most likely encoding)
		return tokenizer.O200kBase
	}
}

// CountTokens counts tokens for OpenAI models using tiktoken. Each message
// costs 3 tokens of framing plus 1 for the role, and the reply is primed
// with 3 more.
func (c *OpenAICounter) CountTokens(model string, msgs []domain.Message) (Count, error) {
	codec, err := c.getCodec(model)
	if err != nil {
		return Count{}, err
	}

	const (
		tokensPerMessage = 3
		tokensPerRole    = 1
		replyPriming     = 3
	)

	total := replyPriming
	for _, msg := range msgs {
		total += tokensPerMessage + tokensPerRole
		ids, _, err := codec.Encode(msg.Content)
		if err != nil {
			return Count{}, fmt.Errorf("failed to encode message: %w", err)
		}
		total += len(ids)
	}

	return Count{InputTokens: total}, nil
}

// SupportsModel returns true for OpenAI models.
func (c *OpenAICounter) SupportsModel(model string) bool {
	return c.matcher.Matches(model)
}

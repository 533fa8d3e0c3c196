// Package tokens provides prompt token counting used to reject requests that
// cannot fit a model's context window before any provider call is made.
package tokens

import (
	"strings"

	"github.com/openmaas/openmaas-gateway/internal/domain"
)

// Count is the result of counting a prompt.
type Count struct {
	InputTokens int
	// Estimated is true when the count comes from a heuristic rather than
	// the model's tokenizer.
	Estimated bool
}

// Counter counts prompt tokens for the models it supports.
type Counter interface {
	CountTokens(model string, msgs []domain.Message) (Count, error)
	SupportsModel(model string) bool
}

// Registry manages token counters for different models.
// Registered counters are consulted in order; the fallback estimator serves
// every model none of them supports.
type Registry struct {
	counters []Counter
	fallback Counter
}

// NewRegistry creates a registry with the tiktoken counter registered and
// the character estimator as fallback.
func NewRegistry() *Registry {
	r := &Registry{fallback: NewEstimator()}
	r.Register(NewOpenAICounter())
	return r
}

// Register adds a token counter to the registry.
func (r *Registry) Register(counter Counter) {
	r.counters = append(r.counters, counter)
}

// SetFallback sets the fallback counter for unsupported models.
func (r *Registry) SetFallback(counter Counter) {
	r.fallback = counter
}

// CountTokens counts tokens using the appropriate counter for the model.
func (r *Registry) CountTokens(model string, msgs []domain.Message) (Count, error) {
	return r.GetCounter(model).CountTokens(model, msgs)
}

// GetCounter returns the appropriate counter for a model.
func (r *Registry) GetCounter(model string) Counter {
	for _, counter := range r.counters {
		if counter.SupportsModel(model) {
			return counter
		}
	}
	return r.fallback
}

// Estimator provides token count estimation based on character counts.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		CharsPerToken: 4.0,
	}
}

// CountTokens estimates the token count.
func (e *Estimator) CountTokens(model string, msgs []domain.Message) (Count, error) {
	totalChars := 0
	for _, msg := range msgs {
		totalChars += len(msg.Role)
		totalChars += len(msg.Content)
		totalChars += 4 // role tokens + separators
	}

	return Count{
		InputTokens: int(float64(totalChars) / e.CharsPerToken),
		Estimated:   true,
	}, nil
}

// SupportsModel returns true - estimator supports all models as a fallback.
func (e *Estimator) SupportsModel(model string) bool {
	return true
}

// ModelMatcher helps match model names to provider patterns.
type ModelMatcher struct {
	prefixes []string
	exact    []string
}

// NewModelMatcher creates a new model matcher.
func NewModelMatcher(prefixes, exact []string) *ModelMatcher {
	return &ModelMatcher{
		prefixes: prefixes,
		exact:    exact,
	}
}

// Matches returns true if the model matches any pattern.
func (m *ModelMatcher) Matches(model string) bool {
	for _, e := range m.exact {
		if model == e {
			return true
		}
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

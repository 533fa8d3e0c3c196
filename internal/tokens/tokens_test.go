package tokens

import (
	"strings"
	"testing"

	"github.com/tiktoken-go/tokenizer"

	"github.com/openmaas/openmaas-gateway/internal/domain"
)

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimator()

	tests := []struct {
		name      string
		msgs      []domain.Message
		minTokens int
		maxTokens int
	}{
		{
			name:      "simple message",
			msgs:      []domain.Message{{Role: domain.RoleUser, Content: "Hello, how are you?"}},
			minTokens: 5,
			maxTokens: 15,
		},
		{
			name: "with system message",
			msgs: []domain.Message{
				{Role: domain.RoleSystem, Content: "You are a helpful assistant."},
				{Role: domain.RoleUser, Content: "Hello"},
			},
			minTokens: 8,
			maxTokens: 20,
		},
		{
			name: "multiple messages",
			msgs: []domain.Message{
				{Role: domain.RoleUser, Content: "What is 2+2?"},
				{Role: domain.RoleAssistant, Content: "2+2 equals 4."},
				{Role: domain.RoleUser, Content: "Thanks!"},
			},
			minTokens: 10,
			maxTokens: 30,
		},
		{
			name:      "empty request",
			msgs:      nil,
			minTokens: 0,
			maxTokens: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := e.CountTokens("test-model", tt.msgs)
			if err != nil {
				t.Fatalf("CountTokens() error = %v", err)
			}
			if !count.Estimated {
				t.Error("expected Estimated to be true for estimator")
			}
			if count.InputTokens < tt.minTokens || count.InputTokens > tt.maxTokens {
				t.Errorf("CountTokens() = %d, want between %d and %d",
					count.InputTokens, tt.minTokens, tt.maxTokens)
			}
		})
	}
}

func TestEstimator_SupportsModel(t *testing.T) {
	e := NewEstimator()

	models := []string{"gpt-4", "claude-3", "unknown-model", ""}
	for _, model := range models {
		if !e.SupportsModel(model) {
			t.Errorf("SupportsModel(%q) = false, want true", model)
		}
	}
}

func TestOpenAICounter_CountTokens(t *testing.T) {
	c := NewOpenAICounter()

	tests := []struct {
		name  string
		model string
		msgs  []domain.Message
	}{
		{"gpt-4o", "gpt-4o", []domain.Message{{Role: domain.RoleUser, Content: "Hello, world!"}}},
		{"gpt-4", "gpt-4", []domain.Message{{Role: domain.RoleUser, Content: "Hello, world!"}}},
		{"gpt-5 dated", "gpt-5-2025-08-07", []domain.Message{{Role: domain.RoleUser, Content: "Hello, world!"}}},
		{"o4-mini", "o4-mini", []domain.Message{{Role: domain.RoleUser, Content: "Hello, world!"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := c.CountTokens(tt.model, tt.msgs)
			if err != nil {
				t.Fatalf("CountTokens() error = %v", err)
			}
			if count.Estimated {
				t.Error("tiktoken counts should not be marked estimated")
			}
			// 3 priming + 4 framing + at least one content token.
			if count.InputTokens < 8 || count.InputTokens > 15 {
				t.Errorf("CountTokens() = %d, want between 8 and 15", count.InputTokens)
			}
		})
	}
}

func TestOpenAICounter_GrowsWithContent(t *testing.T) {
	c := NewOpenAICounter()

	short, err := c.CountTokens("gpt-4o", []domain.Message{{Role: domain.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("CountTokens() error = %v", err)
	}
	long, err := c.CountTokens("gpt-4o", []domain.Message{{Role: domain.RoleUser, Content: strings.Repeat("hello world ", 500)}})
	if err != nil {
		t.Fatalf("CountTokens() error = %v", err)
	}
	if long.InputTokens < short.InputTokens+500 {
		t.Errorf("long = %d, short = %d", long.InputTokens, short.InputTokens)
	}
}

func TestOpenAICounter_SupportsModel(t *testing.T) {
	c := NewOpenAICounter()

	tests := []struct {
		model string
		want  bool
	}{
		{"gpt-4o", true},
		{"gpt-4.1-mini", true},
		{"gpt-3.5-turbo", true},
		{"gpt-5", true},
		{"o1", true},
		{"o3-mini", true},
		{"claude-sonnet-4-5", false},
		{"gemini-2.5-pro", false},
		{"mistral-large-latest", false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := c.SupportsModel(tt.model); got != tt.want {
				t.Errorf("SupportsModel(%q) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}

func TestRegistry_CountTokens(t *testing.T) {
	r := NewRegistry()
	msgs := []domain.Message{{Role: domain.RoleUser, Content: "Hello"}}

	count, err := r.CountTokens("gpt-4o", msgs)
	if err != nil {
		t.Fatalf("CountTokens() error = %v", err)
	}
	if count.Estimated {
		t.Error("gpt-4o should use tiktoken")
	}

	count, err = r.CountTokens("claude-sonnet-4-5", msgs)
	if err != nil {
		t.Fatalf("CountTokens() error = %v", err)
	}
	if !count.Estimated {
		t.Error("claude should fall back to the estimator")
	}
}

func TestRegistry_GetCounter(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.GetCounter("gpt-4o").(*OpenAICounter); !ok {
		t.Error("GetCounter(gpt-4o) should return OpenAICounter")
	}
	if _, ok := r.GetCounter("command-r-plus").(*Estimator); !ok {
		t.Error("GetCounter(command-r-plus) should return Estimator")
	}

	custom := &Estimator{CharsPerToken: 1}
	r.SetFallback(custom)
	if r.GetCounter("llama3") != custom {
		t.Error("SetFallback() not applied")
	}
}

func TestModelMatcher(t *testing.T) {
	m := NewModelMatcher([]string{"claude-"}, []string{"exact-model"})

	tests := []struct {
		model string
		want  bool
	}{
		{"claude-3-opus", true},
		{"exact-model", true},
		{"exact-model-2", false},
		{"gpt-4", false},
	}
	for _, tt := range tests {
		if got := m.Matches(tt.model); got != tt.want {
			t.Errorf("Matches(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}

func TestModelToEncoding(t *testing.T) {
	tests := []struct {
		model string
		want  tokenizer.Encoding
	}{
		{"gpt-4o-mini", tokenizer.O200kBase},
		{"gpt-5.1", tokenizer.O200kBase},
		{"gpt-4-turbo", tokenizer.Cl100kBase},
		{"gpt-3.5-turbo", tokenizer.Cl100kBase},
		{"something-new", tokenizer.O200kBase},
	}
	for _, tt := range tests {
		if got := modelToEncoding(tt.model); got != tt.want {
			t.Errorf("modelToEncoding(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}

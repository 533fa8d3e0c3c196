package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openmaas/openmaas-gateway/internal/adapter"
	"github.com/openmaas/openmaas-gateway/internal/domain"
)

const streamBody = `event: message_start
data: {"type":"message_start","message":{"id":"msg_1","model":"claude-sonnet-4-5"}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}

event: ping
data: {"type":"ping"}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"}}

event: message_stop
data: {"type":"message_stop"}

`

func newRequest() *domain.GenerateRequest {
	return &domain.GenerateRequest{
		ProviderID: domain.ProviderAnthropic,
		Model:      "claude-sonnet-4-5",
		Modality:   domain.ModalityChat,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "Be brief."},
			{Role: domain.RoleUser, Content: "Hi"},
		},
	}
}

func drain(ch <-chan domain.Chunk) (string, domain.Chunk) {
	var sb strings.Builder
	var last domain.Chunk
	for c := range ch {
		sb.WriteString(c.TextDelta)
		last = c
	}
	return sb.String(), last
}

func TestAdapter_GenerateStream(t *testing.T) {
	var got map[string]any
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, streamBody)
	}))
	defer server.Close()

	a := New(adapter.Options{BaseURL: server.URL})
	stream, err := a.GenerateStream(context.Background(), "sk-ant-test", newRequest())
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}

	text, last := drain(stream)
	if text != "Hello" {
		t.Errorf("text = %q, want Hello", text)
	}
	if !last.IsFinal {
		t.Errorf("last chunk = %+v, want final", last)
	}
	if headers.Get("x-api-key") != "sk-ant-test" || headers.Get("anthropic-version") == "" {
		t.Errorf("auth headers = %v", headers)
	}
	if got["system"] != "Be brief." {
		t.Errorf("system = %v", got["system"])
	}
	if msgs, _ := got["messages"].([]any); len(msgs) != 1 {
		t.Errorf("messages = %v, want only the user turn", got["messages"])
	}
	if got["max_tokens"] != float64(DefaultMaxTokens) {
		t.Errorf("max_tokens = %v", got["max_tokens"])
	}
}

func TestAdapter_InStreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"A\"}}\n\n")
		fmt.Fprint(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"rate_limit_error\",\"message\":\"slow down\"}}\n\n")
	}))
	defer server.Close()

	a := New(adapter.Options{BaseURL: server.URL})
	stream, err := a.GenerateStream(context.Background(), "sk-ant-test", newRequest())
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	text, last := drain(stream)
	if text != "A" {
		t.Errorf("text = %q, want A", text)
	}
	if !domain.IsType(last.Err, domain.ErrorTypeRateLimit) {
		t.Errorf("last.Err = %v, want rate_limit", last.Err)
	}
}

func TestAdapter_HTTPErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType domain.ErrorType
	}{
		{"auth", http.StatusUnauthorized, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`, domain.ErrorTypeAuthentication},
		{"context", http.StatusBadRequest, `{"type":"error","error":{"type":"invalid_request_error","message":"prompt is too long: 250000 tokens > 200000 maximum"}}`, domain.ErrorTypeContextLength},
		{"overloaded", 529, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`, domain.ErrorTypeProviderProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			_, err := New(adapter.Options{BaseURL: server.URL}).GenerateStream(context.Background(), "k", newRequest())
			if !domain.IsType(err, tt.wantType) {
				t.Errorf("GenerateStream() error = %v, want %s", err, tt.wantType)
			}
		})
	}
}

func TestAdapter_RejectsMedia(t *testing.T) {
	req := newRequest()
	req.Modality = domain.ModalityImage
	_, err := New(adapter.Options{}).GenerateStream(context.Background(), "k", req)
	if apiErr, ok := domain.AsAPIError(err); !ok || apiErr.Code != domain.ErrorCodeUnsupportedModality {
		t.Errorf("GenerateStream() error = %v, want unsupported_modality", err)
	}
}

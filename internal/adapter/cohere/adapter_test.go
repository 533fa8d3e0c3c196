package cohere

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openmaas/openmaas-gateway/internal/adapter"
	"github.com/openmaas/openmaas-gateway/internal/domain"
)

func newRequest() *domain.GenerateRequest {
	return &domain.GenerateRequest{
		ProviderID: domain.ProviderCohere,
		Model:      "command-r-plus",
		Modality:   domain.ModalityChat,
		Messages:   []domain.Message{{Role: domain.RoleUser, Content: "Hi"}},
	}
}

func TestAdapter_GenerateStream(t *testing.T) {
	var auth, path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message-start\ndata: {\"type\":\"message-start\"}\n\n")
		fmt.Fprint(w, "event: content-delta\ndata: {\"type\":\"content-delta\",\"index\":0,\"delta\":{\"message\":{\"content\":{\"text\":\"Hel\"}}}}\n\n")
		fmt.Fprint(w, "event: content-delta\ndata: {\"type\":\"content-delta\",\"index\":0,\"delta\":{\"message\":{\"content\":{\"text\":\"lo\"}}}}\n\n")
		fmt.Fprint(w, "event: message-end\ndata: {\"type\":\"message-end\",\"delta\":{\"finish_reason\":\"COMPLETE\"}}\n\n")
	}))
	defer server.Close()

	a := New(adapter.Options{BaseURL: server.URL})
	stream, err := a.GenerateStream(context.Background(), "co-key", newRequest())
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}

	var text strings.Builder
	var last domain.Chunk
	for c := range stream {
		text.WriteString(c.TextDelta)
		last = c
	}
	if text.String() != "Hello" || !last.IsFinal {
		t.Errorf("text = %q last = %+v", text.String(), last)
	}
	if auth != "Bearer co-key" || path != "/v2/chat" {
		t.Errorf("auth = %q path = %q", auth, path)
	}
}

func TestAdapter_TruncatedStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"content-delta\",\"delta\":{\"message\":{\"content\":{\"text\":\"A\"}}}}\n\n")
	}))
	defer server.Close()

	stream, err := New(adapter.Options{BaseURL: server.URL}).GenerateStream(context.Background(), "k", newRequest())
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	var last domain.Chunk
	for c := range stream {
		last = c
	}
	if apiErr, ok := domain.AsAPIError(last.Err); !ok || apiErr.Code != domain.ErrorCodeStreamTruncated {
		t.Errorf("last.Err = %v, want stream_truncated", last.Err)
	}
}

func TestAdapter_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"invalid api token"}`)
	}))
	defer server.Close()

	_, err := New(adapter.Options{BaseURL: server.URL}).GenerateStream(context.Background(), "k", newRequest())
	if !domain.IsType(err, domain.ErrorTypeAuthentication) {
		t.Errorf("GenerateStream() error = %v, want authentication", err)
	}
}

package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openmaas/openmaas-gateway/internal/adapter"
	"github.com/openmaas/openmaas-gateway/internal/domain"
)

const modelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"

func newRequest() *domain.GenerateRequest {
	return &domain.GenerateRequest{
		ProviderID: domain.ProviderBedrock,
		Model:      modelID,
		Modality:   domain.ModalityChat,
		MaxTokens:  256,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "Be brief."},
			{Role: domain.RoleUser, Content: "Hi"},
		},
	}
}

func TestAdapter_Converse(t *testing.T) {
	var body map[string]any
	var rawPath, auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawPath = r.URL.EscapedPath()
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&body)
		fmt.Fprint(w, `{"output":{"message":{"role":"assistant","content":[{"text":"Hel"},{"text":"lo"}]}},"stopReason":"end_turn"}`)
	}))
	defer server.Close()

	stream, err := New(adapter.Options{BaseURL: server.URL}).GenerateStream(context.Background(), "bedrock-key", newRequest())
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}

	var chunks []domain.Chunk
	for c := range stream {
		chunks = append(chunks, c)
	}
	if len(chunks) != 2 || chunks[0].TextDelta != "Hello" || !chunks[1].IsFinal {
		t.Fatalf("chunks = %+v", chunks)
	}
	if rawPath != "/model/anthropic.claude-3-5-sonnet-20241022-v2:0/converse" && rawPath != "/model/anthropic.claude-3-5-sonnet-20241022-v2%3A0/converse" {
		t.Errorf("path = %q", rawPath)
	}
	if auth != "Bearer bedrock-key" {
		t.Errorf("Authorization = %q", auth)
	}
	if sys, _ := body["system"].([]any); len(sys) != 1 {
		t.Errorf("system = %v", body["system"])
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 1 {
		t.Errorf("messages = %v, want only the user turn", body["messages"])
	}
}

func TestAdapter_Errors(t *testing.T) {
	tests := []struct {
		status   int
		body     string
		wantType domain.ErrorType
	}{
		{http.StatusForbidden, `{"message":"The security token included in the request is invalid."}`, domain.ErrorTypeAuthentication},
		{http.StatusTooManyRequests, `{"message":"Too many requests"}`, domain.ErrorTypeRateLimit},
		{http.StatusBadRequest, `{"message":"Input is too long for requested model."}`, domain.ErrorTypeContextLength},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
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

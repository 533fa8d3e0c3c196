package router

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openmaas/openmaas-gateway/internal/adapter"
	"github.com/openmaas/openmaas-gateway/internal/adapter/registry"
	"github.com/openmaas/openmaas-gateway/internal/catalog"
	"github.com/openmaas/openmaas-gateway/internal/credential"
	"github.com/openmaas/openmaas-gateway/internal/domain"
	"github.com/openmaas/openmaas-gateway/internal/storage/memory"
	"github.com/openmaas/openmaas-gateway/internal/tokens"
)

var (
	openAIKey  = "sk-" + strings.Repeat("a", 40)
	mistralKey = "mistral-" + strings.Repeat("b", 24)
)

type fakeAdapter struct {
	generate   func(ctx context.Context, req *domain.GenerateRequest) (<-chan domain.Chunk, error)
	transcribe func(ctx context.Context, audio *domain.AudioBlob, model string) (string, error)

	calls      atomic.Int32
	lastSecret string
	lastReq    *domain.GenerateRequest
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) GenerateStream(ctx context.Context, secret string, req *domain.GenerateRequest) (<-chan domain.Chunk, error) {
	f.calls.Add(1)
	f.lastSecret = secret
	f.lastReq = req
	return f.generate(ctx, req)
}

func (f *fakeAdapter) Transcribe(ctx context.Context, secret string, audio *domain.AudioBlob, model string) (string, error) {
	f.calls.Add(1)
	f.lastSecret = secret
	return f.transcribe(ctx, audio, model)
}

type fakeSource map[domain.ProviderID]domain.Adapter

func (s fakeSource) Adapter(id domain.ProviderID) (domain.Adapter, error) {
	if a, ok := s[id]; ok {
		return a, nil
	}
	return nil, domain.ErrInvalidRequest("no adapter for " + string(id))
}

type fakeForwarder struct {
	adapter *fakeAdapter
	ids     []domain.ProviderID
}

func (f *fakeForwarder) Forward(ctx context.Context, id domain.ProviderID, secret string, req *domain.GenerateRequest) (<-chan domain.Chunk, error) {
	f.ids = append(f.ids, id)
	return f.adapter.GenerateStream(ctx, secret, req)
}

func (f *fakeForwarder) ForwardTranscribe(ctx context.Context, id domain.ProviderID, secret string, audio *domain.AudioBlob, model string) (string, error) {
	f.ids = append(f.ids, id)
	return f.adapter.Transcribe(ctx, secret, audio, model)
}

type fixedCounter int

func (n fixedCounter) CountTokens(string, []domain.Message) (tokens.Count, error) {
	return tokens.Count{InputTokens: int(n)}, nil
}

// streamOf replays chunks and then closes, honouring ctx.
func streamOf(chunks ...domain.Chunk) func(context.Context, *domain.GenerateRequest) (<-chan domain.Chunk, error) {
	return func(ctx context.Context, _ *domain.GenerateRequest) (<-chan domain.Chunk, error) {
		out := make(chan domain.Chunk)
		go func() {
			defer close(out)
			for _, c := range chunks {
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out, nil
	}
}

func newTestRouter(t *testing.T, adapters AdapterSource, fwd Forwarder, opts ...Option) (*Router, *credential.Store) {
	t.Helper()
	cat, err := catalog.Load("")
	if err != nil {
		t.Fatalf("catalog.Load() error = %v", err)
	}
	creds := credential.NewStore(cat, memory.New())
	return New(cat, creds, adapters, fwd, opts...), creds
}

func chatRequest(model, prompt string) *domain.GenerateRequest {
	return &domain.GenerateRequest{
		Model:    model,
		Messages: []domain.Message{{Role: domain.RoleUser, Content: prompt}},
	}
}

func drain(t *testing.T, stream <-chan domain.Chunk) ([]domain.Chunk, error) {
	t.Helper()
	var chunks []domain.Chunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-stream:
			if !ok {
				return chunks, nil
			}
			if c.Err != nil {
				if _, more := <-stream; more {
					t.Error("chunk delivered after terminal error")
				}
				return chunks, c.Err
			}
			chunks = append(chunks, c)
		case <-timeout:
			t.Fatal("stream did not close")
			return nil, nil
		}
	}
}

func TestRouter_RouteDeterminism(t *testing.T) {
	r, _ := newTestRouter(t, fakeSource{}, nil)
	cat, _ := catalog.Load("")

	for _, p := range cat.Providers() {
		want := RouteProxied
		if p.SupportsDirectCall {
			want = RouteDirect
		}
		for i := 0; i < 3; i++ {
			got, err := r.Route(p.ID)
			if err != nil {
				t.Fatalf("Route(%s) error = %v", p.ID, err)
			}
			if got != want {
				t.Errorf("Route(%s) = %v, want %v", p.ID, got, want)
			}
		}
	}

	if _, err := r.Route("acme"); !domain.IsType(err, domain.ErrorTypeInvalidRequest) {
		t.Errorf("Route(acme) error = %v, want invalid_request", err)
	}
}

func TestRouter_GenerateDirect(t *testing.T) {
	fa := &fakeAdapter{generate: streamOf(
		domain.Chunk{TextDelta: "Hel"},
		domain.Chunk{TextDelta: "lo"},
		domain.FinalChunk(),
	)}
	fwd := &fakeForwarder{adapter: &fakeAdapter{}}
	r, creds := newTestRouter(t, fakeSource{domain.ProviderOpenAI: fa}, fwd)
	ctx := context.Background()
	_ = creds.Put(ctx, domain.ProviderOpenAI, openAIKey, domain.VolatilityDurable)

	stream, err := r.Generate(ctx, domain.ProviderOpenAI, chatRequest("gpt-4o", "hi"))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	chunks, err := drain(t, stream)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}

	if len(chunks) != 3 || chunks[0].TextDelta != "Hel" || chunks[1].TextDelta != "lo" || !chunks[2].IsFinal {
		t.Errorf("chunks = %+v", chunks)
	}
	if fa.lastSecret != openAIKey {
		t.Error("adapter did not receive the stored secret")
	}
	if fa.lastReq.ProviderID != domain.ProviderOpenAI || fa.lastReq.Modality != domain.ModalityChat {
		t.Errorf("request not stamped: provider=%q modality=%q", fa.lastReq.ProviderID, fa.lastReq.Modality)
	}
	if len(fwd.ids) != 0 {
		t.Errorf("direct provider was forwarded: %v", fwd.ids)
	}
}

func TestRouter_GenerateProxied(t *testing.T) {
	direct := &fakeAdapter{generate: streamOf(domain.FinalChunk())}
	fwd := &fakeForwarder{adapter: &fakeAdapter{generate: streamOf(domain.Chunk{TextDelta: "bonjour"}, domain.FinalChunk())}}
	r, creds := newTestRouter(t, fakeSource{domain.ProviderMistral: direct}, fwd)
	ctx := context.Background()
	_ = creds.Put(ctx, domain.ProviderMistral, mistralKey, domain.VolatilitySession)

	stream, err := r.Generate(ctx, domain.ProviderMistral, chatRequest("mistral-small-latest", "hi"))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	chunks, err := drain(t, stream)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if len(chunks) != 2 || chunks[0].TextDelta != "bonjour" {
		t.Errorf("chunks = %+v", chunks)
	}
	if direct.calls.Load() != 0 {
		t.Error("proxied provider was called in-process")
	}
	if len(fwd.ids) != 1 || fwd.ids[0] != domain.ProviderMistral {
		t.Errorf("forwarded ids = %v", fwd.ids)
	}
}

func TestRouter_ProxiedWithoutForwarder(t *testing.T) {
	r, creds := newTestRouter(t, fakeSource{}, nil)
	ctx := context.Background()
	_ = creds.Put(ctx, domain.ProviderMistral, mistralKey, domain.VolatilityEphemeral)

	_, err := r.Generate(ctx, domain.ProviderMistral, chatRequest("mistral-small-latest", "hi"))
	if !domain.IsType(err, domain.ErrorTypeProxyForward) {
		t.Fatalf("Generate() error = %v, want proxy_forward", err)
	}
	if _, ok, _ := creds.Get(ctx, domain.ProviderMistral); ok {
		t.Error("ephemeral credential not released after failed dispatch")
	}
}

func TestRouter_FailFastWithoutNetwork(t *testing.T) {
	var roundTrips atomic.Int32
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		roundTrips.Add(1)
		return nil, errors.New("unexpected network call")
	})}
	adapters := registry.New(func(domain.ProviderID) adapter.Options {
		return adapter.Options{HTTPClient: client}
	})

	tests := []struct {
		name     string
		setup    func(*credential.Store)
		provider domain.ProviderID
		req      *domain.GenerateRequest
		counter  TokenCounter
		wantType domain.ErrorType
		// ephemeral puts a single-use key that must be gone after the call.
		ephemeral bool
	}{
		{
			name: "invalid key rejected at put",
			setup: func(s *credential.Store) {
				_ = s.Put(context.Background(), domain.ProviderOpenAI, "not-a-key", domain.VolatilityDurable)
			},
			provider: domain.ProviderOpenAI,
			req:      chatRequest("gpt-4o", "hi"),
			wantType: domain.ErrorTypeNoCredential,
		},
		{
			name:     "unknown model",
			provider: domain.ProviderOpenAI,
			req:      chatRequest("gpt-9", "hi"),
			wantType: domain.ErrorTypeInvalidRequest,
		},
		{
			name:     "unknown provider",
			provider: "acme",
			req:      chatRequest("gpt-4o", "hi"),
			wantType: domain.ErrorTypeInvalidRequest,
		},
		{
			name:     "empty messages",
			provider: domain.ProviderOpenAI,
			req:      &domain.GenerateRequest{Model: "gpt-4o"},
			wantType: domain.ErrorTypeInvalidRequest,
		},
		{
			name:     "provider mismatch",
			provider: domain.ProviderOpenAI,
			req:      &domain.GenerateRequest{ProviderID: domain.ProviderGemini, Model: "gpt-4o", Messages: chatRequest("", "hi").Messages},
			wantType: domain.ErrorTypeInvalidRequest,
		},
		{
			name:     "transcription model",
			provider: domain.ProviderOpenAI,
			req:      chatRequest("whisper-1", "hi"),
			wantType: domain.ErrorTypeInvalidRequest,
		},
		{
			name: "prompt exceeds context window",
			setup: func(s *credential.Store) {
				_ = s.Put(context.Background(), domain.ProviderOpenAI, openAIKey, domain.VolatilityDurable)
			},
			provider: domain.ProviderOpenAI,
			req:      chatRequest("gpt-3.5-turbo", "hi"),
			counter:  fixedCounter(16386),
			wantType: domain.ErrorTypeContextLength,
		},
		{
			name:      "ephemeral released on context window rejection",
			provider:  domain.ProviderOpenAI,
			req:       chatRequest("gpt-3.5-turbo", "hi"),
			counter:   fixedCounter(10_000_000),
			wantType:  domain.ErrorTypeContextLength,
			ephemeral: true,
		},
		{
			name:      "ephemeral released on unknown model",
			provider:  domain.ProviderOpenAI,
			req:       chatRequest("gpt-9", "hi"),
			wantType:  domain.ErrorTypeInvalidRequest,
			ephemeral: true,
		},
		{
			name:      "ephemeral released on empty messages",
			provider:  domain.ProviderOpenAI,
			req:       &domain.GenerateRequest{Model: "gpt-4o"},
			wantType:  domain.ErrorTypeInvalidRequest,
			ephemeral: true,
		},
		{
			name:      "ephemeral released on transcription model",
			provider:  domain.ProviderOpenAI,
			req:       chatRequest("whisper-1", "hi"),
			wantType:  domain.ErrorTypeInvalidRequest,
			ephemeral: true,
		},
		{
			name:      "ephemeral released for keyless provider",
			provider:  domain.ProviderOllama,
			req:       &domain.GenerateRequest{Model: "llama3"},
			wantType:  domain.ErrorTypeInvalidRequest,
			ephemeral: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.counter != nil {
				opts = append(opts, WithTokenCounter(tt.counter))
			}
			r, creds := newTestRouter(t, adapters, nil, opts...)
			ctx := context.Background()
			if tt.setup != nil {
				tt.setup(creds)
			}
			if tt.ephemeral {
				secret := openAIKey
				if tt.provider == domain.ProviderOllama {
					secret = "ollama-token"
				}
				if err := creds.Put(ctx, tt.provider, secret, domain.VolatilityEphemeral); err != nil {
					t.Fatalf("Put() error = %v", err)
				}
			}
			_, err := r.Generate(ctx, tt.provider, tt.req)
			if !domain.IsType(err, tt.wantType) {
				t.Errorf("Generate() error = %v, want %s", err, tt.wantType)
			}
			if tt.ephemeral {
				if _, ok, _ := creds.Get(ctx, tt.provider); ok {
					t.Error("ephemeral credential still readable after the call failed")
				}
			}
		})
	}

	if n := roundTrips.Load(); n != 0 {
		t.Errorf("network calls = %d, want 0", n)
	}
}

func TestRouter_ContextWindowPreflightWithTokenizer(t *testing.T) {
	fa := &fakeAdapter{generate: streamOf(domain.FinalChunk())}
	r, creds := newTestRouter(t, fakeSource{domain.ProviderOpenAI: fa}, nil)
	ctx := context.Background()
	_ = creds.Put(ctx, domain.ProviderOpenAI, openAIKey, domain.VolatilityDurable)

	_, err := r.Generate(ctx, domain.ProviderOpenAI, chatRequest("gpt-3.5-turbo", strings.Repeat("hello ", 20000)))
	if !domain.IsType(err, domain.ErrorTypeContextLength) {
		t.Fatalf("Generate() error = %v, want context_length", err)
	}
	if fa.calls.Load() != 0 {
		t.Error("adapter called despite oversized prompt")
	}
}

func TestRouter_EphemeralReleased(t *testing.T) {
	tests := []struct {
		name    string
		chunks  []domain.Chunk
		wantErr bool
	}{
		{name: "success", chunks: []domain.Chunk{{TextDelta: "ok"}, domain.FinalChunk()}},
		{name: "stream error", chunks: []domain.Chunk{{TextDelta: "A"}, domain.ErrorChunk(domain.ErrRateLimit("slow down"))}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := &fakeAdapter{generate: streamOf(tt.chunks...)}
			r, creds := newTestRouter(t, fakeSource{domain.ProviderOpenAI: fa}, nil)
			ctx := context.Background()
			if err := creds.Put(ctx, domain.ProviderOpenAI, openAIKey, domain.VolatilityEphemeral); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			stream, err := r.Generate(ctx, domain.ProviderOpenAI, chatRequest("gpt-4o", "hi"))
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			_, err = drain(t, stream)
			if (err != nil) != tt.wantErr {
				t.Fatalf("stream error = %v, wantErr %v", err, tt.wantErr)
			}

			if _, ok, _ := creds.Get(ctx, domain.ProviderOpenAI); ok {
				t.Error("ephemeral credential still present after the call")
			}
			if _, err := r.Generate(ctx, domain.ProviderOpenAI, chatRequest("gpt-4o", "hi")); !domain.IsType(err, domain.ErrorTypeNoCredential) {
				t.Errorf("second Generate() error = %v, want no_credential", err)
			}
		})
	}
}

func TestRouter_StreamGuard(t *testing.T) {
	tests := []struct {
		name     string
		generate func(context.Context, *domain.GenerateRequest) (<-chan domain.Chunk, error)
		wantText string
		wantCode domain.ErrorCode
		wantType domain.ErrorType
	}{
		{
			name:     "truncated",
			generate: streamOf(domain.Chunk{TextDelta: "A"}),
			wantText: "A",
			wantType: domain.ErrorTypeTransport,
			wantCode: domain.ErrorCodeStreamTruncated,
		},
		{
			name: "idle timeout",
			generate: func(ctx context.Context, _ *domain.GenerateRequest) (<-chan domain.Chunk, error) {
				out := make(chan domain.Chunk)
				go func() {
					defer close(out)
					<-ctx.Done()
				}()
				return out, nil
			},
			wantType: domain.ErrorTypeTransport,
			wantCode: domain.ErrorCodeIdleTimeout,
		},
		{
			name:     "final carrying a delta is split",
			generate: streamOf(domain.Chunk{TextDelta: "x", IsFinal: true}, domain.Chunk{TextDelta: "ignored"}),
			wantText: "x",
		},
		{
			name:     "empty chunks skipped",
			generate: streamOf(domain.Chunk{}, domain.Chunk{TextDelta: "y"}, domain.Chunk{}, domain.FinalChunk()),
			wantText: "y",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := &fakeAdapter{generate: tt.generate}
			r, creds := newTestRouter(t, fakeSource{domain.ProviderOpenAI: fa}, nil, WithIdleTimeout(50*time.Millisecond))
			ctx := context.Background()
			_ = creds.Put(ctx, domain.ProviderOpenAI, openAIKey, domain.VolatilityDurable)

			stream, err := r.Generate(ctx, domain.ProviderOpenAI, chatRequest("gpt-4o", "hi"))
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			chunks, err := drain(t, stream)

			var text strings.Builder
			finals := 0
			for _, c := range chunks {
				text.WriteString(c.TextDelta)
				if c.IsFinal {
					finals++
					if c.HasDelta() {
						t.Error("final chunk carries a delta")
					}
				}
			}
			if text.String() != tt.wantText {
				t.Errorf("text = %q, want %q", text.String(), tt.wantText)
			}

			if tt.wantType == "" {
				if err != nil {
					t.Fatalf("stream error = %v", err)
				}
				if finals != 1 {
					t.Errorf("final chunks = %d, want 1", finals)
				}
				return
			}
			if finals != 0 {
				t.Errorf("final chunks = %d on failed stream", finals)
			}
			apiErr, ok := domain.AsAPIError(err)
			if !ok {
				t.Fatalf("stream error = %v, want APIError", err)
			}
			if apiErr.Type != tt.wantType || apiErr.Code != tt.wantCode {
				t.Errorf("error = %s/%s, want %s/%s", apiErr.Type, apiErr.Code, tt.wantType, tt.wantCode)
			}
		})
	}
}

func TestRouter_MediaUsesLongerIdleTimeout(t *testing.T) {
	fa := &fakeAdapter{generate: func(ctx context.Context, _ *domain.GenerateRequest) (<-chan domain.Chunk, error) {
		out := make(chan domain.Chunk)
		go func() {
			defer close(out)
			select {
			case <-time.After(100 * time.Millisecond):
			case <-ctx.Done():
				return
			}
			out <- domain.Chunk{Videos: []domain.Video{{URL: "data:video/mp4;base64,AA=="}}}
			out <- domain.FinalChunk()
		}()
		return out, nil
	}}
	r, creds := newTestRouter(t, fakeSource{domain.ProviderOpenAI: fa}, nil,
		WithIdleTimeout(20*time.Millisecond), WithMediaIdleTimeout(time.Second))
	ctx := context.Background()
	_ = creds.Put(ctx, domain.ProviderOpenAI, openAIKey, domain.VolatilityDurable)

	stream, err := r.Generate(ctx, domain.ProviderOpenAI, chatRequest("sora-2", "a cat"))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	chunks, err := drain(t, stream)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if len(chunks) != 2 || len(chunks[0].Videos) != 1 {
		t.Errorf("chunks = %+v", chunks)
	}
}

func TestRouter_Cancellation(t *testing.T) {
	stopped := make(chan struct{})
	fa := &fakeAdapter{generate: func(ctx context.Context, _ *domain.GenerateRequest) (<-chan domain.Chunk, error) {
		out := make(chan domain.Chunk)
		go func() {
			defer close(out)
			defer close(stopped)
			for {
				select {
				case out <- domain.Chunk{TextDelta: "."}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out, nil
	}}
	r, creds := newTestRouter(t, fakeSource{domain.ProviderOpenAI: fa}, nil)
	_ = creds.Put(context.Background(), domain.ProviderOpenAI, openAIKey, domain.VolatilityEphemeral)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := r.Generate(ctx, domain.ProviderOpenAI, chatRequest("gpt-4o", "hi"))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	<-stream
	cancel()

	for range stream {
	}
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("adapter producer did not stop after cancellation")
	}
	if _, ok, _ := creds.Get(context.Background(), domain.ProviderOpenAI); ok {
		t.Error("ephemeral credential retained after cancellation")
	}
}

func TestRouter_ErrorsNeverContainSecret(t *testing.T) {
	fa := &fakeAdapter{
		generate: func(context.Context, *domain.GenerateRequest) (<-chan domain.Chunk, error) {
			return nil, domain.ErrAuthentication("Incorrect API key provided: " + openAIKey)
		},
	}
	fa.transcribe = func(context.Context, *domain.AudioBlob, string) (string, error) {
		return "", errors.New("dial failed for key " + openAIKey)
	}
	r, creds := newTestRouter(t, fakeSource{domain.ProviderOpenAI: fa}, nil)
	ctx := context.Background()
	_ = creds.Put(ctx, domain.ProviderOpenAI, openAIKey, domain.VolatilityDurable)

	_, err := r.Generate(ctx, domain.ProviderOpenAI, chatRequest("gpt-4o", "hi"))
	if !domain.IsType(err, domain.ErrorTypeAuthentication) {
		t.Fatalf("Generate() error = %v, want authentication", err)
	}
	if strings.Contains(err.Error(), openAIKey) {
		t.Errorf("Generate() error leaks the secret: %v", err)
	}

	_, err = r.Transcribe(ctx, domain.ProviderOpenAI, &domain.AudioBlob{Data: []byte("RIFF")}, "whisper-1")
	if err == nil || strings.Contains(err.Error(), openAIKey) {
		t.Errorf("Transcribe() error = %v", err)
	}
}

func TestRouter_Transcribe(t *testing.T) {
	fa := &fakeAdapter{transcribe: func(_ context.Context, audio *domain.AudioBlob, model string) (string, error) {
		return "hello world", nil
	}}
	r, creds := newTestRouter(t, fakeSource{domain.ProviderOpenAI: fa}, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		audio    *domain.AudioBlob
		model    string
		wantType domain.ErrorType
	}{
		{name: "empty audio", audio: &domain.AudioBlob{}, model: "whisper-1", wantType: domain.ErrorTypeInvalidRequest},
		{name: "missing audio", model: "whisper-1", wantType: domain.ErrorTypeInvalidRequest},
		{name: "missing model", audio: &domain.AudioBlob{Data: []byte("x")}, wantType: domain.ErrorTypeInvalidRequest},
		{name: "unknown model", audio: &domain.AudioBlob{Data: []byte("x")}, model: "whisper-9", wantType: domain.ErrorTypeInvalidRequest},
		{name: "chat model", audio: &domain.AudioBlob{Data: []byte("x")}, model: "gpt-4o", wantType: domain.ErrorTypeInvalidRequest},
		{name: "ok", audio: &domain.AudioBlob{Data: []byte("x")}, model: "whisper-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := creds.Put(ctx, domain.ProviderOpenAI, openAIKey, domain.VolatilityEphemeral); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			text, err := r.Transcribe(ctx, domain.ProviderOpenAI, tt.audio, tt.model)
			if _, ok, _ := creds.Get(ctx, domain.ProviderOpenAI); ok {
				t.Error("ephemeral credential retained after Transcribe()")
			}
			if tt.wantType != "" {
				if !domain.IsType(err, tt.wantType) {
					t.Errorf("Transcribe() error = %v, want %s", err, tt.wantType)
				}
				return
			}
			if err != nil {
				t.Fatalf("Transcribe() error = %v", err)
			}
			if text != "hello world" {
				t.Errorf("Transcribe() = %q", text)
			}
		})
	}
}

func TestRouter_WithSecret(t *testing.T) {
	fa := &fakeAdapter{generate: streamOf(domain.Chunk{TextDelta: "ok"}, domain.FinalChunk())}
	r, creds := newTestRouter(t, fakeSource{domain.ProviderOpenAI: fa}, nil)
	ctx := context.Background()
	_ = creds.Put(ctx, domain.ProviderOpenAI, openAIKey, domain.VolatilityDurable)

	supplied := "sk-" + strings.Repeat("s", 40)
	stream, err := r.Generate(ctx, domain.ProviderOpenAI, chatRequest("gpt-4o", "hi"), WithSecret(supplied))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, err := drain(t, stream); err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if fa.lastSecret != supplied {
		t.Error("adapter did not receive the supplied secret")
	}
	secret, ok, _ := creds.Get(ctx, domain.ProviderOpenAI)
	if !ok || secret != openAIKey {
		t.Error("stored durable credential changed by a supplied secret")
	}

	_, err = r.Generate(ctx, domain.ProviderOpenAI, chatRequest("gpt-4o", "hi"), WithSecret("bad"))
	if !domain.IsType(err, domain.ErrorTypeInvalidKeyFormat) {
		t.Fatalf("Generate(bad secret) error = %v, want invalid_key_format", err)
	}
	if n := fa.calls.Load(); n != 1 {
		t.Errorf("adapter calls = %d, want 1", n)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestRouter_ProxiedWithoutCredential(t *testing.T) {
	cat, err := catalog.New([]catalog.Provider{
		{ID: "p2", Name: "P2", Models: []catalog.Model{{ID: "m", Modality: domain.ModalityChat}}},
	})
	if err != nil {
		t.Fatalf("catalog.New() error = %v", err)
	}
	fwd := &fakeForwarder{adapter: &fakeAdapter{generate: streamOf(domain.FinalChunk())}}
	r := New(cat, credential.NewStore(cat, memory.New()), fakeSource{}, fwd)

	if got, _ := r.Route("p2"); got != RouteProxied {
		t.Fatalf("Route(p2) = %v, want %v", got, RouteProxied)
	}
	_, err = r.Generate(context.Background(), "p2", chatRequest("m", "hi"))
	if !domain.IsType(err, domain.ErrorTypeNoCredential) {
		t.Fatalf("Generate() error = %v, want no_credential", err)
	}
	if len(fwd.ids) != 0 {
		t.Errorf("proxy called %d times, want 0", len(fwd.ids))
	}
}

package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openmaas/openmaas-gateway/internal/catalog"
	"github.com/openmaas/openmaas-gateway/internal/domain"
	"github.com/openmaas/openmaas-gateway/internal/pkg/sse"
	"github.com/openmaas/openmaas-gateway/internal/server"
)

const serviceName = "openmaas-proxy"

// AdapterSource resolves the adapter for a provider.
type AdapterSource interface {
	Adapter(id domain.ProviderID) (domain.Adapter, error)
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithRegistry registers metrics with reg and serves it on /metrics.
func WithRegistry(reg *prometheus.Registry) HandlerOption {
	return func(h *Handler) {
		if reg != nil {
			h.registry = reg
		}
	}
}

// Handler serves the pass-through proxy endpoints. It keeps no state between
// calls besides metrics.
type Handler struct {
	catalog  *catalog.Catalog
	adapters AdapterSource
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *Metrics
}

// NewHandler creates the proxy handler.
func NewHandler(cat *catalog.Catalog, adapters AdapterSource, opts ...HandlerOption) *Handler {
	h := &Handler{
		catalog:  cat,
		adapters: adapters,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.registry == nil {
		h.registry = prometheus.NewRegistry()
		h.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	h.metrics = NewMetrics(h.registry)
	return h
}

// Routes mounts the proxy endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.banner)
	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	r.Post(GeneratePath, h.generate)
	r.Post(TranscribePath, h.transcribe)
}

func (h *Handler) banner(w http.ResponseWriter, r *http.Request) {
	var proxied []domain.ProviderID
	for _, p := range h.catalog.Providers() {
		if !p.SupportsDirectCall {
			proxied = append(proxied, p.ID)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":       serviceName,
		"zeroKnowledge": true,
		"providers":     proxied,
		"endpoints":     []string{GeneratePath, TranscribePath},
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	var body GenerateCall
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	c := newCall("generate", body.ProviderID, body.Secret, h.logger)
	body.Secret = ""
	h.metrics.begin()
	defer func() {
		c.close()
		h.metrics.end(c)
	}()
	server.AddLogField(r.Context(), "provider", string(body.ProviderID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	a, req, err := h.prepareGenerate(body.ProviderID, c.Secret(), body.Request)
	if err != nil {
		h.writeError(w, r, c.fail(err))
		return
	}

	c.advance(StateForwarding)
	stream, err := a.GenerateStream(ctx, c.Secret(), req)
	if err != nil {
		h.writeError(w, r, c.fail(err))
		return
	}

	c.advance(StateStreaming)
	sse.SetHeaders(w)
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	first := true
	for {
		select {
		case <-ctx.Done():
			c.fail(domain.ErrTransport(ctx.Err()))
			return
		case chunk, ok := <-stream:
			if !ok {
				h.writeErrorEvent(w, r, c.fail(domain.ErrStreamTruncated("adapter stream closed without a final chunk")))
				return
			}
			if chunk.Err != nil {
				h.writeErrorEvent(w, r, c.fail(chunk.Err))
				return
			}
			if first && chunk.HasDelta() {
				first = false
				h.metrics.TimeToFirstChunk.WithLabelValues(string(c.provider)).Observe(time.Since(c.started).Seconds())
			}
			data, err := json.Marshal(chunk)
			if err != nil {
				h.writeErrorEvent(w, r, c.fail(fmt.Errorf("failed to encode chunk: %w", err)))
				return
			}
			// Written and flushed before the next chunk is read.
			if err := sse.WriteEvent(w, EventChunk, data); err != nil {
				c.fail(domain.ErrTransport(err))
				return
			}
			h.metrics.ChunksTotal.WithLabelValues(string(c.provider)).Inc()
			if chunk.IsFinal {
				return
			}
		}
	}
}

func (h *Handler) transcribe(w http.ResponseWriter, r *http.Request) {
	var body TranscribeCall
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	c := newCall("transcribe", body.ProviderID, body.Secret, h.logger)
	body.Secret = ""
	h.metrics.begin()
	defer func() {
		c.close()
		h.metrics.end(c)
	}()
	server.AddLogField(r.Context(), "provider", string(body.ProviderID))

	a, err := h.prepareTranscribe(body.ProviderID, c.Secret(), body.Audio, body.Model)
	if err != nil {
		h.writeError(w, r, c.fail(err))
		return
	}

	c.advance(StateForwarding)
	text, err := a.Transcribe(r.Context(), c.Secret(), body.Audio, body.Model)
	if err != nil {
		h.writeError(w, r, c.fail(err))
		return
	}
	writeJSON(w, http.StatusOK, TranscribeResult{Text: text})
}

// proxiedProvider resolves a provider that is allowed through the proxy and
// checks the key format before anything leaves the process.
func (h *Handler) proxiedProvider(id domain.ProviderID, secret string) (*catalog.Provider, error) {
	p, err := h.catalog.Lookup(id)
	if err != nil {
		return nil, err
	}
	if p.SupportsDirectCall {
		return nil, domain.ErrInvalidRequest(fmt.Sprintf("provider %q is called directly, not through the proxy", id)).
			WithParam("providerId")
	}
	if err := p.ValidateKey(secret); err != nil {
		return nil, err
	}
	return p, nil
}

func (h *Handler) prepareGenerate(id domain.ProviderID, secret string, req *domain.GenerateRequest) (domain.Adapter, *domain.GenerateRequest, error) {
	p, err := h.proxiedProvider(id, secret)
	if err != nil {
		return nil, nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	if req.ProviderID != "" && req.ProviderID != id {
		return nil, nil, domain.ErrInvalidRequest("request providerId does not match the call").WithParam("providerId")
	}
	m, err := p.Model(req.Model)
	if err != nil {
		return nil, nil, err
	}
	if m.Modality == domain.ModalitySTT {
		return nil, nil, domain.ErrInvalidRequest(fmt.Sprintf("model %q is a transcription model", req.Model)).WithParam("model")
	}
	stamped := *req
	stamped.ProviderID = id
	stamped.Modality = m.Modality

	a, err := h.adapters.Adapter(id)
	if err != nil {
		return nil, nil, err
	}
	return a, &stamped, nil
}

func (h *Handler) prepareTranscribe(id domain.ProviderID, secret string, audio *domain.AudioBlob, model string) (domain.Adapter, error) {
	p, err := h.proxiedProvider(id, secret)
	if err != nil {
		return nil, err
	}
	if audio == nil || len(audio.Data) == 0 {
		return nil, domain.ErrInvalidRequest("audio data is required").WithParam("audio")
	}
	m, err := p.Model(model)
	if err != nil {
		return nil, err
	}
	if m.Modality != domain.ModalitySTT {
		return nil, domain.ErrInvalidRequest(fmt.Sprintf("model %q does not transcribe audio", model)).WithParam("model")
	}
	return h.adapters.Adapter(id)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.ErrInvalidRequest(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		// Decoder errors can quote the offending value, which may be the secret.
		return domain.ErrInvalidRequest("request body is not a valid call")
	}
	return nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := domain.Normalize(err)
	server.AddError(r.Context(), string(apiErr.Type), string(apiErr.Code))
	writeJSON(w, apiErr.HTTPStatusCode(), ErrorBody{Error: apiErr})
}

func (h *Handler) writeErrorEvent(w http.ResponseWriter, r *http.Request, apiErr *domain.APIError) {
	server.AddError(r.Context(), string(apiErr.Type), string(apiErr.Code))
	data, err := json.Marshal(ErrorBody{Error: apiErr})
	if err != nil {
		return
	}
	_ = sse.WriteEvent(w, EventError, data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package router validates unified requests, checks out credentials and
// dispatches each call either to an in-process adapter or through the
// pass-through proxy, wrapping the resulting stream in a guard that enforces
// the chunk stream contract.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openmaas/openmaas-gateway/internal/catalog"
	"github.com/openmaas/openmaas-gateway/internal/credential"
	"github.com/openmaas/openmaas-gateway/internal/domain"
	"github.com/openmaas/openmaas-gateway/internal/tokens"
)

// Route is the transport a provider is reached through.
type Route string

const (
	// RouteDirect calls the adapter in-process.
	RouteDirect Route = "direct"
	// RouteProxied forwards the call through the pass-through proxy.
	RouteProxied Route = "proxied"
)

// Default idle timeouts.
const (
	DefaultIdleTimeout      = 60 * time.Second
	DefaultMediaIdleTimeout = 10 * time.Minute
)

// AdapterSource resolves the adapter for a provider.
type AdapterSource interface {
	Adapter(id domain.ProviderID) (domain.Adapter, error)
}

// Forwarder sends a call through the pass-through proxy.
type Forwarder interface {
	Forward(ctx context.Context, id domain.ProviderID, secret string, req *domain.GenerateRequest) (<-chan domain.Chunk, error)
	ForwardTranscribe(ctx context.Context, id domain.ProviderID, secret string, audio *domain.AudioBlob, model string) (string, error)
}

// TokenCounter counts prompt tokens for the context-window preflight.
type TokenCounter interface {
	CountTokens(model string, msgs []domain.Message) (tokens.Count, error)
}

// Option configures a Router.
type Option func(*Router)

// WithIdleTimeout sets the maximum gap between chunks for chat, image and
// speech calls.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// WithMediaIdleTimeout sets the maximum gap between chunks for video and
// music calls, which stay silent while the provider renders.
func WithMediaIdleTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.mediaIdleTimeout = d
		}
	}
}

// WithTokenCounter replaces the preflight token counter.
func WithTokenCounter(c TokenCounter) Option {
	return func(r *Router) {
		r.counter = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTracer sets the tracer used for call spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Router) {
		if t != nil {
			r.tracer = t
		}
	}
}

// Router dispatches generate and transcribe calls.
type Router struct {
	catalog   *catalog.Catalog
	creds     *credential.Store
	adapters  AdapterSource
	forwarder Forwarder

	counter          TokenCounter
	idleTimeout      time.Duration
	mediaIdleTimeout time.Duration
	logger           *slog.Logger
	tracer           trace.Tracer
}

// New creates a router. forwarder may be nil when no provider needs the proxy.
func New(cat *catalog.Catalog, creds *credential.Store, adapters AdapterSource, forwarder Forwarder, opts ...Option) *Router {
	r := &Router{
		catalog:          cat,
		creds:            creds,
		adapters:         adapters,
		forwarder:        forwarder,
		counter:          tokens.NewRegistry(),
		idleTimeout:      DefaultIdleTimeout,
		mediaIdleTimeout: DefaultMediaIdleTimeout,
		logger:           slog.Default(),
		tracer:           otel.Tracer("github.com/openmaas/openmaas-gateway/internal/router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route reports how calls to a provider travel.
func (r *Router) Route(id domain.ProviderID) (Route, error) {
	p, err := r.catalog.Lookup(id)
	if err != nil {
		return "", err
	}
	return routeFor(p), nil
}

func routeFor(p *catalog.Provider) Route {
	if p.SupportsDirectCall {
		return RouteDirect
	}
	return RouteProxied
}

// CallOption configures a single Generate or Transcribe call.
type CallOption func(*callOptions)

type callOptions struct {
	secret    string
	hasSecret bool
}

// WithSecret supplies the key for one call. It is validated against the
// provider's key format and never enters the credential store.
func WithSecret(secret string) CallOption {
	return func(o *callOptions) {
		o.secret = secret
		o.hasSecret = true
	}
}

// checkout returns the lease a call runs under: the supplied key when there
// is one, otherwise the stored credential.
func (r *Router) checkout(ctx context.Context, p *catalog.Provider, opts []CallOption) (*credential.Lease, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.hasSecret {
		if err := p.ValidateKey(o.secret); err != nil {
			return nil, err
		}
		return credential.Supplied(p.ID, o.secret), nil
	}
	return r.creds.Checkout(ctx, p.ID)
}

// Generate validates req, checks out the provider credential and opens a
// guarded chunk stream. Validation, preflight and credential errors are
// returned before any network call.
func (r *Router) Generate(ctx context.Context, id domain.ProviderID, req *domain.GenerateRequest, opts ...CallOption) (<-chan domain.Chunk, error) {
	provider, err := r.catalog.Lookup(id)
	if err != nil {
		return nil, err
	}

	// The lease is taken before validation; every rejection below releases it.
	lease, credErr := r.checkout(ctx, provider, opts)
	call, err := r.prepare(id, provider, req)
	if err != nil {
		lease.Release()
		return nil, err
	}
	if credErr != nil {
		return nil, credErr
	}

	route := routeFor(provider)
	callCtx, cancel := context.WithCancel(ctx)
	callCtx, span := r.tracer.Start(callCtx, "router.Generate", trace.WithAttributes(
		attribute.String("provider", string(id)),
		attribute.String("model", call.Model),
		attribute.String("modality", string(call.Modality)),
		attribute.String("route", string(route)),
	))

	log := r.logger.With("provider", id, "model", call.Model, "route", route, "modality", call.Modality)

	var stream <-chan domain.Chunk
	switch route {
	case RouteDirect:
		var a domain.Adapter
		if a, err = r.adapters.Adapter(id); err == nil {
			stream, err = a.GenerateStream(callCtx, lease.Secret, call)
		}
	default:
		if r.forwarder == nil {
			err = domain.ErrProxyForward(errors.New("no pass-through proxy is configured"))
		} else {
			stream, err = r.forwarder.Forward(callCtx, id, lease.Secret, call)
		}
	}
	if err != nil {
		apiErr := scrub(err, lease.Secret).WithProvider(id)
		lease.Release()
		endSpan(span, apiErr)
		cancel()
		log.Warn("generate failed", "error_type", apiErr.Type, "error_code", apiErr.Code)
		return nil, apiErr
	}

	idle := r.idleTimeout
	if call.Modality.IsMedia() {
		idle = r.mediaIdleTimeout
	}

	g := &guard{
		in:     stream,
		idle:   idle,
		cancel: cancel,
		lease:  lease,
		span:   span,
		log:    log,
		id:     id,
		start:  time.Now(),
	}
	return g.run(callCtx), nil
}

// prepare validates req against the catalog and returns the copy that is
// dispatched, stamped with the provider and modality.
func (r *Router) prepare(id domain.ProviderID, provider *catalog.Provider, req *domain.GenerateRequest) (*domain.GenerateRequest, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ProviderID != "" && req.ProviderID != id {
		return nil, domain.ErrInvalidRequest(fmt.Sprintf("request is for provider %q, not %q", req.ProviderID, id)).WithParam("providerId")
	}

	model, err := provider.Model(req.Model)
	if err != nil {
		return nil, err
	}
	if model.Modality == domain.ModalitySTT {
		return nil, domain.ErrInvalidRequest(fmt.Sprintf("model %q is a transcription model; use Transcribe", req.Model)).WithParam("model")
	}

	call := *req
	call.ProviderID = id
	call.Modality = model.Modality

	if err := r.preflight(&call, model); err != nil {
		return nil, err
	}
	return &call, nil
}

// Transcribe converts speech to text with a transcription model.
func (r *Router) Transcribe(ctx context.Context, id domain.ProviderID, audio *domain.AudioBlob, model string, opts ...CallOption) (string, error) {
	provider, err := r.catalog.Lookup(id)
	if err != nil {
		return "", err
	}

	lease, credErr := r.checkout(ctx, provider, opts)
	defer lease.Release()

	if err := checkTranscription(provider, audio, model); err != nil {
		return "", err
	}
	if credErr != nil {
		return "", credErr
	}

	route := routeFor(provider)
	ctx, span := r.tracer.Start(ctx, "router.Transcribe", trace.WithAttributes(
		attribute.String("provider", string(id)),
		attribute.String("model", model),
		attribute.String("route", string(route)),
	))

	var text string
	switch route {
	case RouteDirect:
		var a domain.Adapter
		if a, err = r.adapters.Adapter(id); err == nil {
			text, err = a.Transcribe(ctx, lease.Secret, audio, model)
		}
	default:
		if r.forwarder == nil {
			err = domain.ErrProxyForward(errors.New("no pass-through proxy is configured"))
		} else {
			text, err = r.forwarder.ForwardTranscribe(ctx, id, lease.Secret, audio, model)
		}
	}
	if err != nil {
		apiErr := scrub(err, lease.Secret).WithProvider(id)
		endSpan(span, apiErr)
		return "", apiErr
	}
	endSpan(span, nil)
	return text, nil
}

func checkTranscription(provider *catalog.Provider, audio *domain.AudioBlob, model string) error {
	if audio == nil || len(audio.Data) == 0 {
		return domain.ErrInvalidRequest("audio data is required").WithParam("audio")
	}
	if model == "" {
		return domain.ErrInvalidRequest("model is required").WithParam("model")
	}
	m, err := provider.Model(model)
	if err != nil {
		return err
	}
	if m.Modality != domain.ModalitySTT && !provider.DynamicModels {
		return domain.ErrInvalidRequest(fmt.Sprintf("model %q does not transcribe audio", model)).WithParam("model")
	}
	return nil
}

// preflight rejects chat prompts that cannot fit the model's context window.
func (r *Router) preflight(req *domain.GenerateRequest, model *catalog.Model) error {
	if req.Modality != domain.ModalityChat || model.ContextWindow <= 0 || r.counter == nil {
		return nil
	}
	count, err := r.counter.CountTokens(req.Model, req.Messages)
	if err != nil {
		r.logger.Debug("token preflight skipped", "model", req.Model, "error", err)
		return nil
	}
	if count.InputTokens > model.ContextWindow {
		return domain.ErrContextLength(fmt.Sprintf("prompt is %d tokens; %s accepts at most %d", count.InputTokens, req.Model, model.ContextWindow)).
			WithProvider(req.ProviderID)
	}
	return nil
}

// scrub normalizes err and removes the secret from its message.
func scrub(err error, secret string) *domain.APIError {
	apiErr := domain.Normalize(err)
	if secret == "" {
		return apiErr
	}
	clean := *apiErr
	clean.Message = domain.Scrub(apiErr.Message, secret)
	if clean.Cause != nil && strings.Contains(clean.Cause.Error(), secret) {
		clean.Cause = errors.New(domain.Scrub(clean.Cause.Error(), secret))
	}
	return &clean
}

func endSpan(span trace.Span, err *domain.APIError) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(err.Type))
		span.SetAttributes(attribute.String("error.type", string(err.Type)))
	}
	span.End()
}

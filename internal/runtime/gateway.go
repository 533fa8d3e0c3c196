// Package runtime wires the gateway components together: the caller-side
// Gateway used by embedders and the CLI, and the pass-through proxy process.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/openmaas/openmaas-gateway/internal/adapter"
	"github.com/openmaas/openmaas-gateway/internal/adapter/registry"
	"github.com/openmaas/openmaas-gateway/internal/aggregator"
	"github.com/openmaas/openmaas-gateway/internal/catalog"
	"github.com/openmaas/openmaas-gateway/internal/config"
	"github.com/openmaas/openmaas-gateway/internal/credential"
	"github.com/openmaas/openmaas-gateway/internal/domain"
	"github.com/openmaas/openmaas-gateway/internal/proxy"
	"github.com/openmaas/openmaas-gateway/internal/router"
	"github.com/openmaas/openmaas-gateway/internal/storage"
	"github.com/openmaas/openmaas-gateway/internal/storage/memory"
	"github.com/openmaas/openmaas-gateway/internal/storage/sqlite"
	"github.com/openmaas/openmaas-gateway/internal/telemetry"
	"github.com/openmaas/openmaas-gateway/internal/tokens"
)

// Gateway is the caller-side entry point: it owns the credential store and
// routes generate and transcribe calls.
type Gateway struct {
	cfg        *config.Config
	store      storage.Store
	httpClient *http.Client
	forwarder  router.Forwarder
	noHistory  bool
	logger     *slog.Logger

	catalog  *catalog.Catalog
	creds    *credential.Store
	adapters *registry.Registry
	router   *router.Router
}

// New creates a Gateway. Without options it uses default configuration,
// environment overrides, and the storage backend the configuration names.
func New(opts ...Option) (*Gateway, error) {
	g := &Gateway{logger: slog.Default()}

	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if g.cfg == nil {
		cfg, err := config.LoadFile("")
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		g.cfg = cfg
	}

	cat, err := catalog.Load(g.cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	g.catalog = cat

	if g.store == nil {
		store, err := openStore(g.cfg)
		if err != nil {
			return nil, err
		}
		g.store = store
	}

	if g.httpClient == nil {
		g.httpClient = &http.Client{Transport: http.DefaultTransport}
	}
	if g.forwarder == nil && g.cfg.Proxy.URL != "" {
		g.forwarder = proxy.NewClient(g.cfg.Proxy.URL)
	}

	g.creds = credential.NewStore(cat, g.store)
	g.adapters = registry.New(adapterOptions(g.cfg, cat, g.httpClient, g.logger))
	g.router = router.New(cat, g.creds, g.adapters, g.forwarder,
		router.WithIdleTimeout(g.cfg.IdleTimeout()),
		router.WithMediaIdleTimeout(g.cfg.MediaIdleTimeout()),
		router.WithTokenCounter(tokens.NewRegistry()),
		router.WithLogger(g.logger),
		router.WithTracer(telemetry.Tracer()),
	)
	return g, nil
}

// openStore opens the storage backend named by the configuration.
func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		path := cfg.Storage.SQLite.Path
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create storage directory: %w", err)
			}
		}
		store, err := sqlite.New(path)
		if err != nil {
			return nil, fmt.Errorf("create sqlite storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}
}

// adapterOptions resolves each provider's endpoint from configuration first
// and the catalog second.
func adapterOptions(cfg *config.Config, cat *catalog.Catalog, client *http.Client, logger *slog.Logger) registry.OptionsFunc {
	return func(id domain.ProviderID) adapter.Options {
		baseURL := cfg.BaseURL(string(id))
		if baseURL == "" {
			if p, err := cat.Lookup(id); err == nil {
				baseURL = p.BaseURL
			}
		}
		return adapter.Options{
			BaseURL:      baseURL,
			HTTPClient:   client,
			PollInterval: cfg.PollInterval(),
			Logger:       logger.With("provider", id),
		}
	}
}

// Catalog returns the provider catalog.
func (g *Gateway) Catalog() *catalog.Catalog { return g.catalog }

// Config returns the effective configuration.
func (g *Gateway) Config() *config.Config { return g.cfg }

// Router returns the call router.
func (g *Gateway) Router() *router.Router { return g.router }

// PutKey stores a credential after validating its format.
func (g *Gateway) PutKey(ctx context.Context, id domain.ProviderID, secret string, v domain.Volatility) error {
	return g.creds.Put(ctx, id, secret, v)
}

// RemoveKey deletes a provider's credential from every tier.
func (g *Gateway) RemoveKey(ctx context.Context, id domain.ProviderID) error {
	return g.creds.Remove(ctx, id)
}

// ListKeys returns the providers that have a stored credential.
func (g *Gateway) ListKeys(ctx context.Context) ([]domain.ProviderID, error) {
	return g.creds.List(ctx)
}

// EndSession drops session-scoped credentials.
func (g *Gateway) EndSession() {
	g.creds.EndSession()
}

// Route reports how calls to a provider travel.
func (g *Gateway) Route(id domain.ProviderID) (router.Route, error) {
	return g.router.Route(id)
}

// Generate opens a normalized chunk stream.
func (g *Gateway) Generate(ctx context.Context, id domain.ProviderID, req *domain.GenerateRequest, opts ...router.CallOption) (<-chan domain.Chunk, error) {
	return g.router.Generate(ctx, id, req, opts...)
}

// GenerateMessage runs a call to completion and returns the aggregated
// message. On a mid-stream error the partial message is returned with the
// error. The last user message and the reply are appended to the model's
// history, partial replies included.
func (g *Gateway) GenerateMessage(ctx context.Context, id domain.ProviderID, req *domain.GenerateRequest, onChunk func(domain.Chunk), opts ...router.CallOption) (*domain.GeneratedMessage, error) {
	start := time.Now()
	stream, err := g.router.Generate(ctx, id, req, opts...)
	if err != nil {
		return nil, err
	}
	msg, streamErr := aggregator.Collect(ctx, start, stream, onChunk)

	if !g.noHistory {
		if err := g.recordExchange(context.WithoutCancel(ctx), req, msg, start); err != nil {
			g.logger.Warn("failed to record history", "model", req.Model, "error", err)
		}
	}
	return msg, streamErr
}

func (g *Gateway) recordExchange(ctx context.Context, req *domain.GenerateRequest, msg *domain.GeneratedMessage, start time.Time) error {
	if prompt := req.LastUserText(); prompt != "" {
		if err := g.store.AppendEntry(ctx, &storage.HistoryEntry{
			ID:        uuid.NewString(),
			ModelID:   req.Model,
			Role:      domain.RoleUser,
			Content:   prompt,
			CreatedAt: start,
		}); err != nil {
			return err
		}
	}
	if msg == nil || (msg.Content == "" && len(msg.Images)+len(msg.Videos)+len(msg.Audios) == 0) {
		return nil
	}
	return g.store.AppendEntry(ctx, &storage.HistoryEntry{
		ID:                     msg.ID,
		ModelID:                req.Model,
		Role:                   msg.Role,
		Content:                msg.Content,
		Images:                 msg.Images,
		Videos:                 msg.Videos,
		Audios:                 msg.Audios,
		TimeToFirstChunkMillis: msg.TimeToFirstChunkMillis,
		CreatedAt:              msg.CreatedAt,
	})
}

// Transcribe converts speech to text.
func (g *Gateway) Transcribe(ctx context.Context, id domain.ProviderID, audio *domain.AudioBlob, model string, opts ...router.CallOption) (string, error) {
	return g.router.Transcribe(ctx, id, audio, model, opts...)
}

// History returns a model's conversation log in append order.
func (g *Gateway) History(ctx context.Context, model string) ([]*storage.HistoryEntry, error) {
	return g.store.ListEntries(ctx, model)
}

// ClearHistory deletes a model's conversation log.
func (g *Gateway) ClearHistory(ctx context.Context, model string) error {
	return g.store.ClearEntries(ctx, model)
}

// Close ends the session and releases storage.
func (g *Gateway) Close() error {
	g.creds.EndSession()
	return g.store.Close()
}

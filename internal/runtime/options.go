package runtime

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/openmaas/openmaas-gateway/internal/config"
	"github.com/openmaas/openmaas-gateway/internal/router"
	"github.com/openmaas/openmaas-gateway/internal/storage"
	"github.com/openmaas/openmaas-gateway/internal/storage/memory"
	"github.com/openmaas/openmaas-gateway/internal/storage/sqlite"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithConfig uses an already loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(g *Gateway) error {
		g.cfg = cfg
		return nil
	}
}

// WithFileConfig loads config.yaml-style configuration plus OPENMAAS_
// environment overrides.
func WithFileConfig(path string) Option {
	return func(g *Gateway) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		g.cfg = cfg
		return nil
	}
}

// WithSQLite keeps durable credentials and history in a SQLite file.
func WithSQLite(path string) Option {
	return func(g *Gateway) error {
		store, err := sqlite.New(path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		g.store = store
		return nil
	}
}

// WithMemoryStorage keeps everything in process memory. Durable credentials
// then last only as long as the process.
func WithMemoryStorage() Option {
	return func(g *Gateway) error {
		g.store = memory.New()
		return nil
	}
}

// WithStore sets a custom storage backend.
func WithStore(store storage.Store) Option {
	return func(g *Gateway) error {
		g.store = store
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// WithHTTPClient sets the client adapters use for direct provider calls.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) error {
		g.httpClient = client
		return nil
	}
}

// WithForwarder replaces the pass-through proxy client built from
// proxy.url.
func WithForwarder(f router.Forwarder) Option {
	return func(g *Gateway) error {
		g.forwarder = f
		return nil
	}
}

// WithoutHistory disables the per-model history log.
func WithoutHistory() Option {
	return func(g *Gateway) error {
		g.noHistory = true
		return nil
	}
}

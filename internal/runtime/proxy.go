package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openmaas/openmaas-gateway/internal/adapter/registry"
	"github.com/openmaas/openmaas-gateway/internal/catalog"
	"github.com/openmaas/openmaas-gateway/internal/config"
	"github.com/openmaas/openmaas-gateway/internal/pkg/safehttp"
	"github.com/openmaas/openmaas-gateway/internal/proxy"
	"github.com/openmaas/openmaas-gateway/internal/server"
)

// Proxy is the pass-through proxy process. It has no credential store and
// no storage of any kind.
type Proxy struct {
	server *server.Server
	logger *slog.Logger
}

// NewProxy builds the proxy HTTP server from configuration.
func NewProxy(cfg *config.Config, logger *slog.Logger) (*Proxy, error) {
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}

	upstream := safehttp.NewClient(cfg.Proxy.BlockPrivateNetworks)
	adapters := registry.New(adapterOptions(cfg, cat, upstream, logger))

	srv := server.New(server.Options{
		Port:           cfg.Server.Port,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout(),
		ServiceName:    cfg.Telemetry.ServiceName,
	}, logger)
	proxy.NewHandler(cat, adapters, proxy.WithLogger(logger)).Routes(srv.Router)

	logger.Info("proxy configured",
		slog.Int("port", cfg.Server.Port),
		slog.Bool("block_private_networks", cfg.Proxy.BlockPrivateNetworks),
		slog.Int("providers", len(cat.IDs())),
	)
	return &Proxy{server: srv, logger: logger}, nil
}

// Server returns the underlying HTTP server.
func (p *Proxy) Server() *server.Server { return p.server }

// Run serves until ctx is cancelled.
func (p *Proxy) Run(ctx context.Context) error {
	if err := p.server.Start(ctx); err != nil {
		return fmt.Errorf("proxy server: %w", err)
	}
	return nil
}

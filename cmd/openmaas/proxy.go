package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/openmaas/openmaas-gateway/internal/runtime"
	"github.com/openmaas/openmaas-gateway/internal/telemetry"
)

func (a *app) proxyCommand() *cli.Command {
	return &cli.Command{
		Name:  "proxy",
		Usage: "run the pass-through proxy for providers that refuse direct calls",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Usage: "override server.port"},
			&cli.StringFlag{Name: "debug-addr", Usage: "serve pprof on this address (disabled when empty)"},
		},
		Action: a.runProxy,
	}
}

func (a *app) runProxy(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("port") {
		cfg.Server.Port = cmd.Int("port")
	}

	logger := newLogger(cfg.Log, a.stdout)
	slog.SetDefault(logger)

	shutdown, err := telemetry.InitTracer(telemetry.Options{
		ServiceName: cfg.Telemetry.ServiceName,
		Exporter:    cfg.Telemetry.Exporter,
		Writer:      a.stderr,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	p, err := runtime.NewProxy(cfg, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Run(gctx)
	})
	if addr := cmd.String("debug-addr"); addr != "" {
		g.Go(func() error {
			return serveDebug(gctx, addr, logger)
		})
	}

	err = g.Wait()
	logger.Info("proxy stopped")
	return err
}

// serveDebug exposes pprof on its own listener until ctx is done.
func serveDebug(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("debug server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("debug server: %w", err)
	}
	return nil
}

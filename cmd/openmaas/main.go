// Command openmaas is the gateway CLI. It runs the pass-through proxy and
// drives generate, transcribe, key management and history from a terminal.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/openmaas/openmaas-gateway/internal/config"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	if err := a.command().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "openmaas:", err)
		os.Exit(1)
	}
}

type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func (a *app) command() *cli.Command {
	return &cli.Command{
		Name:      "openmaas",
		Usage:     "bring-your-own-key gateway to hosted generative model providers",
		Writer:    a.stdout,
		ErrWriter: a.stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config.yaml",
				Value:   "config.yaml",
				Sources: cli.EnvVars("OPENMAAS_CONFIG"),
			},
			&cli.StringFlag{Name: "log-level", Usage: "override log.level (debug, info, warn, error)"},
			&cli.StringFlag{Name: "log-format", Usage: "override log.format (json, text)"},
		},
		Commands: []*cli.Command{
			a.proxyCommand(),
			a.generateCommand(),
			a.transcribeCommand(),
			a.keysCommand(),
			a.catalogCommand(),
			a.historyCommand(),
		},
	}
}

// loadConfig reads the configuration file named by --config and applies the
// logging overrides.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.LoadFile(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if v := cmd.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := cmd.String("log-format"); v != "" {
		cfg.Log.Format = v
	}
	return cfg, nil
}

// newLogger builds a slog logger from the log section of the configuration.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

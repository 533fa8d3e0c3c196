package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides. Nested keys use a
// double underscore, e.g. OPENMAAS_SERVER__PORT.
const EnvPrefix = "OPENMAAS_"

type Config struct {
	Server    ServerConfig              `koanf:"server"`
	Proxy     ProxyConfig               `koanf:"proxy"`
	Gateway   GatewayConfig             `koanf:"gateway"`
	Catalog   CatalogConfig             `koanf:"catalog"`
	Storage   StorageConfig             `koanf:"storage"`
	Providers map[string]ProviderConfig `koanf:"providers"`
	Log       LogConfig                 `koanf:"log"`
	Telemetry TelemetryConfig           `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int      `koanf:"port"`
	CORSOrigins    []string `koanf:"cors_origins"`
	RequestTimeout string   `koanf:"request_timeout"` // Duration string like "15m"
}

// ProxyConfig configures both sides of the pass-through proxy.
type ProxyConfig struct {
	URL                  string `koanf:"url"`                    // Where callers reach the proxy
	BlockPrivateNetworks bool   `koanf:"block_private_networks"` // Refuse upstream dials to private ranges
}

type GatewayConfig struct {
	IdleTimeout      string `koanf:"idle_timeout"`       // Max gap between chunks for chat/image/tts
	MediaIdleTimeout string `koanf:"media_idle_timeout"` // Max gap between chunks for video/music
	PollInterval     string `koanf:"poll_interval"`      // Long-running job polling cadence
}

type CatalogConfig struct {
	Path string `koanf:"path"` // Optional override of the embedded catalog
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// ProviderConfig overrides per-provider endpoints. Secrets never live here.
type ProviderConfig struct {
	BaseURL string `koanf:"base_url"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	ServiceName string `koanf:"service_name"`
	Exporter    string `koanf:"exporter"` // none, stdout
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads config.yaml from the working directory followed by environment
// overrides.
func Load() (*Config, error) {
	return LoadFile("config.yaml")
}

// LoadFile reads the given YAML file (if present) followed by environment
// overrides and fills defaults.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Proxy.URL = substituteEnvVars(cfg.Proxy.URL)
	cfg.Storage.SQLite.Path = substituteEnvVars(cfg.Storage.SQLite.Path)
	cfg.Catalog.Path = substituteEnvVars(cfg.Catalog.Path)
	for id, p := range cfg.Providers {
		p.BaseURL = substituteEnvVars(p.BaseURL)
		cfg.Providers[id] = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]interface{}{
		"server.port":                  8000,
		"server.cors_origins":          []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		"server.request_timeout":       "15m",
		"proxy.url":                    "http://localhost:8000",
		"proxy.block_private_networks": true,
		"gateway.idle_timeout":         "60s",
		"gateway.media_idle_timeout":   "10m",
		"gateway.poll_interval":        "5s",
		"storage.type":                 "sqlite",
		"storage.sqlite.path":          "./data/openmaas.db",
		"log.level":                    "info",
		"log.format":                   "json",
		"telemetry.service_name":       "openmaas-gateway",
		"telemetry.exporter":           "none",
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	for name, v := range map[string]string{
		"server.request_timeout":     c.Server.RequestTimeout,
		"gateway.idle_timeout":       c.Gateway.IdleTimeout,
		"gateway.media_idle_timeout": c.Gateway.MediaIdleTimeout,
		"gateway.poll_interval":      c.Gateway.PollInterval,
	} {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("%s: invalid duration %q", name, v)
		}
	}
	switch c.Storage.Type {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("storage.type %q not supported", c.Storage.Type)
	}
	switch c.Telemetry.Exporter {
	case "none", "stdout":
	default:
		return fmt.Errorf("telemetry.exporter %q not supported", c.Telemetry.Exporter)
	}
	return nil
}

// IdleTimeout returns the parsed chat idle timeout.
func (c *Config) IdleTimeout() time.Duration { return mustDuration(c.Gateway.IdleTimeout) }

// MediaIdleTimeout returns the parsed media idle timeout.
func (c *Config) MediaIdleTimeout() time.Duration { return mustDuration(c.Gateway.MediaIdleTimeout) }

// PollInterval returns the parsed long-running job poll interval.
func (c *Config) PollInterval() time.Duration { return mustDuration(c.Gateway.PollInterval) }

// RequestTimeout returns the parsed proxy request timeout.
func (c *Config) RequestTimeout() time.Duration { return mustDuration(c.Server.RequestTimeout) }

// BaseURL returns the configured endpoint override for a provider, if any.
func (c *Config) BaseURL(providerID string) string {
	return c.Providers[providerID].BaseURL
}

func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Package gateway provides the public API for embedding the model gateway.
// This is the stable API for external consumers.
package gateway

import (
	"github.com/openmaas/openmaas-gateway/internal/domain"
	"github.com/openmaas/openmaas-gateway/internal/router"
	"github.com/openmaas/openmaas-gateway/internal/runtime"
	"github.com/openmaas/openmaas-gateway/internal/storage"
)

// Gateway routes generation and transcription calls and owns the caller's
// credentials. See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithFileConfig("config.yaml"),
//	    gateway.WithSQLite("./data/gateway.db"),
//	)
var New = runtime.New

// Configuration options
var (
	WithConfig     = runtime.WithConfig
	WithFileConfig = runtime.WithFileConfig

	// Storage
	WithSQLite        = runtime.WithSQLite
	WithMemoryStorage = runtime.WithMemoryStorage
	WithStore         = runtime.WithStore
	WithoutHistory    = runtime.WithoutHistory

	// Advanced options
	WithLogger     = runtime.WithLogger
	WithHTTPClient = runtime.WithHTTPClient
	WithForwarder  = runtime.WithForwarder
)

// CallOption configures a single call.
type CallOption = router.CallOption

// WithSecret supplies a single-use key for one call without storing it.
var WithSecret = router.WithSecret

// Request and result types.
type (
	ProviderID       = domain.ProviderID
	Volatility       = domain.Volatility
	GenerateRequest  = domain.GenerateRequest
	Message          = domain.Message
	ModalityConfig   = domain.ModalityConfig
	Chunk            = domain.Chunk
	GeneratedMessage = domain.GeneratedMessage
	AudioBlob        = domain.AudioBlob
	APIError         = domain.APIError
	HistoryEntry     = storage.HistoryEntry
	Route            = router.Route
)

// Credential volatility levels.
const (
	VolatilityDurable   = domain.VolatilityDurable
	VolatilitySession   = domain.VolatilitySession
	VolatilityEphemeral = domain.VolatilityEphemeral
)

// Route decisions.
const (
	RouteDirect  = router.RouteDirect
	RouteProxied = router.RouteProxied
)

// Package storage defines the caller-side persistence interfaces: the durable
// credential tier and the per-model conversation history log.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/openmaas/openmaas-gateway/internal/domain"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// SecretStore persists durable credentials on the caller's machine. It must
// never be instantiated by the pass-through proxy.
type SecretStore interface {
	PutSecret(ctx context.Context, providerID domain.ProviderID, secret string) error
	// GetSecret returns ErrNotFound when no secret is stored.
	GetSecret(ctx context.Context, providerID domain.ProviderID) (string, error)
	DeleteSecret(ctx context.Context, providerID domain.ProviderID) error
	ListSecrets(ctx context.Context) ([]domain.ProviderID, error)
	Close() error
}

// HistoryEntry is one message in a model's conversation log.
type HistoryEntry struct {
	ID                     string         `json:"id"`
	ModelID                string         `json:"modelId"`
	Role                   domain.Role    `json:"role"`
	Content                string         `json:"content"`
	Images                 []domain.Image `json:"images,omitempty"`
	Videos                 []domain.Video `json:"videos,omitempty"`
	Audios                 []domain.Audio `json:"audios,omitempty"`
	TimeToFirstChunkMillis int64          `json:"timeToFirstChunkMillis,omitempty"`
	CreatedAt              time.Time      `json:"createdAt"`
}

// HistoryStore is an append-only log keyed by model id.
type HistoryStore interface {
	AppendEntry(ctx context.Context, entry *HistoryEntry) error
	// ListEntries returns entries for modelID in append order.
	ListEntries(ctx context.Context, modelID string) ([]*HistoryEntry, error)
	ClearEntries(ctx context.Context, modelID string) error
	Close() error
}

// Store combines both interfaces, as implemented by the bundled backends.
type Store interface {
	SecretStore
	HistoryStore
}

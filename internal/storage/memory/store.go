package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openmaas/openmaas-gateway/internal/domain"
	"github.com/openmaas/openmaas-gateway/internal/storage"
)

// Store is an in-memory implementation of storage.Store
type Store struct {
	mu      sync.RWMutex
	secrets map[domain.ProviderID]string
	history map[string][]*storage.HistoryEntry
}

var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		secrets: make(map[domain.ProviderID]string),
		history: make(map[string][]*storage.HistoryEntry),
	}
}

func (s *Store) PutSecret(ctx context.Context, providerID domain.ProviderID, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.secrets[providerID] = secret
	return nil
}

func (s *Store) GetSecret(ctx context.Context, providerID domain.ProviderID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	secret, ok := s.secrets[providerID]
	if !ok {
		return "", storage.ErrNotFound
	}
	return secret, nil
}

func (s *Store) DeleteSecret(ctx context.Context, providerID domain.ProviderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.secrets, providerID)
	return nil
}

func (s *Store) ListSecrets(ctx context.Context) ([]domain.ProviderID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]domain.ProviderID, 0, len(s.secrets))
	for id := range s.secrets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) AppendEntry(ctx context.Context, entry *storage.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	stored := *entry
	s.history[entry.ModelID] = append(s.history[entry.ModelID], &stored)
	return nil
}

func (s *Store) ListEntries(ctx context.Context, modelID string) ([]*storage.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[modelID]
	out := make([]*storage.HistoryEntry, len(entries))
	for i, e := range entries {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (s *Store) ClearEntries(ctx context.Context, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.history, modelID)
	return nil
}

func (s *Store) Close() error {
	return nil
}

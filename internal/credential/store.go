// Package credential holds caller-supplied provider secrets across three
// volatility tiers. Only the durable tier touches a persistent medium, and
// that medium lives on the caller's machine.
package credential

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/openmaas/openmaas-gateway/internal/catalog"
	"github.com/openmaas/openmaas-gateway/internal/domain"
	"github.com/openmaas/openmaas-gateway/internal/storage"
)

type entry struct {
	secret string
	gen    uint64
}

// Store keeps at most one credential per provider across all tiers.
type Store struct {
	catalog *catalog.Catalog
	durable storage.SecretStore

	mu        sync.RWMutex
	session   map[domain.ProviderID]entry
	ephemeral map[domain.ProviderID]entry
	gen       uint64
}

// NewStore creates a credential store. durable may be nil, in which case
// durable puts are rejected.
func NewStore(cat *catalog.Catalog, durable storage.SecretStore) *Store {
	return &Store{
		catalog:   cat,
		durable:   durable,
		session:   make(map[domain.ProviderID]entry),
		ephemeral: make(map[domain.ProviderID]entry),
	}
}

// Put validates secret and stores it in the tier selected by v, replacing
// any credential for the provider in every tier.
func (s *Store) Put(ctx context.Context, providerID domain.ProviderID, secret string, v domain.Volatility) error {
	p, err := s.catalog.Lookup(providerID)
	if err != nil {
		return err
	}
	if err := p.ValidateKey(secret); err != nil {
		return err
	}
	if v == domain.VolatilityDurable && s.durable == nil {
		return errors.New("durable credential storage is not configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.removeLocked(ctx, providerID); err != nil {
		return err
	}

	s.gen++
	switch v {
	case domain.VolatilityDurable:
		return s.durable.PutSecret(ctx, providerID, secret)
	case domain.VolatilitySession:
		s.session[providerID] = entry{secret: secret, gen: s.gen}
	case domain.VolatilityEphemeral:
		s.ephemeral[providerID] = entry{secret: secret, gen: s.gen}
	default:
		return fmt.Errorf("unknown volatility %q", v)
	}
	return nil
}

// Get returns the stored secret for providerID.
func (s *Store) Get(ctx context.Context, providerID domain.ProviderID) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	secret, _, _, ok, err := s.getLocked(ctx, providerID)
	return secret, ok, err
}

func (s *Store) getLocked(ctx context.Context, providerID domain.ProviderID) (string, domain.Volatility, uint64, bool, error) {
	if e, ok := s.ephemeral[providerID]; ok {
		return e.secret, domain.VolatilityEphemeral, e.gen, true, nil
	}
	if e, ok := s.session[providerID]; ok {
		return e.secret, domain.VolatilitySession, e.gen, true, nil
	}
	if s.durable == nil {
		return "", "", 0, false, nil
	}
	secret, err := s.durable.GetSecret(ctx, providerID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", "", 0, false, nil
	}
	if err != nil {
		return "", "", 0, false, err
	}
	return secret, domain.VolatilityDurable, 0, true, nil
}

// Remove deletes the provider's credential from every tier.
func (s *Store) Remove(ctx context.Context, providerID domain.ProviderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removeLocked(ctx, providerID)
}

func (s *Store) removeLocked(ctx context.Context, providerID domain.ProviderID) error {
	delete(s.session, providerID)
	delete(s.ephemeral, providerID)
	if s.durable != nil {
		return s.durable.DeleteSecret(ctx, providerID)
	}
	return nil
}

// List returns the providers with a stored credential, sorted.
func (s *Store) List(ctx context.Context) ([]domain.ProviderID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[domain.ProviderID]struct{})
	for id := range s.session {
		seen[id] = struct{}{}
	}
	for id := range s.ephemeral {
		seen[id] = struct{}{}
	}
	if s.durable != nil {
		ids, err := s.durable.ListSecrets(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}

	out := make([]domain.ProviderID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// EndSession clears the session tier.
func (s *Store) EndSession() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = make(map[domain.ProviderID]entry)
}

// Lease is a credential checked out for a single call.
type Lease struct {
	ProviderID domain.ProviderID
	Secret     string
	Volatility domain.Volatility

	store    *Store
	gen      uint64
	released bool
}

// Checkout fetches the credential a call will use. Providers that need no
// credential get an empty lease unless a credential was stored anyway.
func (s *Store) Checkout(ctx context.Context, providerID domain.ProviderID) (*Lease, error) {
	p, err := s.catalog.Lookup(providerID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	secret, v, gen, ok, err := s.getLocked(ctx, providerID)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	if !ok {
		if !p.RequiresCredential() {
			return &Lease{ProviderID: providerID, store: s}, nil
		}
		return nil, domain.ErrNoCredential(providerID)
	}
	return &Lease{ProviderID: providerID, Secret: secret, Volatility: v, store: s, gen: gen}, nil
}

// Supplied wraps a caller-supplied secret in an ephemeral lease that is not
// backed by any store. Releasing it only clears the secret.
func Supplied(providerID domain.ProviderID, secret string) *Lease {
	return &Lease{ProviderID: providerID, Secret: secret, Volatility: domain.VolatilityEphemeral}
}

// Release ends the lease. An ephemeral credential is discarded unless it was
// replaced after checkout. Release is idempotent.
func (l *Lease) Release() {
	if l == nil || l.released {
		return
	}
	l.released = true
	l.Secret = ""

	if l.Volatility != domain.VolatilityEphemeral || l.store == nil {
		return
	}

	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.ephemeral[l.ProviderID]; ok && e.gen == l.gen {
		delete(s.ephemeral, l.ProviderID)
	}
}

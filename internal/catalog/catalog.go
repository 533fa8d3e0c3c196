// Package catalog provides the read-only provider and model metadata the
// gateway validates requests and credentials against.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/openmaas/openmaas-gateway/internal/domain"
)

//go:embed providers.yaml
var defaultCatalog []byte

// Model describes one model offered by a provider.
type Model struct {
	ID            string          `koanf:"id" json:"id"`
	Name          string          `koanf:"name" json:"name"`
	Modality      domain.Modality `koanf:"modality" json:"modality"`
	ContextWindow int             `koanf:"context_window" json:"contextWindow"`
}

// Provider describes one provider entry.
type Provider struct {
	ID                 domain.ProviderID `koanf:"id" json:"id"`
	Name               string            `koanf:"name" json:"name"`
	Description        string            `koanf:"description" json:"description,omitempty"`
	SupportsDirectCall bool              `koanf:"supports_direct_call" json:"supportsDirectCall"`
	KeyPattern         string            `koanf:"key_pattern" json:"keyPattern,omitempty"`
	NoCredential       bool              `koanf:"no_credential" json:"noCredential,omitempty"`
	DynamicModels      bool              `koanf:"dynamic_models" json:"dynamicModels,omitempty"`
	BaseURL            string            `koanf:"base_url" json:"baseUrl,omitempty"`
	Models             []Model           `koanf:"models" json:"models"`

	keyRe *regexp.Regexp
}

// RequiresCredential reports whether calls need a stored secret.
func (p *Provider) RequiresCredential() bool {
	return !p.NoCredential
}

// ValidateKey checks secret against the provider's key format.
func (p *Provider) ValidateKey(secret string) error {
	if p.NoCredential {
		return nil
	}
	if secret == "" {
		return domain.ErrInvalidKeyFormat("secret must not be empty").WithProvider(p.ID)
	}
	if p.keyRe != nil && !p.keyRe.MatchString(secret) {
		return domain.ErrInvalidKeyFormat(fmt.Sprintf("secret does not match the %s key format", p.Name)).
			WithProvider(p.ID)
	}
	return nil
}

// Model looks up a model. Providers with dynamic models accept any id and
// treat it as a chat model with an unknown context window.
func (p *Provider) Model(id string) (*Model, error) {
	for i := range p.Models {
		if p.Models[i].ID == id {
			return &p.Models[i], nil
		}
	}
	if p.DynamicModels && id != "" {
		return &Model{ID: id, Name: id, Modality: domain.ModalityChat}, nil
	}
	return nil, domain.ErrInvalidRequest(fmt.Sprintf("model %q is not offered by provider %q", id, p.ID)).
		WithCode(domain.ErrorCodeModelNotFound).
		WithParam("model").
		WithProvider(p.ID)
}

// Catalog is an immutable set of providers.
type Catalog struct {
	providers map[domain.ProviderID]*Provider
	order     []domain.ProviderID
}

type document struct {
	Providers []Provider `koanf:"providers"`
}

// bytesProvider feeds an in-memory YAML document to koanf.
type bytesProvider []byte

func (b bytesProvider) ReadBytes() ([]byte, error) { return b, nil }

func (b bytesProvider) Read() (map[string]interface{}, error) {
	return nil, errors.New("catalog: bytes provider does not support Read")
}

// Load reads the embedded catalog. If path is non-empty and exists, its
// provider list replaces the embedded one.
func Load(path string) (*Catalog, error) {
	k := koanf.New(".")

	if err := k.Load(bytesProvider(defaultCatalog), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse embedded catalog: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load catalog %s: %w", path, err)
			}
		}
	}

	var doc document
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	return New(doc.Providers)
}

// New builds a catalog from provider entries, compiling key patterns.
func New(providers []Provider) (*Catalog, error) {
	c := &Catalog{providers: make(map[domain.ProviderID]*Provider, len(providers))}
	for i := range providers {
		p := providers[i]
		if p.ID == "" {
			return nil, fmt.Errorf("catalog entry %d has no id", i)
		}
		if _, dup := c.providers[p.ID]; dup {
			return nil, fmt.Errorf("duplicate catalog entry %q", p.ID)
		}
		if p.KeyPattern != "" {
			re, err := regexp.Compile(p.KeyPattern)
			if err != nil {
				return nil, fmt.Errorf("provider %s: invalid key_pattern: %w", p.ID, err)
			}
			p.keyRe = re
		}
		c.providers[p.ID] = &p
		c.order = append(c.order, p.ID)
	}
	return c, nil
}

// Lookup returns the provider entry for id.
func (c *Catalog) Lookup(id domain.ProviderID) (*Provider, error) {
	p, ok := c.providers[id]
	if !ok {
		return nil, domain.ErrInvalidRequest(fmt.Sprintf("unknown provider %q", id)).
			WithCode(domain.ErrorCodeProviderNotFound).
			WithParam("providerId")
	}
	return p, nil
}

// Providers returns all entries in catalog order.
func (c *Catalog) Providers() []*Provider {
	out := make([]*Provider, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.providers[id])
	}
	return out
}

// IDs returns the provider ids sorted alphabetically.
func (c *Catalog) IDs() []domain.ProviderID {
	ids := append([]domain.ProviderID(nil), c.order...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

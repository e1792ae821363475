package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry manages the payment providers the service can talk to
type Registry struct {
	providers map[ProviderType]Provider
	mu        sync.RWMutex
}

// ProviderInfo describes a registered provider
type ProviderInfo struct {
	Type       ProviderType `json:"type"`
	Name       string       `json:"name"`
	Configured bool         `json:"configured"`
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[ProviderType]Provider)}
}

// RegisterProvider adds a provider to the registry, replacing any earlier one
// of the same type.
func (r *Registry) RegisterProvider(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[p.Type()] = p
	log.Info().
		Str("provider", string(p.Type())).
		Str("name", p.Name()).
		Bool("configured", p.IsConfigured()).
		Msg("registered payment provider")
}

// GetProvider returns a provider by type
func (r *Registry) GetProvider(providerType ProviderType) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[providerType]
	if !ok {
		return nil, &ProviderError{
			Code:    "provider_not_found",
			Message: fmt.Sprintf("provider %s not registered", providerType),
		}
	}
	return p, nil
}

// ListProviders returns all registered provider types in name order
func (r *Registry) ListProviders() []ProviderType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]ProviderType, 0, len(r.providers))
	for t := range r.providers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func (r *Registry) GetAllProviderInfo() []ProviderInfo {
	infos := []ProviderInfo{}
	for _, t := range r.ListProviders() {
		p, err := r.GetProvider(t)
		if err != nil {
			continue
		}
		infos = append(infos, ProviderInfo{Type: t, Name: p.Name(), Configured: p.IsConfigured()})
	}
	return infos
}

package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Rrens/ally-chat/internal/domain"
)

// Router maps assistant models to inference providers
type Router struct {
	providers       map[string]Provider
	routes          map[domain.Model]string
	defaultProvider string
	mu              sync.RWMutex
}

// NewRouter creates a new LLM router
func NewRouter(defaultProvider string) *Router {
	return &Router{
		providers:       make(map[string]Provider),
		routes:          make(map[domain.Model]string),
		defaultProvider: defaultProvider,
	}
}

// RegisterProvider registers an inference provider
func (r *Router) RegisterProvider(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.Name()] = provider
}

// Route sends requests for model to the named provider
func (r *Router) Route(model domain.Model, providerName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[model] = providerName
}

// ProviderFor returns the provider serving model
func (r *Router) ProviderFor(model domain.Model) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.routes[model]
	if !ok {
		name = r.defaultProvider
	}

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not found for model %s: %s", model, name)
	}
	if !p.IsConfigured() {
		return nil, fmt.Errorf("provider not configured: %s", name)
	}
	return p, nil
}

// ListProviders returns the configured provider names
func (r *Router) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var providers []string
	for name, p := range r.providers {
		if p.IsConfigured() {
			providers = append(providers, name)
		}
	}
	sort.Strings(providers)
	return providers
}

// DefaultProvider returns the default provider name
func (r *Router) DefaultProvider() string {
	return r.defaultProvider
}

// Package ai provides the LLM and embedding provider layer: a factory
// registry keyed by provider name, an OpenAI-compatible client with SSE
// streaming, and a deterministic mock provider for tests and offline runs.
package ai

import (
	"fmt"
	"sort"
	"sync"

	"github.com/schmitech/orbit/core"
)

// Factory builds clients and embedders for one provider family.
type Factory interface {
	// Name returns the provider's configuration name.
	Name() string

	// Description returns a human-readable description.
	Description() string

	// CreateClient builds an inference client from configuration.
	CreateClient(cfg core.ProviderConfig, logger core.Logger) (core.AIClient, error)

	// CreateEmbedder builds an embedding client from configuration.
	CreateEmbedder(cfg core.ProviderConfig, logger core.Logger) (core.Embedder, error)
}

// Registry resolves provider names to factories. Constructed at process
// start and injected; there is no package-global registry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    core.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger core.Logger) *Registry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

// DefaultRegistry returns a registry with the built-in providers registered.
func DefaultRegistry(logger core.Logger) *Registry {
	r := NewRegistry(logger)
	// Built-ins cannot collide.
	_ = r.Register(&OpenAIFactory{})
	_ = r.Register(&MockFactory{})
	return r
}

// Register adds a provider factory. Duplicate names are rejected.
func (r *Registry) Register(f Factory) error {
	if f == nil {
		return fmt.Errorf("nil provider factory: %w", core.ErrInvalidConfiguration)
	}
	name := f.Name()
	if name == "" {
		return fmt.Errorf("provider factory without name: %w", core.ErrInvalidConfiguration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("provider %q already registered: %w", name, core.ErrAlreadyStarted)
	}
	r.factories[name] = f
	return nil
}

// Providers returns registered provider names in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) factory(name string) (Factory, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (registered: %v): %w", name, r.Providers(), core.ErrInvalidConfiguration)
	}
	return f, nil
}

// Client builds an inference client for a provider config.
func (r *Registry) Client(cfg core.ProviderConfig) (core.AIClient, error) {
	f, err := r.factory(cfg.Provider)
	if err != nil {
		return nil, err
	}
	client, err := f.CreateClient(cfg, r.logger)
	if err != nil {
		return nil, err
	}
	r.logger.Info("Inference provider created", map[string]interface{}{
		"operation": "ai_provider_create",
		"provider":  cfg.Provider,
		"model":     cfg.Model,
	})
	return client, nil
}

// Embedder builds an embedding client for a provider config.
func (r *Registry) Embedder(cfg core.ProviderConfig) (core.Embedder, error) {
	f, err := r.factory(cfg.Provider)
	if err != nil {
		return nil, err
	}
	embedder, err := f.CreateEmbedder(cfg, r.logger)
	if err != nil {
		return nil, err
	}
	r.logger.Info("Embedding provider created", map[string]interface{}{
		"operation": "ai_provider_create",
		"provider":  cfg.Provider,
		"model":     cfg.Model,
	})
	return embedder, nil
}

package adapters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/resilience"
)

// instance pairs a built adapter with the descriptor hash it was built from.
type instance struct {
	adapter core.Adapter
	hash    string
}

// Registry resolves adapter names to cached runtime instances. Instances are
// built lazily on first Get and invalidated when the descriptor's content
// hash changes on reload. The RWMutex doubles as the reload barrier: a
// reload takes the write lock and therefore drains in-flight lookups.
type Registry struct {
	factory  *Factory
	breakers *resilience.Manager
	defaults core.CircuitBreakerConfig
	logger   core.Logger

	mu          sync.RWMutex
	descriptors map[string]core.AdapterDescriptor
	hashes      map[string]string
	instances   map[string]*instance
}

// RegistryOptions configures the adapter registry.
type RegistryOptions struct {
	Factory         *Factory
	Breakers        *resilience.Manager
	BreakerDefaults core.CircuitBreakerConfig
	Descriptors     []core.AdapterDescriptor
	Logger          core.Logger
}

// NewRegistry builds the registry from the initial descriptor set.
func NewRegistry(opts RegistryOptions) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("gateway/adapters")
	}
	r := &Registry{
		factory:     opts.Factory,
		breakers:    opts.Breakers,
		defaults:    opts.BreakerDefaults,
		logger:      logger,
		descriptors: map[string]core.AdapterDescriptor{},
		hashes:      map[string]string{},
		instances:   map[string]*instance{},
	}
	for _, d := range opts.Descriptors {
		r.descriptors[d.Name] = d
		r.hashes[d.Name] = descriptorHash(d)
		r.configureBreaker(d)
	}
	return r
}

// descriptorHash fingerprints everything an instance is built from. A
// provider override or config change produces a new hash and therefore a
// rebuild.
func descriptorHash(d core.AdapterDescriptor) string {
	data, err := json.Marshal(d)
	if err != nil {
		// Descriptors come from YAML and always marshal; keep a stable
		// sentinel for the impossible case.
		return "unhashable"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// configureBreaker installs the descriptor's breaker config, overlaying
// fault_tolerance on the process defaults.
func (r *Registry) configureBreaker(d core.AdapterDescriptor) {
	cfg := resolvedBreakerConfig(r.defaults, d)
	r.breakers.GetWithConfig(d.Name, cfg)
}

func resolvedBreakerConfig(defaults core.CircuitBreakerConfig, d core.AdapterDescriptor) core.CircuitBreakerConfig {
	cfg := core.Config{CircuitBreaker: defaults}
	return cfg.ResolvedBreakerConfig(d)
}

// Get returns the adapter instance for a name, building it on first use.
func (r *Registry) Get(ctx context.Context, name string) (core.Adapter, error) {
	r.mu.RLock()
	if inst, ok := r.instances[name]; ok {
		r.mu.RUnlock()
		return inst.adapter, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have built it between the locks.
	if inst, ok := r.instances[name]; ok {
		return inst.adapter, nil
	}

	d, ok := r.descriptors[name]
	if !ok {
		return nil, fmt.Errorf("adapter %q: %w", name, core.ErrAdapterNotFound)
	}

	adapter, err := r.factory.Build(ctx, d)
	if err != nil {
		return nil, err
	}
	r.instances[name] = &instance{adapter: adapter, hash: r.hashes[name]}
	r.logger.Info("Adapter instance built", map[string]interface{}{
		"operation":      "adapter_build",
		"adapter":        name,
		"implementation": d.Implementation,
	})
	return adapter, nil
}

// Names returns the registered adapter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnabledNames returns the names of enabled adapters, sorted.
func (r *Registry) EnabledNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.descriptors))
	for name, d := range r.descriptors {
		if d.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Built reports which adapters currently have live instances.
func (r *Registry) Built() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReloadSummary reports the outcome of one descriptor reload.
type ReloadSummary struct {
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
}

// Reload swaps in a new descriptor set. Changed descriptors drop their
// cached instance (rebuilt lazily) and reinstall their breaker config;
// removed descriptors drop instance and breaker. Only the named adapter is
// touched when name is non-empty.
func (r *Registry) Reload(descriptors []core.AdapterDescriptor, only string) ReloadSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	incoming := map[string]core.AdapterDescriptor{}
	for _, d := range descriptors {
		if only != "" && d.Name != only {
			continue
		}
		incoming[d.Name] = d
	}

	summary := ReloadSummary{
		Added:     []string{},
		Removed:   []string{},
		Updated:   []string{},
		Unchanged: []string{},
	}

	for name, d := range incoming {
		hash := descriptorHash(d)
		_, existed := r.descriptors[name]
		switch {
		case !existed:
			summary.Added = append(summary.Added, name)
		case r.hashes[name] != hash:
			summary.Updated = append(summary.Updated, name)
			delete(r.instances, name)
			r.breakers.Replace(name, resolvedBreakerConfig(r.defaults, d))
		default:
			summary.Unchanged = append(summary.Unchanged, name)
		}
		r.descriptors[name] = d
		r.hashes[name] = hash
		if !existed {
			r.configureBreaker(d)
		}
	}

	for name := range r.descriptors {
		if _, stays := incoming[name]; stays {
			continue
		}
		// A scoped reload leaves other adapters untouched.
		if only != "" && name != only {
			continue
		}
		summary.Removed = append(summary.Removed, name)
		delete(r.descriptors, name)
		delete(r.hashes, name)
		delete(r.instances, name)
		r.breakers.Remove(name)
	}

	sort.Strings(summary.Added)
	sort.Strings(summary.Removed)
	sort.Strings(summary.Updated)
	sort.Strings(summary.Unchanged)

	r.logger.Info("Adapter reload complete", map[string]interface{}{
		"operation": "adapter_reload",
		"added":     len(summary.Added),
		"removed":   len(summary.Removed),
		"updated":   len(summary.Updated),
		"unchanged": len(summary.Unchanged),
	})
	return summary
}

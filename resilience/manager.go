package resilience

import (
	"sync"

	"github.com/schmitech/orbit/core"
)

// Manager owns one circuit breaker per adapter name. Entries are created on
// first use and live for the process lifetime; there is no global lock on
// the hot path beyond the map mutex.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	defaults core.CircuitBreakerConfig
	logger   core.Logger
	metrics  MetricsCollector
}

// NewManager creates a breaker manager with process-wide defaults.
func NewManager(defaults core.CircuitBreakerConfig, logger core.Logger, metrics MetricsCollector) *Manager {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if metrics == nil {
		metrics = &noopMetrics{}
	}
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
		logger:   logger,
		metrics:  metrics,
	}
}

// Get returns the breaker for name, creating it from the defaults if absent.
func (m *Manager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return cb
	}
	return m.GetWithConfig(name, m.defaults)
}

// GetWithConfig returns the breaker for name, creating it from the given
// resolved config if absent. Existing breakers are not reconfigured; use
// Replace for that.
func (m *Manager) GetWithConfig(name string, cfg core.CircuitBreakerConfig) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[name]; ok {
		return cb
	}

	cb, err := NewCircuitBreaker(m.configFor(name, cfg))
	if err != nil {
		// Resolved configs are validated at startup; falling back keeps the
		// request path alive if an override slips through malformed.
		m.logger.Error("Falling back to default circuit breaker config", map[string]interface{}{
			"operation": "circuit_breaker_manager",
			"name":      name,
			"error":     err.Error(),
		})
		cb, _ = NewCircuitBreaker(m.configFor(name, m.defaults))
	}
	m.breakers[name] = cb
	return cb
}

// Replace rebuilds the breaker for name with a new config. Used by the
// adapter reload path; the old breaker's state is discarded.
func (m *Manager) Replace(name string, cfg core.CircuitBreakerConfig) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.breakers[name]; ok {
		old.Close()
		delete(m.breakers, name)
	}
	cb, err := NewCircuitBreaker(m.configFor(name, cfg))
	if err != nil {
		cb, _ = NewCircuitBreaker(m.configFor(name, m.defaults))
	}
	m.breakers[name] = cb
	return cb
}

// Remove deletes the breaker for name.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		cb.Close()
		delete(m.breakers, name)
	}
}

// Snapshots returns the state of every breaker, keyed by adapter name.
func (m *Manager) Snapshots() map[string]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Snapshot, len(m.breakers))
	for name, cb := range m.breakers {
		out[name] = cb.GetSnapshot()
	}
	return out
}

func (m *Manager) configFor(name string, cfg core.CircuitBreakerConfig) *Config {
	return &Config{
		Name:             name,
		FailureThreshold: cfg.FailureThreshold,
		SuccessThreshold: cfg.SuccessThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
		OperationTimeout: cfg.OperationTimeout,
		Isolation:        cfg.Isolation,
		MaxWorkers:       cfg.MaxWorkers,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           m.logger,
		Metrics:          m.metrics,
	}
}

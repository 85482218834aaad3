package datasource

import (
	"context"
	"fmt"
	"sync"

	"github.com/schmitech/orbit/core"
)

// Registry resolves datasource names to live connections, opening each
// lazily on first use. Safe for concurrent use.
type Registry struct {
	configs map[string]core.DatasourceConfig
	logger  core.Logger

	mu    sync.Mutex
	sql   map[string]*SQLDatasource
	mongo map[string]*MongoDatasource
	http  map[string]*HTTPDatasource
}

// NewRegistry builds a registry over validated datasource configs.
func NewRegistry(configs []core.DatasourceConfig, logger core.Logger) *Registry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("gateway/datasource")
	}

	byName := make(map[string]core.DatasourceConfig, len(configs))
	for _, cfg := range configs {
		byName[cfg.Name] = cfg
	}
	return &Registry{
		configs: byName,
		logger:  logger,
		sql:     map[string]*SQLDatasource{},
		mongo:   map[string]*MongoDatasource{},
		http:    map[string]*HTTPDatasource{},
	}
}

func (r *Registry) config(name string) (core.DatasourceConfig, error) {
	cfg, ok := r.configs[name]
	if !ok {
		return core.DatasourceConfig{}, fmt.Errorf("datasource %q: %w", name, core.ErrMissingConfiguration)
	}
	return cfg, nil
}

// SQL returns the pool for a SQL datasource, opening it on first use.
func (r *Registry) SQL(ctx context.Context, name string) (*SQLDatasource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ds, ok := r.sql[name]; ok {
		return ds, nil
	}
	cfg, err := r.config(name)
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "postgres", "mysql", "sqlite", "duckdb":
	default:
		return nil, fmt.Errorf("datasource %q has type %q, not SQL: %w", name, cfg.Type, core.ErrInvalidConfiguration)
	}

	ds, err := openSQL(ctx, cfg)
	if err != nil {
		return nil, err
	}
	r.sql[name] = ds
	r.logger.Info("Datasource opened", map[string]interface{}{
		"operation": "datasource_open",
		"name":      name,
		"type":      cfg.Type,
	})
	return ds, nil
}

// Mongo returns the client for a MongoDB datasource, connecting on first use.
func (r *Registry) Mongo(ctx context.Context, name string) (*MongoDatasource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ds, ok := r.mongo[name]; ok {
		return ds, nil
	}
	cfg, err := r.config(name)
	if err != nil {
		return nil, err
	}
	if cfg.Type != "mongodb" {
		return nil, fmt.Errorf("datasource %q has type %q, not mongodb: %w", name, cfg.Type, core.ErrInvalidConfiguration)
	}

	ds, err := openMongo(ctx, cfg)
	if err != nil {
		return nil, err
	}
	r.mongo[name] = ds
	r.logger.Info("Datasource opened", map[string]interface{}{
		"operation": "datasource_open",
		"name":      name,
		"type":      cfg.Type,
	})
	return ds, nil
}

// HTTP returns the client for an HTTP or GraphQL datasource.
func (r *Registry) HTTP(name string) (*HTTPDatasource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ds, ok := r.http[name]; ok {
		return ds, nil
	}
	cfg, err := r.config(name)
	if err != nil {
		return nil, err
	}
	if cfg.Type != "http" && cfg.Type != "graphql" {
		return nil, fmt.Errorf("datasource %q has type %q, not http/graphql: %w", name, cfg.Type, core.ErrInvalidConfiguration)
	}

	ds, err := openHTTP(cfg)
	if err != nil {
		return nil, err
	}
	r.http[name] = ds
	return ds, nil
}

// HealthCheck probes every opened datasource. Unopened configs are skipped;
// they have no connection to be unhealthy.
func (r *Registry) HealthCheck(ctx context.Context) map[string]error {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := map[string]error{}
	for name, ds := range r.sql {
		out[name] = ds.HealthCheck(ctx)
	}
	for name, ds := range r.mongo {
		out[name] = ds.HealthCheck(ctx)
	}
	for name, ds := range r.http {
		out[name] = ds.HealthCheck(ctx)
	}
	return out
}

// Close releases every opened connection.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, ds := range r.sql {
		if err := ds.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing %s: %w", name, err)
		}
	}
	for name, ds := range r.mongo {
		if err := ds.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing %s: %w", name, err)
		}
	}
	r.sql = map[string]*SQLDatasource{}
	r.mongo = map[string]*MongoDatasource{}
	r.http = map[string]*HTTPDatasource{}
	return firstErr
}

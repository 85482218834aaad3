// Package datasource manages named backend connections: SQL pools over
// sqlx, MongoDB clients, and HTTP/GraphQL endpoints. Connections are opened
// lazily on first use and cached by name.
package datasource

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/schmitech/orbit/core"
)

// SQLDatasource is one named SQL connection pool.
type SQLDatasource struct {
	name string
	kind string
	db   *sqlx.DB
}

// driverFor maps a datasource type to its default driver name. Explicit
// cfg.Driver always wins, which is how sqlite/duckdb builds plug in their
// registered drivers.
func driverFor(cfg core.DatasourceConfig) (string, error) {
	if cfg.Driver != "" {
		return cfg.Driver, nil
	}
	switch cfg.Type {
	case "postgres":
		return "pgx", nil
	case "mysql":
		return "mysql", nil
	case "sqlite":
		return "sqlite3", nil
	case "duckdb":
		return "duckdb", nil
	default:
		return "", fmt.Errorf("datasource %s: no driver for type %q: %w", cfg.Name, cfg.Type, core.ErrInvalidConfiguration)
	}
}

// dsnFor assembles the connection string. DuckDB selects its database file
// with precedence database_path > database > in-memory.
func dsnFor(cfg core.DatasourceConfig) string {
	if cfg.Type == "duckdb" {
		if p, ok := cfg.Options["database_path"].(string); ok && p != "" {
			return p
		}
		if cfg.Database != "" {
			return cfg.Database
		}
		return "" // in-memory
	}
	return cfg.DSN
}

// openSQL opens and verifies a SQL pool for a datasource config.
func openSQL(ctx context.Context, cfg core.DatasourceConfig) (*SQLDatasource, error) {
	driver, err := driverFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsnFor(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening datasource %s (%s): %v: %w", cfg.Name, driver, err, core.ErrConnectionFailed)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns / 2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging datasource %s: %v: %w", cfg.Name, err, core.ErrBackendUnavailable)
	}

	return &SQLDatasource{name: cfg.Name, kind: cfg.Type, db: db}, nil
}

// NewSQLDatasource wraps an already-open pool. Used when the pool is
// injected rather than opened from configuration (embedded databases,
// tests).
func NewSQLDatasource(name, kind string, db *sqlx.DB) *SQLDatasource {
	return &SQLDatasource{name: name, kind: kind, db: db}
}

// Name returns the configured datasource name.
func (s *SQLDatasource) Name() string { return s.name }

// Kind returns the datasource type (postgres, sqlite, duckdb, ...).
func (s *SQLDatasource) Kind() string { return s.kind }

// DB exposes the underlying pool.
func (s *SQLDatasource) DB() *sqlx.DB { return s.db }

// HealthCheck pings the pool.
func (s *SQLDatasource) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("datasource %s: %v: %w", s.name, err, core.ErrBackendUnavailable)
	}
	return nil
}

// Close releases the pool.
func (s *SQLDatasource) Close() error { return s.db.Close() }

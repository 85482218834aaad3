package datasource

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/schmitech/orbit/core"
)

// MongoDatasource is one named MongoDB connection.
type MongoDatasource struct {
	name     string
	client   *mongo.Client
	database string
}

// openMongo connects and verifies a MongoDB datasource.
func openMongo(ctx context.Context, cfg core.DatasourceConfig) (*MongoDatasource, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("datasource %s: mongodb dsn required: %w", cfg.Name, core.ErrMissingConfiguration)
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("datasource %s: mongodb database required: %w", cfg.Name, core.ErrMissingConfiguration)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := options.Client().ApplyURI(cfg.DSN)
	if cfg.MaxConns > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MaxConns))
	}

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("connecting datasource %s: %v: %w", cfg.Name, err, core.ErrConnectionFailed)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging datasource %s: %v: %w", cfg.Name, err, core.ErrBackendUnavailable)
	}

	return &MongoDatasource{name: cfg.Name, client: client, database: cfg.Database}, nil
}

// Name returns the configured datasource name.
func (m *MongoDatasource) Name() string { return m.name }

// Database returns a handle on the configured database.
func (m *MongoDatasource) Database() *mongo.Database {
	return m.client.Database(m.database)
}

// HealthCheck pings the primary.
func (m *MongoDatasource) HealthCheck(ctx context.Context) error {
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("datasource %s: %v: %w", m.name, err, core.ErrBackendUnavailable)
	}
	return nil
}

// Close disconnects the client.
func (m *MongoDatasource) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

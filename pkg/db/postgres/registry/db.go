// Package registry is the PostgreSQL implementation of db.Store.
package registry

import (
	"context"
	"fmt"

	"github.com/paul-bdio/zorro/pkg/db"
	"github.com/paul-bdio/zorro/pkg/db/postgres"
	"github.com/paul-bdio/zorro/pkg/retry"
	"go.uber.org/zap"
)

// DB is the registry mirror database: cached profiles, dedup records, deliveries,
// contacts, connections and anomalies.
type DB struct {
	postgres.Client
}

var _ db.Store = (*DB)(nil)

// New connects and initializes the schema.
func New(ctx context.Context, logger *zap.Logger, dbURL string, poolConfig *postgres.PoolConfig) (*DB, error) {
	client, err := postgres.New(ctx, logger.With(zap.String("db", "registry")), dbURL, poolConfig, retry.DefaultConfig())
	if err != nil {
		return nil, err
	}
	registryDB := &DB{Client: client}
	if err := registryDB.Migrate(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return registryDB, nil
}

// Close terminates the underlying PostgreSQL connection
func (d *DB) Close() error {
	d.Pool.Close()
	return nil
}

// Migrate ensures the required tables exist. It is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"cached_profiles", d.initCachedProfiles},
		{"notifications", d.initNotifications},
		{"notification_deliveries", d.initDeliveries},
		{"profile_contacts", d.initContacts},
		{"connections", d.initConnections},
		{"sync_anomalies", d.initAnomalies},
	}
	for _, step := range steps {
		d.Logger.Debug("Initialize table", zap.String("table", step.name))
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}
	return nil
}

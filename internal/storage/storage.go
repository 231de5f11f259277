// Package storage opens the persistence backend named by configuration.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gatewaykit/internal/config"
	"github.com/dmitrijs2005/gatewaykit/internal/filex"
	"github.com/dmitrijs2005/gatewaykit/internal/persistence"
	"github.com/dmitrijs2005/gatewaykit/internal/persistence/bolt"
	"github.com/dmitrijs2005/gatewaykit/internal/persistence/postgres"
	"github.com/dmitrijs2005/gatewaykit/internal/persistence/s3store"
	"github.com/dmitrijs2005/gatewaykit/internal/persistence/sqlite"
)

// Manager owns an open store and whatever connection sits behind it.
type Manager interface {
	Store() persistence.Store
	Backend() string
	Close() error
}

type closer interface {
	Close() error
}

type manager struct {
	store   persistence.Store
	backend string
}

func (m *manager) Store() persistence.Store {
	return m.store
}

func (m *manager) Backend() string {
	return m.backend
}

func (m *manager) Close() error {
	if c, ok := m.store.(closer); ok {
		return c.Close()
	}
	return nil
}

// Open opens the backend cfg names, running migrations where the backend
// has them.
func Open(ctx context.Context, cfg config.Storage) (Manager, error) {
	var (
		store persistence.Store
		err   error
	)

	switch cfg.Backend {
	case config.BackendMemory:
		store = persistence.NewMemoryStore()
	case config.BackendSQLite:
		if err = ensureDir(cfg.Path); err == nil {
			store, err = sqlite.Open(ctx, cfg.Path)
		}
	case config.BackendBolt:
		if err = filex.EnsureParentDir(cfg.Path); err == nil {
			store, err = bolt.Open(cfg.Path)
		}
	case config.BackendPostgres:
		store, err = postgres.Open(ctx, cfg.DSN)
	case config.BackendS3:
		store, err = s3store.Open(ctx, s3store.Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Prefix:    cfg.S3.Prefix,
		})
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", config.ErrInvalidConfig, cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("%s storage open error: %w", cfg.Backend, err)
	}

	return &manager{store: store, backend: cfg.Backend}, nil
}

// ensureDir creates the directory of a sqlite database file. In-memory and
// URI style names are left alone.
func ensureDir(dsn string) error {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	return filex.EnsureParentDir(dsn)
}

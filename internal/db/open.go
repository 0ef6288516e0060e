package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Guizzs26/go-aid-sync/internal/config"
)

// Backend bundles the configured store with the resources it holds
type Backend struct {
	Store SnapshotStore
	// Pool is set for the postgres driver and backs the conflict queue
	Pool *pgxpool.Pool
	// SQLite is set for the sqlite driver and backs the conflict queue
	SQLite  *sql.DB
	closers []func() error
}

func (b *Backend) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open builds the store selected by cfg.StoreDriver
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	b := &Backend{}

	switch cfg.StoreDriver {
	case config.StoreMemory, "":
		b.Store = NewMemoryStore()
	case config.StorePostgres:
		pool, err := NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() error { pool.Close(); return nil })
		store, err := NewPostgresStore(ctx, pool)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.Store, b.Pool = store, pool
	case config.StoreSQLite:
		store, err := NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		b.Store, b.SQLite = store, store.DB()
		b.closers = append(b.closers, store.Close)
	case config.StoreFirebird:
		store, err := NewFirebirdStore(cfg.FirebirdURL, logger)
		if err != nil {
			return nil, err
		}
		b.Store = store
		b.closers = append(b.closers, store.Close)
	case config.StoreS3:
		store, err := NewS3Store(ctx, S3Config{
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			Key:       cfg.S3Key,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		b.Store = store
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	logger.Info("Snapshot store ready", "driver", cfg.StoreDriver)
	return b, nil
}

// Persistent reports whether the snapshot survives a restart
func (b *Backend) Persistent() bool {
	_, inMemory := b.Store.(*MemoryStore)
	return !inMemory
}

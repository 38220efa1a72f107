package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"suggestbox/api/internal/app"
	"suggestbox/api/internal/config"
	"suggestbox/api/internal/store"
)

// backend is the opened data store plus, for Postgres, the pool behind it.
type backend struct {
	store    app.Store
	postgres *store.PostgresStore
	db       *sql.DB
}

func (b *backend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if cfg.StoreDriver != config.DriverPostgres {
		return nil, fmt.Errorf("STORE_DRIVER=%s has no database", cfg.StoreDriver)
	}
	return store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{
		MaxOpenConns: cfg.DBMaxConns,
		MaxIdleConns: cfg.DBMaxIdle,
	})
}

// openBackend connects the configured store. Postgres is migrated before use.
func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	if cfg.StoreDriver == config.DriverMemory {
		slog.WarnContext(ctx, "using in-memory store, data is lost on exit")
		return &backend{store: store.NewMemoryStore()}, nil
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	slog.InfoContext(ctx, "database connected", "migrations_dir", cfg.MigrationsDir)
	pg := store.NewPostgresStore(db)
	return &backend{store: pg, postgres: pg, db: db}, nil
}

// Package store adapts internal/core/ports.Store to concrete backends:
// Postgres+pgvector as the default, an in-memory store for tests, and an
// optional Qdrant leg for the vector search half. The pool construction
// mirrors internal/persistence/databases/factory.go's newPgPool (sane
// connection-lifetime defaults plus a startup ping) from the teacher.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenPool creates a Postgres connection pool with the teacher's
// conservative defaults (bounded connection count, recycled periodically).
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pagegym/pagegym/api/schemas"
	"github.com/pagegym/pagegym/internal/config"
)

// NewFromConfig builds the configured episode store. The returned close
// function releases the backend connection; it is non-nil even for the
// disabled backend. A "none" backend yields a nil store.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.EpisodeStore, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreBackendNone, "":
		return nil, func() {}, nil

	case config.StoreBackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.Store.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		st, err := NewPostgresStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, pool.Close, nil

	case config.StoreBackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr})
		st, err := NewRedisStore(ctx, client, logger)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return st, func() { _ = client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

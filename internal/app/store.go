package app

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/vendorhub/vendor-portal/internal/platform/kv"
)

// OpenStore returns the registry store selected by STORE_DRIVER. The
// returned close func releases whatever OpenStore opened.
func OpenStore(ctx context.Context, cfg *Config, redisClient *redis.Client) (kv.Store, func(), error) {
	if cfg.StoreDriver != StorePostgres {
		return kv.NewRedisStore(redisClient), func() {}, nil
	}
	pool, err := kv.NewPool(ctx, cfg.PGDSN)
	if err != nil {
		return nil, nil, err
	}
	store := kv.NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

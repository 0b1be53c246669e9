package session

import (
	"context"
	"fmt"

	"github.com/zhouzirui/embedchat/internal/config"
)

// Open builds the Store selected by configuration.
func Open(ctx context.Context, cfg config.SessionStoreConfig) (Store, error) {
	switch cfg.Backend {
	case config.StoreMemory:
		return NewMemoryStore(), nil
	case config.StoreFile:
		return NewFileStore(cfg.Path)
	case config.StoreSQLite:
		return NewSQLiteStore(cfg.Path)
	case config.StoreRedis:
		return NewRedisStore(ctx, RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			Namespace: cfg.RedisNamespace,
		})
	default:
		return nil, fmt.Errorf("unsupported session store %q", cfg.Backend)
	}
}

package main

import (
	"context"
	"fmt"

	"clibin/internal/config"
	"clibin/internal/storage"
	"clibin/internal/storage/boltstore"
	"clibin/internal/storage/fsstore"
	"clibin/internal/storage/redisstore"
	"clibin/internal/storage/sqlitestore"
)

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case config.BackendFilesystem:
		return fsstore.Open(cfg.Dir)
	case config.BackendBolt:
		return boltstore.Open(cfg.Path)
	case config.BackendSQLite:
		return sqlitestore.Open(cfg.Path)
	case config.BackendRedis:
		return redisstore.Open(ctx, cfg.RedisURL, cfg.RedisPrefix)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

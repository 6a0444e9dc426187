package vector

import (
	"context"
	"fmt"

	"github.com/hyperjump/docchat/internal/config"
)

// Backend names a vector store implementation.
type Backend string

const (
	// BackendMemory keeps vectors in memory, snapshotted to a file on Close when a path is set.
	BackendMemory Backend = "memory"
	// BackendSQLite keeps vectors in a SQLite database file.
	BackendSQLite Backend = "sqlite"
	// BackendRedis keeps vectors in Redis hashes.
	BackendRedis Backend = "redis"
)

// NewStore creates the store selected by cfg.Backend.
// Supported backends: "memory", "sqlite" (default), "redis".
func NewStore(ctx context.Context, cfg config.VectorConfig) (Store, error) {
	switch Backend(cfg.Backend) {
	case BackendMemory:
		return NewMemoryStore(cfg.Path)
	case BackendSQLite, "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("vector.path is required for the sqlite backend")
		}
		return NewSQLiteStore(cfg.Path)
	case BackendRedis:
		return NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (supported: memory, sqlite, redis)", cfg.Backend)
	}
}

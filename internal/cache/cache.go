package cache

import (
	"context"
	"errors"
	"time"

	"github.com/marcogenualdo/authorize/internal/config"
)

var ErrNotFound = errors.New("key not found")

// Cache is the key/value backend for authorization state, sessions and
// authorized clients. A ttl <= 0 stores the value without expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Pop returns the value and deletes the key in one step, so that two
	// concurrent callers can never both observe it.
	Pop(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

func New(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryCache(), nil
	case "redis":
		if cfg.Redis == nil {
			return nil, errors.New("redis config is required for redis cache type")
		}
		return NewRedisCache(*cfg.Redis)
	default:
		return nil, errors.New("unsupported cache type: " + cfg.Type)
	}
}

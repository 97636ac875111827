package cache

import (
	"context"
	"time"
)

// BytesCache is the minimal key-value contract shared by the redis view cache
// and the file-backed token storage.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

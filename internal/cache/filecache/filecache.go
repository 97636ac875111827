// Package filecache is a small JSON-file-backed BytesCache. It is the persisted
// key-value storage behind the auth token (the client keeps exactly one durable
// key, "accessToken"); everything else in the process is memory-only.
package filecache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type entry struct {
	Value     []byte     `json:"value"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

type FileCache struct {
	path string

	mu   sync.Mutex
	data map[string]entry
}

func New(path string) (*FileCache, error) {
	fc := &FileCache{path: path, data: map[string]entry{}}

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fc, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read cache file")
	}
	// Поврежденный файл не фатален: начинаем с пустого состояния.
	_ = json.Unmarshal(b, &fc.data)
	return fc, nil
}

func (f *FileCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.data[key]
	if !ok {
		return nil, false, nil
	}
	if e.ExpiresAt != nil && time.Now().After(*e.ExpiresAt) {
		delete(f.data, key)
		_ = f.flushLocked()
		return nil, false, nil
	}
	return e.Value, true, nil
}

func (f *FileCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	e := entry{Value: value}
	if ttl > 0 {
		t := time.Now().Add(ttl)
		e.ExpiresAt = &t
	}
	f.data[key] = e
	return f.flushLocked()
}

func (f *FileCache) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.data, key)
	return f.flushLocked()
}

func (f *FileCache) flushLocked() error {
	b, err := json.Marshal(f.data)
	if err != nil {
		return errors.Wrap(err, "marshal cache file")
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return errors.Wrap(err, "mkdir cache dir")
	}
	if err := os.WriteFile(f.path, b, 0o600); err != nil {
		return errors.Wrap(err, "write cache file")
	}
	return nil
}

package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by a [Storage] when a key does not exist.
var ErrNotFound = errors.New("session key not found")

// ErrStorageUnavailable wraps backend failures.
var ErrStorageUnavailable = errors.New("session storage unavailable")

// Storage is the durable key/value backend behind a [Store]. Values are
// opaque bytes; a zero ttl means no expiry.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// MemoryStorage is a process-local [Storage]. It survives controller
// restarts within one process, which is what tests and the simulator need.
type MemoryStorage struct {
	mu      sync.Mutex
	values  map[string]memoryValue
	nowFunc func() time.Time
}

type memoryValue struct {
	data      []byte
	expiresAt time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		values:  make(map[string]memoryValue),
		nowFunc: time.Now,
	}
}

func (m *MemoryStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !v.expiresAt.IsZero() && !m.nowFunc().Before(v.expiresAt) {
		delete(m.values, key)
		return nil, ErrNotFound
	}
	out := make([]byte, len(v.data))
	copy(out, v.data)
	return out, nil
}

func (m *MemoryStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data := make([]byte, len(value))
	copy(data, value)

	v := memoryValue{data: data}
	if ttl > 0 {
		v.expiresAt = m.nowFunc().Add(ttl)
	}

	m.mu.Lock()
	m.values[key] = v
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	for _, k := range keys {
		delete(m.values, k)
	}
	m.mu.Unlock()
	return nil
}

// Keys returns the stored keys. Intended for tests and diagnostics.
func (m *MemoryStorage) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.values))
	for k := range m.values {
		out = append(out, k)
	}
	return out
}

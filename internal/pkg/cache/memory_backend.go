package cache

import (
	"context"
	"errors"
	"path"
	"sort"
	"sync"
	"time"
)

var errBackendDown = errors.New("cache: backend unavailable")

type memoryItem struct {
	value      []byte
	expiresAt  time.Time
	lastAccess time.Time
}

// MemoryBackend is an in-process Backend. It is used when no REDIS_URL is
// configured and in tests. Used memory is the sum of key and value sizes.
type MemoryBackend struct {
	mu       sync.Mutex
	items    map[string]*memoryItem
	maxBytes int64
	now      func() time.Time
	down     bool
}

func NewMemoryBackend(maxBytes int64, now func() time.Time) *MemoryBackend {
	if now == nil {
		now = time.Now
	}
	return &MemoryBackend{
		items:    make(map[string]*memoryItem),
		maxBytes: maxBytes,
		now:      now,
	}
}

// SetDown makes every call fail until it is called again with false.
func (b *MemoryBackend) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

// lookup returns a live item. Callers must hold b.mu.
func (b *MemoryBackend) lookup(key string) (*memoryItem, bool) {
	item, ok := b.items[key]
	if !ok {
		return nil, false
	}
	if !item.expiresAt.IsZero() && !b.now().Before(item.expiresAt) {
		delete(b.items, key)
		return nil, false
	}
	return item, true
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil, errBackendDown
	}
	item, ok := b.lookup(key)
	if !ok {
		return nil, ErrMiss
	}
	item.lastAccess = b.now()
	return item.value, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return errBackendDown
	}
	now := b.now()
	item := &memoryItem{value: append([]byte(nil), value...), lastAccess: now}
	if ttl > 0 {
		item.expiresAt = now.Add(ttl)
	}
	b.items[key] = item
	return nil
}

func (b *MemoryBackend) Del(_ context.Context, keys ...string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return 0, errBackendDown
	}
	var n int64
	for _, key := range keys {
		if _, ok := b.lookup(key); ok {
			delete(b.items, key)
			n++
		}
	}
	return n, nil
}

func (b *MemoryBackend) Keys(_ context.Context, pattern string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil, errBackendDown
	}
	var keys []string
	for key := range b.items {
		if _, ok := b.lookup(key); !ok {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// TTL follows Redis: -2 for a missing key, -1 for a key without expiry.
func (b *MemoryBackend) TTL(_ context.Context, key string) (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return 0, errBackendDown
	}
	item, ok := b.lookup(key)
	switch {
	case !ok:
		return -2, nil
	case item.expiresAt.IsZero():
		return -1, nil
	default:
		return item.expiresAt.Sub(b.now()), nil
	}
}

func (b *MemoryBackend) Expire(_ context.Context, key string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return errBackendDown
	}
	if item, ok := b.lookup(key); ok {
		item.expiresAt = b.now().Add(ttl)
	}
	return nil
}

func (b *MemoryBackend) IdleTime(_ context.Context, key string) (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return 0, errBackendDown
	}
	item, ok := b.lookup(key)
	if !ok {
		return 0, ErrMiss
	}
	return b.now().Sub(item.lastAccess), nil
}

func (b *MemoryBackend) MemoryUsage(context.Context) (int64, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return 0, 0, errBackendDown
	}
	var used int64
	for key := range b.items {
		if item, ok := b.lookup(key); ok {
			used += int64(len(key) + len(item.value))
		}
	}
	return used, b.maxBytes, nil
}

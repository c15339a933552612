package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is an in-process Backend used when Redis is unreachable.
// Capacity is bounded; at the limit the oldest entry is evicted. Expired
// entries are dropped lazily on read.
type MemoryBackend struct {
	mu      sync.Mutex
	max     int
	entries map[string]memoryEntry
	order   []string // insertion order, oldest first
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// NewMemoryBackend creates a bounded in-process backend. A non-positive
// maxEntries falls back to 10000.
func NewMemoryBackend(maxEntries int) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryBackend{
		max:     maxEntries,
		entries: make(map[string]memoryEntry),
	}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expires) {
		b.remove(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.entries[key]; !exists {
		for len(b.entries) >= b.max && len(b.order) > 0 {
			b.remove(b.order[0])
		}
		b.order = append(b.order, key)
	}
	b.entries[key] = memoryEntry{
		value:   append([]byte(nil), value...),
		expires: time.Now().Add(ttl),
	}
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(key)
	return nil
}

func (b *MemoryBackend) DeleteMany(_ context.Context, keys []string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, k := range keys {
		if _, ok := b.entries[k]; ok {
			b.remove(k)
			n++
		}
	}
	return n, nil
}

func (b *MemoryBackend) Ping(context.Context) error { return nil }

func (b *MemoryBackend) Close() error { return nil }

func (b *MemoryBackend) Name() string { return "memory" }

// Len reports the number of live entries, including any not yet lazily
// expired.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// remove must be called with the lock held.
func (b *MemoryBackend) remove(key string) {
	if _, ok := b.entries[key]; !ok {
		return
	}
	delete(b.entries, key)
	for i, k := range b.order {
		if k == key {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Package cache provides the shared caching layer: a pluggable backend
// (Redis or in-process), TTL-bound entries, tag invalidation and a
// memoization helper for expensive computations.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arcanabot/llm-gateway/pkg/metrics"
)

// envelopeVersion is bumped whenever the stored envelope shape changes.
// Entries with an unknown version are treated as misses.
const envelopeVersion = 1

// envelope is the serialized form of every cached value.
type envelope struct {
	V       int             `json:"v"`
	Payload json.RawMessage `json:"payload"`
}

// Backend is a minimal key-value store with TTL support.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys []string) (int, error)
	Ping(ctx context.Context) error
	Close() error
	Name() string
}

// Stats reports cache activity since process start.
type Stats struct {
	Backend string  `json:"backend"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Sets    int64   `json:"sets"`
	HitRate float64 `json:"hit_rate"`
}

// Manager wraps a Backend with JSON envelope serialization and a
// process-local tag index for group invalidation. Safe for concurrent use.
type Manager struct {
	backend    Backend
	defaultTTL time.Duration
	log        *zap.Logger

	mu     sync.Mutex
	tags   map[string]map[string]struct{} // tag -> set of keys
	hits   int64
	misses int64
	sets   int64
}

// NewManager creates a cache manager over the given backend.
func NewManager(backend Backend, defaultTTL time.Duration, log *zap.Logger) *Manager {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Manager{
		backend:    backend,
		defaultTTL: defaultTTL,
		log:        log.Named("cache"),
		tags:       make(map[string]map[string]struct{}),
	}
}

// Get fetches the value stored under key into dest. The second return
// value reports whether the key was present; an absent key is not an error.
func (m *Manager) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, found, err := m.backend.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cache: get %q: %w", key, err)
	}
	if !found {
		m.count(false)
		return false, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.V != envelopeVersion {
		// Stale or foreign entry; drop it and report a miss.
		_ = m.backend.Delete(ctx, key)
		m.count(false)
		return false, nil
	}
	if err := json.Unmarshal(env.Payload, dest); err != nil {
		return false, fmt.Errorf("cache: decode %q: %w", key, err)
	}

	m.count(true)
	return true, nil
}

// Set stores value under key with the given TTL (the manager default when
// ttl <= 0) and registers the key under each tag for later invalidation.
func (m *Manager) Set(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	raw, err := json.Marshal(envelope{V: envelopeVersion, Payload: payload})
	if err != nil {
		return fmt.Errorf("cache: envelope %q: %w", key, err)
	}

	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	if err := m.backend.Set(ctx, key, raw, ttl); err != nil {
		return fmt.Errorf("cache: set %q: %w", key, err)
	}

	m.mu.Lock()
	m.sets++
	for _, tag := range tags {
		set, ok := m.tags[tag]
		if !ok {
			set = make(map[string]struct{})
			m.tags[tag] = set
		}
		set[key] = struct{}{}
	}
	m.mu.Unlock()
	return nil
}

// Delete removes a single key. Deleting an absent key is not an error.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := m.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("cache: delete %q: %w", key, err)
	}
	m.mu.Lock()
	for _, set := range m.tags {
		delete(set, key)
	}
	m.mu.Unlock()
	return nil
}

// InvalidateTag removes every key registered under tag and returns how
// many keys were deleted from the backend.
func (m *Manager) InvalidateTag(ctx context.Context, tag string) (int, error) {
	m.mu.Lock()
	set := m.tags[tag]
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	delete(m.tags, tag)
	for _, other := range m.tags {
		for _, k := range keys {
			delete(other, k)
		}
	}
	m.mu.Unlock()

	if len(keys) == 0 {
		return 0, nil
	}
	n, err := m.backend.DeleteMany(ctx, keys)
	if err != nil {
		return n, fmt.Errorf("cache: invalidate tag %q: %w", tag, err)
	}
	m.log.Info("tag invalidated", zap.String("tag", tag), zap.Int("keys", n))
	return n, nil
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Backend: m.backend.Name(),
		Hits:    m.hits,
		Misses:  m.misses,
		Sets:    m.sets,
	}
	if total := m.hits + m.misses; total > 0 {
		s.HitRate = float64(m.hits) / float64(total)
	}
	return s
}

// Close releases the underlying backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}

func (m *Manager) count(hit bool) {
	m.mu.Lock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
	m.mu.Unlock()
	metrics.RecordCacheLookup(hit)
}

// Key builds a namespaced cache key by hashing the parts.
func Key(prefix string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return prefix + ":" + hex.EncodeToString(h.Sum(nil))
}

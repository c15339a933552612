package resilience

import (
	"fmt"
	"sync"
	"time"
)

// KeyPool rotates over a set of API keys for one provider, skipping keys
// that are cooling down after an upstream rate limit. A pool with a single
// key degenerates to always returning that key.
type KeyPool struct {
	mu     sync.Mutex
	keys   []poolKey
	cursor int
}

type poolKey struct {
	value       string
	limitedTill time.Time
}

// NewKeyPool creates a key pool from a list of API keys.
func NewKeyPool(keys []string) *KeyPool {
	entries := make([]poolKey, len(keys))
	for i, k := range keys {
		entries[i] = poolKey{value: k}
	}
	return &KeyPool{keys: entries}
}

// Next returns the next usable key in round-robin order. If every key is
// cooling down it returns a *RateLimitError with the earliest reset.
func (kp *KeyPool) Next() (string, error) {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	n := len(kp.keys)
	if n == 0 {
		return "", fmt.Errorf("keypool: no keys configured")
	}

	now := time.Now()
	for i := 0; i < n; i++ {
		idx := (kp.cursor + i) % n
		if now.After(kp.keys[idx].limitedTill) {
			kp.cursor = (idx + 1) % n
			return kp.keys[idx].value, nil
		}
	}

	earliest := kp.keys[0].limitedTill
	for _, k := range kp.keys[1:] {
		if k.limitedTill.Before(earliest) {
			earliest = k.limitedTill
		}
	}
	return "", &RateLimitError{
		Service:    "keypool",
		RetryAfter: time.Until(earliest),
	}
}

// MarkRateLimited puts a key on cooldown until resetAt.
func (kp *KeyPool) MarkRateLimited(key string, resetAt time.Time) {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	for i := range kp.keys {
		if kp.keys[i].value == key {
			kp.keys[i].limitedTill = resetAt
			return
		}
	}
}

// Size returns the number of keys in the pool.
func (kp *KeyPool) Size() int {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	return len(kp.keys)
}

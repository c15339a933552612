package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Memoize wraps fn so that results are cached by the JSON form of the
// argument. Entries are tagged for group invalidation; when no tags are
// given the prefix is used as the tag. Cache failures fall through to the
// computation; errors from fn are never cached.
func Memoize[A any, R any](m *Manager, prefix string, ttl time.Duration, fn func(ctx context.Context, arg A) (R, error), tags ...string) func(ctx context.Context, arg A) (R, error) {
	if len(tags) == 0 {
		tags = []string{prefix}
	}
	return func(ctx context.Context, arg A) (R, error) {
		var zero R

		argJSON, err := json.Marshal(arg)
		if err != nil {
			return zero, fmt.Errorf("memoize: encode argument: %w", err)
		}
		key := Key(prefix, string(argJSON))

		var cached R
		if found, err := m.Get(ctx, key, &cached); err == nil && found {
			return cached, nil
		}

		result, err := fn(ctx, arg)
		if err != nil {
			return zero, err
		}
		if err := m.Set(ctx, key, result, ttl, tags...); err != nil {
			m.log.Warn("memoize: cache store failed")
		}
		return result, nil
	}
}

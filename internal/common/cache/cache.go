// Package cache holds short-lived copies of read-heavy responses. Two
// backends exist: Redis for multi-instance deployments and an in-process
// LRU for the memory driver.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Cache stores opaque values with a TTL. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePrefix drops every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// GetJSON decodes a cached value into dest and reports whether it was found.
func GetJSON(ctx context.Context, c Cache, key string, dest interface{}) (bool, error) {
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes value and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.Set(ctx, key, data, ttl)
}

// GetOrSet returns the cached value or computes, stores and returns it.
func GetOrSet[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func() (T, error)) (T, error) {
	var out T
	if ok, err := GetJSON(ctx, c, key, &out); err == nil && ok {
		return out, nil
	}
	out, err := load()
	if err != nil {
		return out, err
	}
	_ = SetJSON(ctx, c, key, out, ttl)
	return out, nil
}

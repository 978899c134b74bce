package cache

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

// LocalCache is a size-bounded LRU with per-entry expiry.
type LocalCache struct {
	lru *lru.Cache
	now func() time.Time
}

func NewLocalCache(size int) (*LocalCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &LocalCache{lru: c, now: time.Now}, nil
}

func (c *LocalCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	entry := v.(localEntry)
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		c.lru.Remove(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (c *LocalCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := localEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.lru.Add(key, entry)
	return nil
}

func (c *LocalCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		c.lru.Remove(k)
	}
	return nil
}

func (c *LocalCache) DeletePrefix(_ context.Context, prefix string) error {
	for _, k := range c.lru.Keys() {
		if s, ok := k.(string); ok && strings.HasPrefix(s, prefix) {
			c.lru.Remove(k)
		}
	}
	return nil
}

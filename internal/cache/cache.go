// Package cache provides the blob storage backends behind the page store.
package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// BlobStore is a keyed binary blob store.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	CountByPrefix(ctx context.Context, prefix string) (int, error)
	Close() error
}

// MemoryStore implements BlobStore in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string]entry
	maxSize int
	now     func() time.Time
	seq     uint64
}

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
	seq       uint64    // write order
}

// NewMemoryStore creates a new in-memory blob store.
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryStore{
		data:    make(map[string]entry),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get retrieves a value.
func (c *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.data[key]
	if !ok || c.expired(e) {
		return nil, ErrCacheMiss
	}
	return e.value, nil
}

// Set stores a value; a zero ttl never expires.
func (c *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxSize {
		c.evictOldest()
	}

	c.seq++
	e := entry{value: value, seq: c.seq}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.data[key] = e
	return nil
}

// Delete removes a value.
func (c *MemoryStore) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
	return nil
}

// DeleteByPrefix removes all keys with the given prefix.
func (c *MemoryStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.data {
		if strings.HasPrefix(key, prefix) {
			delete(c.data, key)
		}
	}
	return nil
}

// CountByPrefix counts live keys with the given prefix.
func (c *MemoryStore) CountByPrefix(ctx context.Context, prefix string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for key, e := range c.data {
		if strings.HasPrefix(key, prefix) && !c.expired(e) {
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the memory store.
func (c *MemoryStore) Close() error {
	return nil
}

func (c *MemoryStore) expired(e entry) bool {
	return !e.expiresAt.IsZero() && c.now().After(e.expiresAt)
}

// evictOldest drops an expired entry, or failing that the least recently
// written one, expiring or not.
func (c *MemoryStore) evictOldest() {
	var oldestKey string
	var oldestSeq uint64

	for key, e := range c.data {
		if c.expired(e) {
			delete(c.data, key)
			return
		}
		if oldestKey == "" || e.seq < oldestSeq {
			oldestKey = key
			oldestSeq = e.seq
		}
	}

	if oldestKey != "" {
		delete(c.data, oldestKey)
	}
}

// Key joins key components with ':'.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

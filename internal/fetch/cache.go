package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xuezhouyang/spec-kit-catpaw/pkg/logging"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
)

// Store is a byte cache with per-entry TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cache decorates a Fetcher with a TTL cache keyed by source and template.
// The TTL comes from the source's cache_ttl; zero disables caching for that
// source. Store errors are logged and fall through to the wrapped fetcher.
type Cache struct {
	next  Fetcher
	store Store
	log   *logging.Logger
}

// NewCache wraps next with store.
func NewCache(next Fetcher, store Store, log *logging.Logger) *Cache {
	return &Cache{next: next, store: store, log: logging.OrGlobal(log)}
}

// CacheKey returns the cache key of templateName in src.
func CacheKey(src model.TemplateSource, templateName string) string {
	return src.Name + "@" + src.Branch + ":" + templateName
}

// Fetch implements Fetcher.
func (c *Cache) Fetch(ctx context.Context, src model.TemplateSource, templateName string) ([]byte, error) {
	ttl := time.Duration(src.CacheTTL) * time.Second
	if ttl <= 0 {
		return c.next.Fetch(ctx, src, templateName)
	}
	key := CacheKey(src, templateName)

	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Warn("template cache read failed", map[string]any{"key": key, "error": err.Error()})
	} else if ok {
		c.log.Debug("template cache hit", map[string]any{"key": key})
		return data, nil
	}

	data, err = c.next.Fetch(ctx, src, templateName)
	if err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		c.log.Warn("template cache write failed", map[string]any{"key": key, "error": err.Error()})
	}
	return data, nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem), now: time.Now}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(item.expiresAt) {
		delete(m.items, key)
		return nil, false, nil
	}
	return append([]byte(nil), item.value...), true, nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: m.now().Add(ttl)}
	return nil
}

// RedisStore is a Store shared across processes through Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set implements Store.
func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, value, ttl).Err()
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

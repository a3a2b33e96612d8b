package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache interface {
	// SetIfAbsent stores key only when it does not exist yet and reports whether it did.
	SetIfAbsent(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	GenerateKey(operation, key string) string
}

type redisCache struct {
	client      *redis.Client
	serviceName string
}

func NewRedisCache(client *redis.Client, serviceName string) Cache {
	return &redisCache{client: client, serviceName: serviceName}
}

func (r *redisCache) SetIfAbsent(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

func (r *redisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (r *redisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *redisCache) GenerateKey(operation, key string) string {
	return fmt.Sprintf("%s:%s:%s", r.serviceName, operation, key)
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// memoryCache is used when REDIS_ADDR is not configured; it only dedupes within one process.
type memoryCache struct {
	mu          sync.Mutex
	items       map[string]memoryEntry
	serviceName string
	now         func() time.Time
	lastPrune   time.Time
}

// memoryPruneInterval bounds how often a write sweeps expired entries.
const memoryPruneInterval = time.Minute

func NewMemoryCache(serviceName string) Cache {
	return &memoryCache{items: map[string]memoryEntry{}, serviceName: serviceName, now: time.Now}
}

func (m *memoryCache) SetIfAbsent(_ context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.pruneLocked(now)
	if e, ok := m.items[key]; ok && (e.expiresAt.IsZero() || now.Before(e.expiresAt)) {
		return false, nil
	}
	e := memoryEntry{value: fmt.Sprint(value)}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	m.items[key] = e
	return true, nil
}

func (m *memoryCache) pruneLocked(now time.Time) {
	if now.Sub(m.lastPrune) < memoryPruneInterval {
		return
	}
	m.lastPrune = now
	for k, e := range m.items {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(m.items, k)
		}
	}
}

func (m *memoryCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok || (!e.expiresAt.IsZero() && !m.now().Before(e.expiresAt)) {
		return "", nil
	}
	return e.value, nil
}

func (m *memoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

func (m *memoryCache) GenerateKey(operation, key string) string {
	return fmt.Sprintf("%s:%s:%s", m.serviceName, operation, key)
}

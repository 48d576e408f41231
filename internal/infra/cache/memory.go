package cache

import (
	"sync"
	"time"

	"mm-summarizer/internal/domain"
)

// MemoryCache — потокобезопасный in-memory кэш с TTL на запись.
// Используется, когда Redis не сконфигурирован.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

var _ domain.Cache = (*MemoryCache)(nil)

// NewMemory создаёт кэш.
func NewMemory() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

// Set задаёт значение. Нулевой ttl означает «без истечения».
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	stored := append([]byte(nil), value...)
	c.mu.Lock()
	c.entries[key] = memoryEntry{value: stored, expiresAt: expiresAt}
	c.mu.Unlock()
	return nil
}

// Get возвращает значение.
func (c *MemoryCache) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, domain.ErrCacheMiss
	}
	return append([]byte(nil), entry.value...), nil
}

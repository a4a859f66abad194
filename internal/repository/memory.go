package repository

import (
	"context"
	"sort"
	"sync"

	"mozzafiato/internal/models"
)

// MemoryResponseCache is a process-local response cache.
type MemoryResponseCache struct {
	mu      sync.RWMutex
	entries map[string]map[string]models.CacheEntry
}

func NewMemoryResponseCache() *MemoryResponseCache {
	return &MemoryResponseCache{entries: make(map[string]map[string]models.CacheEntry)}
}

func (c *MemoryResponseCache) Put(ctx context.Context, entry *models.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns, ok := c.entries[entry.Namespace]
	if !ok {
		ns = make(map[string]models.CacheEntry)
		c.entries[entry.Namespace] = ns
	}
	stored := *entry
	stored.Body = append([]byte(nil), entry.Body...)
	stored.Header = entry.Header.Clone()
	ns[entry.Key] = stored
	return nil
}

func (c *MemoryResponseCache) Get(ctx context.Context, namespace, key string) (*models.CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[namespace][key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (c *MemoryResponseCache) Delete(ctx context.Context, namespace, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries[namespace], key)
	return nil
}

func (c *MemoryResponseCache) Namespaces(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for n := range c.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (c *MemoryResponseCache) DropNamespace(ctx context.Context, namespace string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, namespace)
	return nil
}

package cache

import (
	"context"
	"sync"
	"time"
)

// Cache stores string values under string keys. A zero ttl means no expiry.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// DefaultMaxItems caps a MemoryCache created by NewMemoryCache.
const DefaultMaxItems = 10000

type memoryItem struct {
	value     string
	expiresAt time.Time
}

// MemoryCache is an in-process Cache used when no Redis address is configured.
// It holds at most maxItems entries: a Set on a full cache first drops
// expired entries, then the entry closest to expiry.
type MemoryCache struct {
	mu       sync.Mutex
	items    map[string]memoryItem
	maxItems int
	now      func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		items:    make(map[string]memoryItem),
		maxItems: DefaultMaxItems,
		now:      time.Now,
	}
}

func (m *MemoryCache) expired(item memoryItem, now time.Time) bool {
	return !item.expiresAt.IsZero() && !now.Before(item.expiresAt)
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[key]
	if !ok {
		return "", false, nil
	}
	if m.expired(item, m.now()) {
		delete(m.items, key)
		return "", false, nil
	}
	return item.value, true, nil
}

func (m *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiresAt = now.Add(ttl)
	}
	if _, exists := m.items[key]; !exists && len(m.items) >= m.maxItems {
		m.sweep(now)
		if len(m.items) >= m.maxItems {
			m.evictOne()
		}
	}
	m.items[key] = item
	return nil
}

func (m *MemoryCache) sweep(now time.Time) int {
	removed := 0
	for key, item := range m.items {
		if m.expired(item, now) {
			delete(m.items, key)
			removed++
		}
	}
	return removed
}

// evictOne drops the entry that expires first. Entries without expiry go last.
func (m *MemoryCache) evictOne() {
	var victim string
	var victimAt time.Time
	found := false
	for key, item := range m.items {
		switch {
		case !found:
		case item.expiresAt.IsZero():
			continue
		case !victimAt.IsZero() && !item.expiresAt.Before(victimAt):
			continue
		}
		victim, victimAt, found = key, item.expiresAt, true
	}
	if found {
		delete(m.items, victim)
	}
}

// Sweep removes every expired entry and returns how many were dropped.
func (m *MemoryCache) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweep(m.now())
}

// Run sweeps expired entries every interval until ctx is done.
func (m *MemoryCache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Len returns the number of stored items, expired ones included.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

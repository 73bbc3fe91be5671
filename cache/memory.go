package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryAdapter implements in-process cache storage.
// It uses a map with mutex for thread-safe access. Expired entries are
// dropped lazily on read and by the active sweep. When a maximum entry
// count is configured, the oldest-inserted entries are evicted first so
// the map never exceeds the limit after a Set.
// This is suitable for single-instance deployments and testing.
type MemoryAdapter struct {
	mu         sync.RWMutex
	entries    map[string]*memoryEntry
	maxEntries int
	seq        uint64
	connected  bool
}

// memoryEntry stores a value with bookkeeping for expiry and eviction
type memoryEntry struct {
	value     any
	createdAt time.Time
	expiresAt time.Time // zero = never expires
	seq       uint64    // insertion order, used for eviction
}

// NewMemoryAdapter creates a new in-process storage adapter.
// maxEntries limits the number of stored entries; zero means unbounded.
func NewMemoryAdapter(maxEntries int) *MemoryAdapter {
	return &MemoryAdapter{maxEntries: maxEntries}
}

// Connect initializes the entry map. Idempotent.
func (m *MemoryAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return nil
	}
	m.entries = make(map[string]*memoryEntry)
	m.connected = true
	return nil
}

// Disconnect releases the entry map. Safe to call multiple times.
func (m *MemoryAdapter) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = nil
	m.connected = false
	return nil
}

// Get retrieves the value stored under key, honoring expiry.
func (m *MemoryAdapter) Get(ctx context.Context, key string) (any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.connected {
		return nil, false, adapterErr("memory", "get", ErrNotConnected)
	}

	entry, ok := m.entries[key]
	if !ok || expired(entry.expiresAt, time.Now()) {
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key. A ttl of zero means no expiry.
func (m *MemoryAdapter) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return adapterErr("memory", "set", ErrNotConnected)
	}

	now := time.Now()
	entry := &memoryEntry{
		value:     value,
		createdAt: now,
		seq:       m.seq,
	}
	m.seq++
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	m.entries[key] = entry

	m.evictLocked(now)
	return nil
}

// evictLocked enforces the entry limit, dropping expired entries first
// and then the oldest-inserted live entries. Caller holds the lock.
func (m *MemoryAdapter) evictLocked(now time.Time) {
	if m.maxEntries <= 0 || len(m.entries) <= m.maxEntries {
		return
	}

	for key, entry := range m.entries {
		if expired(entry.expiresAt, now) {
			delete(m.entries, key)
		}
	}

	for len(m.entries) > m.maxEntries {
		var oldestKey string
		var oldestSeq uint64
		first := true
		for key, entry := range m.entries {
			if first || entry.seq < oldestSeq {
				oldestKey = key
				oldestSeq = entry.seq
				first = false
			}
		}
		delete(m.entries, oldestKey)
	}
}

// Delete removes the exact key, or all keys matching a glob pattern.
func (m *MemoryAdapter) Delete(ctx context.Context, keyOrPattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return 0, adapterErr("memory", "delete", ErrNotConnected)
	}

	now := time.Now()

	if !hasWildcard(keyOrPattern) {
		entry, ok := m.entries[keyOrPattern]
		if !ok {
			return 0, nil
		}
		delete(m.entries, keyOrPattern)
		if expired(entry.expiresAt, now) {
			return 0, nil
		}
		return 1, nil
	}

	re, err := compilePattern(keyOrPattern)
	if err != nil {
		return 0, adapterErr("memory", "delete", err)
	}

	removed := 0
	for key, entry := range m.entries {
		if !re.MatchString(key) {
			continue
		}
		delete(m.entries, key)
		if !expired(entry.expiresAt, now) {
			removed++
		}
	}
	return removed, nil
}

// Has reports whether a live entry exists under key.
func (m *MemoryAdapter) Has(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.connected {
		return false, adapterErr("memory", "has", ErrNotConnected)
	}

	entry, ok := m.entries[key]
	return ok && !expired(entry.expiresAt, time.Now()), nil
}

// Clear removes all entries and returns the number of live entries removed.
func (m *MemoryAdapter) Clear(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return 0, adapterErr("memory", "clear", ErrNotConnected)
	}

	now := time.Now()
	removed := 0
	for _, entry := range m.entries {
		if !expired(entry.expiresAt, now) {
			removed++
		}
	}
	m.entries = make(map[string]*memoryEntry)
	return removed, nil
}

// Keys lists live keys in lexical order, optionally filtered by a glob.
func (m *MemoryAdapter) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.connected {
		return nil, adapterErr("memory", "keys", ErrNotConnected)
	}

	now := time.Now()
	keys := make([]string, 0, len(m.entries))
	for key, entry := range m.entries {
		if !expired(entry.expiresAt, now) {
			keys = append(keys, key)
		}
	}

	keys, err := matchKeys(keys, pattern)
	if err != nil {
		return nil, adapterErr("memory", "keys", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Stats reports the live entry count.
func (m *MemoryAdapter) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.connected {
		return Stats{}, adapterErr("memory", "stats", ErrNotConnected)
	}

	now := time.Now()
	live := 0
	for _, entry := range m.entries {
		if !expired(entry.expiresAt, now) {
			live++
		}
	}

	return Stats{
		Backend: "memory",
		Size:    live,
		Details: map[string]any{
			"total_entries": len(m.entries),
			"max_entries":   m.maxEntries,
		},
	}, nil
}

// Ping reports whether the adapter is connected.
func (m *MemoryAdapter) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.connected {
		return adapterErr("memory", "ping", ErrNotConnected)
	}
	return nil
}

// Sweep removes all expired entries and returns the number removed.
func (m *MemoryAdapter) Sweep(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return 0, adapterErr("memory", "sweep", ErrNotConnected)
	}

	now := time.Now()
	removed := 0
	for key, entry := range m.entries {
		if expired(entry.expiresAt, now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

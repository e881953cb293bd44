package accesscache

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is a thread-safe in-process Backend. Expired entries are
// dropped lazily on lookup and in bulk by Evict.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]time.Time // key -> expiry
	now     func() time.Time
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]time.Time), now: time.Now}
}

// Has implements Backend.
func (m *MemoryBackend) Has(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exp, ok := m.entries[key]
	return ok && m.now().Before(exp), nil
}

// Put implements Backend.
func (m *MemoryBackend) Put(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = m.now().Add(ttl)
	return nil
}

// Evict removes all expired entries and returns how many were removed.
func (m *MemoryBackend) Evict() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	now := m.now()
	for k, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of entries, including expired ones.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// RunEvictor calls Evict every interval (default one minute) until ctx is done.
func (m *MemoryBackend) RunEvictor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evict()
		}
	}
}

package debounce

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryKV is an in-memory KV with TTL semantics for tests. Expiry is lazy:
// keys are dropped when observed past their deadline. The clock is injectable
// so tests can step time instead of sleeping.
type MemoryKV struct {
	mu    sync.Mutex
	items map[string]memItem
	now   func() time.Time
}

type memItem struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemoryKV returns an empty store using the real clock.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		items: make(map[string]memItem),
		now:   time.Now,
	}
}

// SetClock replaces the store's time source.
func (m *MemoryKV) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// live returns the item iff it exists and has not expired, reaping it if it
// has. Callers must hold the lock.
func (m *MemoryKV) live(key string) (memItem, bool) {
	it, ok := m.items[key]
	if !ok {
		return memItem{}, false
	}
	if !it.expiresAt.IsZero() && !m.now().Before(it.expiresAt) {
		delete(m.items, key)
		return memItem{}, false
	}
	return it, true
}

func (m *MemoryKV) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *MemoryKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memItem{value: value, expiresAt: m.deadline(ttl)}
	return nil
}

func (m *MemoryKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.items[key] = memItem{value: value, expiresAt: m.deadline(ttl)}
	return true, nil
}

func (m *MemoryKV) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.live(key)
	if !ok {
		return "", false, nil
	}
	return it.value, true, nil
}

func (m *MemoryKV) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	if it, ok := m.live(key); ok {
		parsed, err := strconv.ParseInt(it.value, 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n++
	expiresAt := time.Time{}
	if it, ok := m.items[key]; ok {
		expiresAt = it.expiresAt
	}
	m.items[key] = memItem{value: strconv.FormatInt(n, 10), expiresAt: expiresAt}
	return n, nil
}

func (m *MemoryKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.live(key)
	if !ok {
		return nil
	}
	it.expiresAt = m.deadline(ttl)
	m.items[key] = it
	return nil
}

func (m *MemoryKV) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

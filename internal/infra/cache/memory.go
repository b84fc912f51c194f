package cache

import (
	"sync"
	"time"

	"cine-agenda/internal/domain"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory реализует domain.Cache в памяти процесса, когда Redis не настроен.
type Memory struct {
	mu    sync.Mutex
	items map[string]entry
	now   func() time.Time
}

// NewMemory создаёт пустой кэш.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{items: make(map[string]entry), now: now}
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

// Once выполняет функцию, если ключ ещё не задан.
func (m *Memory) Once(key string, ttl time.Duration, fn func() error) error {
	m.mu.Lock()
	if e, ok := m.items[key]; ok && !e.expired(m.now()) {
		m.mu.Unlock()
		return nil
	}
	m.items[key] = entry{value: []byte("1"), expiresAt: m.expiry(ttl)}
	m.mu.Unlock()

	if err := fn(); err != nil {
		m.mu.Lock()
		delete(m.items, key)
		m.mu.Unlock()
		return err
	}
	return nil
}

// Set задаёт значение. Нулевой ttl хранит ключ бессрочно.
func (m *Memory) Set(key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = entry{value: append([]byte(nil), value...), expiresAt: m.expiry(ttl)}
	return nil
}

// Get возвращает значение или domain.ErrCacheMiss.
func (m *Memory) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	if e.expired(m.now()) {
		delete(m.items, key)
		return nil, domain.ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

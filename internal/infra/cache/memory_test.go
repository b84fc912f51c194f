package cache

import (
	"errors"
	"testing"
	"time"

	"cine-agenda/internal/domain"
)

func TestMemoryOnce(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	c := NewMemory(func() time.Time { return now })
	calls := 0
	fn := func() error { calls++; return nil }

	c.Once("alert:A", time.Hour, fn)
	c.Once("alert:A", time.Hour, fn)
	if calls != 1 {
		t.Fatalf("ожидали один вызов, получили %d", calls)
	}
	now = now.Add(2 * time.Hour)
	c.Once("alert:A", time.Hour, fn)
	if calls != 2 {
		t.Fatalf("после истечения ttl ожидали повторный вызов, получили %d", calls)
	}
}

func TestMemoryOnceReleasesKeyOnError(t *testing.T) {
	c := NewMemory(nil)
	boom := errors.New("boom")
	if err := c.Once("k", time.Hour, func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("ожидали ошибку функции, получили %v", err)
	}
	called := false
	c.Once("k", time.Hour, func() error { called = true; return nil })
	if !called {
		t.Fatalf("после ошибки ключ должен освобождаться")
	}
}

func TestMemoryGetSet(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	c := NewMemory(func() time.Time { return now })
	if _, err := c.Get("missing"); !errors.Is(err, domain.ErrCacheMiss) {
		t.Fatalf("ожидали ErrCacheMiss, получили %v", err)
	}
	c.Set("forever", []byte("48.85,2.34"), 0)
	c.Set("short", []byte("x"), time.Minute)
	now = now.Add(24 * time.Hour)
	if v, err := c.Get("forever"); err != nil || string(v) != "48.85,2.34" {
		t.Fatalf("бессрочный ключ должен сохраниться: %q %v", v, err)
	}
	if _, err := c.Get("short"); !errors.Is(err, domain.ErrCacheMiss) {
		t.Fatalf("истёкший ключ должен отсутствовать")
	}
}

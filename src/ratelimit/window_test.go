package ratelimit

import (
	"testing"
	"time"
)

// newTestStore returns a store with a controllable clock and no janitor.
func newTestStore(limit int, span time.Duration, clock *time.Time) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*window),
		limit:   limit,
		span:    span,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		now:     func() time.Time { return *clock },
	}
	return s
}

func TestAdmit_WindowLimit(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(8, 15*time.Second, &clock)

	for i := 0; i < 8; i++ {
		if !s.Admit("1.2.3.4") {
			t.Fatalf("request %d should be admitted", i+1)
		}
	}
	if s.Admit("1.2.3.4") {
		t.Error("9th request within the window should be rejected")
	}
}

func TestAdmit_FreshWindowAfterElapse(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(8, 15*time.Second, &clock)

	for i := 0; i < 9; i++ {
		s.Admit("1.2.3.4")
	}

	// 16 seconds after the window opened a new window starts with count 1.
	clock = clock.Add(16 * time.Second)
	if !s.Admit("1.2.3.4") {
		t.Fatal("request after window elapsed should be admitted")
	}

	for i := 0; i < 7; i++ {
		if !s.Admit("1.2.3.4") {
			t.Fatalf("request %d of fresh window should be admitted", i+2)
		}
	}
	if s.Admit("1.2.3.4") {
		t.Error("fresh window should again reject past the limit")
	}
}

func TestAdmit_PerClientIsolation(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(1, time.Minute, &clock)

	if !s.Admit("a") {
		t.Fatal("first client should be admitted")
	}
	if s.Admit("a") {
		t.Error("first client should be limited")
	}
	if !s.Admit("b") {
		t.Error("second client must have its own window")
	}
}

func TestEvictStale(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(8, 15*time.Second, &clock)

	s.Admit("a")
	s.Admit("b")

	clock = clock.Add(time.Minute)
	s.evictStale()

	s.mu.Lock()
	remaining := len(s.entries)
	s.mu.Unlock()
	if remaining != 0 {
		t.Errorf("expected stale windows evicted, %d remain", remaining)
	}
}

func TestStop_TerminatesJanitor(t *testing.T) {
	s := NewMemoryStore(8, 15*time.Second)
	s.Stop()

	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Fatal("janitor goroutine did not exit after Stop")
	}
}

// Package ratelimit provides fixed-window admission control keyed by client
// identifier (typically source address). A window opened at t0 accepts up
// to N admissions until t0+W; the next attempt inside the window is
// rejected, and any attempt after the window elapses starts a fresh window
// with count 1.
package ratelimit

import (
	"sync"
	"time"
)

// Store is the admission gate injected into request middleware. The
// in-memory implementation is per-process: in a horizontally scaled
// deployment each instance enforces its own windows. A shared external
// implementation can be swapped in behind this interface.
type Store interface {
	// Admit reports whether clientID may proceed, counting the attempt
	// against the current window when it does.
	Admit(clientID string) bool
	// Stop releases background resources.
	Stop()
}

type window struct {
	count int
	start time.Time
}

// MemoryStore is a mutex-guarded fixed-window store with a janitor that
// evicts windows idle past expiry. State is disposable: losing it on
// restart only resets counters.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*window
	limit   int
	span    time.Duration
	stopCh  chan struct{}
	done    chan struct{} // closed when the janitor exits

	now func() time.Time // overridable in tests
}

// NewMemoryStore creates a store admitting limit requests per span window
// and starts its janitor goroutine.
func NewMemoryStore(limit int, span time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*window),
		limit:   limit,
		span:    span,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go s.janitorLoop()
	return s
}

// Admit implements Store.
func (s *MemoryStore) Admit(clientID string) bool {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[clientID]
	if !ok || now.Sub(e.start) > s.span {
		s.entries[clientID] = &window{count: 1, start: now}
		return true
	}
	if e.count >= s.limit {
		return false
	}
	e.count++
	return true
}

// Stop terminates the janitor goroutine.
func (s *MemoryStore) Stop() {
	close(s.stopCh)
}

func (s *MemoryStore) janitorLoop() {
	defer close(s.done)

	interval := s.span
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictStale()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) evictStale() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		if now.Sub(e.start) > s.span {
			delete(s.entries, id)
		}
	}
}

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStoreUnavailable wraps failures of a shared counter store.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Counter increments the request count for key inside a fixed window.
// It returns the count including this request and when the window resets.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

// MemoryCounter is a process-local Counter.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type MemoryCounter struct {
	mu        sync.Mutex
	windows   map[string]*memoryWindow
	now       func() time.Time
	lastPrune time.Time
}

// NewMemoryCounter creates an empty in-process counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		windows: make(map[string]*memoryWindow),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (m *MemoryCounter) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Incr implements Counter.
func (m *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.pruneLocked(now, window)

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(window)}
		m.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt, nil
}

// Len returns the number of tracked windows.
func (m *MemoryCounter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// pruneLocked drops elapsed windows at most once per window length.
func (m *MemoryCounter) pruneLocked(now time.Time, window time.Duration) {
	if now.Sub(m.lastPrune) < window {
		return
	}
	for key, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, key)
		}
	}
	m.lastPrune = now
}

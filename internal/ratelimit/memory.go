package ratelimit

import (
	"sync"
	"time"
)

// memoryWindows is the process-local fallback counter. It is best-effort
// and never authoritative once the durable store recovers.
type memoryWindows struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	clock   func() time.Time
}

type memoryWindow struct {
	start time.Time
	count int64
}

func newMemoryWindows() *memoryWindows {
	return &memoryWindows{
		windows: make(map[string]*memoryWindow),
		clock:   time.Now,
	}
}

// incrBy adds delta to the current window for key, resetting the window
// if it has elapsed, and returns the new count.
func (m *memoryWindows) incrBy(key string, window time.Duration, delta int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	start := now.Truncate(window)

	w, ok := m.windows[key]
	if !ok || !w.start.Equal(start) {
		w = &memoryWindow{start: start}
		m.windows[key] = w
	}

	w.count += delta
	return w.count
}

// get returns the current window count for key, or zero if the window has
// elapsed or never existed.
func (m *memoryWindows) get(key string, window time.Duration) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.clock().Truncate(window)
	if w, ok := m.windows[key]; ok && w.start.Equal(start) {
		return w.count
	}
	return 0
}

func (m *memoryWindows) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows = make(map[string]*memoryWindow)
}

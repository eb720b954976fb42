package session

import "sync"

// Locker hands out one mutex per session id so the simulation controller can
// serialize ticks and configuration changes without a global lock. Mutexes
// are never reclaimed; the map grows with the number of sessions seen, which
// is bounded by process lifetime.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocker creates an empty lock registry.
func NewLocker() *Locker {
	return &Locker{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the mutex for the given session id, creating it on first
// use, and returns the matching unlock function.
//
//	unlock := locker.Lock(sessionID)
//	defer unlock()
func (l *Locker) Lock(sessionID string) func() {
	l.mu.Lock()
	m, ok := l.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sessionID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

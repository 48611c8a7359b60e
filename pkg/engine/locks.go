package engine

import "sync"

// sessionLocks serializes work per session id. Two messages for the same
// session never race on the task or memory timeline; different sessions
// proceed fully in parallel. Entries live for the process lifetime, which
// is bounded by the number of distinct sessions seen.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: map[string]*sync.Mutex{}}
}

func (l *sessionLocks) lock(sessionID string) func() {
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

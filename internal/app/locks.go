package app

import "sync"

// teamLocks is an arena of per-team mutexes keyed by normalized team id.
// Operations on the same team serialize; unrelated teams never contend.
// Locks are created lazily and kept for the process lifetime (bounded by
// the number of registered teams).
type teamLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newTeamLocks() *teamLocks {
	return &teamLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the mutex for id and returns its unlock function.
func (l *teamLocks) acquire(id string) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

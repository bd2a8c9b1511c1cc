package ledger

import "sync"

// keyLocker hands out one mutex per authority hash.
// Entries are reference counted and dropped when the last holder unlocks.
type keyLocker struct {
	mu    sync.Mutex
	locks map[Hash]*refMutex
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocker() *keyLocker {
	return &keyLocker{locks: make(map[Hash]*refMutex)}
}

// lock blocks until h is held and returns the matching unlock function.
func (l *keyLocker) lock(h Hash) func() {
	l.mu.Lock()
	m, ok := l.locks[h]
	if !ok {
		m = &refMutex{}
		l.locks[h] = m
	}
	m.refs++
	l.mu.Unlock()

	m.mu.Lock()

	return func() {
		m.mu.Unlock()

		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, h)
		}
		l.mu.Unlock()
	}
}

// size returns the number of live entries.
func (l *keyLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.locks)
}

package app

import "sync"

// codeLocks serializes engine operations per session code. Submissions,
// disconnect cleanup, and timer expiry for one code all go through the same
// lock, so they can never interleave mid-mutation; operations on different
// codes proceed in parallel.
type codeLocks struct {
	mu    sync.Mutex
	locks map[string]*codeLock
}

type codeLock struct {
	mu   sync.Mutex
	refs int
}

func newCodeLocks() *codeLocks {
	return &codeLocks{locks: make(map[string]*codeLock)}
}

// lock acquires the per-code lock and returns its release func. Entries are
// reference counted and dropped once unused so finished sessions leave no
// residue.
func (l *codeLocks) lock(code string) func() {
	l.mu.Lock()
	entry, ok := l.locks[code]
	if !ok {
		entry = &codeLock{}
		l.locks[code] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, code)
		}
		l.mu.Unlock()
	}
}

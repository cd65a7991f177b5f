package engine

import "sync"

// targetLocks serializes operations per target ID. An entry lives only while
// some caller holds or waits for it.
type targetLocks struct {
	mu    sync.Mutex
	locks map[string]*targetLock
}

type targetLock struct {
	mu   sync.Mutex
	refs int
}

func newTargetLocks() *targetLocks {
	return &targetLocks{locks: make(map[string]*targetLock)}
}

// lock acquires the target's mutex and returns its release function.
func (t *targetLocks) lock(targetID string) func() {
	t.mu.Lock()
	l, ok := t.locks[targetID]
	if !ok {
		l = &targetLock{}
		t.locks[targetID] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, targetID)
		}
		t.mu.Unlock()
	}
}

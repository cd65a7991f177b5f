package engine

import (
	"fmt"
	"runtime"
	"sync"
	"testing"
)

func (t *targetLocks) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

func waiters(t *targetLocks, targetID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.locks[targetID]; ok {
		return l.refs
	}
	return 0
}

func TestTargetLocksReleaseEntries(t *testing.T) {
	locks := newTargetLocks()

	for i := 0; i < 100; i++ {
		unlock := locks.lock(fmt.Sprintf("9000000000000000%02d", i))
		unlock()
	}
	if n := locks.size(); n != 0 {
		t.Errorf("size after sequential use = %d, want 0", n)
	}
}

func TestTargetLocksSerializeTarget(t *testing.T) {
	locks := newTargetLocks()

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		counter sync.Mutex
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target := "900000000000000001"
			if i%2 == 1 {
				target = "900000000000000002"
			}
			unlock := locks.lock(target)
			defer unlock()

			if target != "900000000000000001" {
				return
			}
			counter.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			counter.Unlock()
			runtime.Gosched()

			counter.Lock()
			inside--
			counter.Unlock()
		}(i)
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen)
	}
	if n := locks.size(); n != 0 {
		t.Errorf("size after concurrent use = %d, want 0", n)
	}
}

func TestTargetLocksKeepEntryWhileHeld(t *testing.T) {
	locks := newTargetLocks()

	unlock := locks.lock("900000000000000001")
	acquired := make(chan func())
	go func() { acquired <- locks.lock("900000000000000001") }()

	// The waiter must share the held entry rather than create a fresh one.
	for waiters(locks, "900000000000000001") != 2 {
		runtime.Gosched()
	}
	unlock()
	second := <-acquired
	if n := locks.size(); n != 1 {
		t.Errorf("size while second holder is inside = %d, want 1", n)
	}
	second()
	if n := locks.size(); n != 0 {
		t.Errorf("size after release = %d, want 0", n)
	}
}

package engine

import (
	"sync"
	"testing"
)

func TestUserLocks_MutualExclusion(t *testing.T) {
	l := newUserLocks()

	const n = 64
	var counter int
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("alice")
			counter++ // safe only if the lock serializes
			unlock()
		}()
	}
	wg.Wait()

	if counter != n {
		t.Errorf("counter = %d, want %d", counter, n)
	}
}

func TestUserLocks_ReleasesEntries(t *testing.T) {
	l := newUserLocks()

	var wg sync.WaitGroup
	users := []string{"alice", "bob", "carol"}
	for i := 0; i < 32; i++ {
		for _, u := range users {
			wg.Add(1)
			go func(u string) {
				defer wg.Done()
				unlock := l.Lock(u)
				unlock()
			}(u)
		}
	}
	wg.Wait()

	l.mu.Lock()
	remaining := len(l.locks)
	l.mu.Unlock()
	if remaining != 0 {
		t.Errorf("lock table holds %d entries after all releases, want 0", remaining)
	}
}

package engine

import "sync"

// userLocks serializes order execution per user. Orders for different users
// never contend; two concurrent orders for the same user queue here so they
// cannot interleave and corrupt balance or average cost.
//
// Entries are reference-counted and removed when the last holder releases,
// so the table does not grow with the number of distinct user IDs seen.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

// Lock acquires the mutex for userID, creating it on first use, and returns
// its release function.
func (l *userLocks) Lock(userID string) func() {
	l.mu.Lock()
	e, ok := l.locks[userID]
	if !ok {
		e = &userLock{}
		l.locks[userID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()

		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}

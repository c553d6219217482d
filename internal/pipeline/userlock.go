package pipeline

import "sync"

// UserLocks serializes all processing for a user: pipeline runs and
// proactive scheduler checks share the same lock, so a check-in never
// interleaves with a reply mid-flight. Locks are never removed; the map
// grows with the (small) user population.
type UserLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewUserLocks creates an empty lock set
func NewUserLocks() *UserLocks {
	return &UserLocks{locks: map[string]*sync.Mutex{}}
}

// Lock acquires the user's lock, creating it on first use
func (u *UserLocks) Lock(userID string) {
	u.mu.Lock()
	l, ok := u.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		u.locks[userID] = l
	}
	u.mu.Unlock()
	l.Lock()
}

// Unlock releases the user's lock
func (u *UserLocks) Unlock(userID string) {
	u.mu.Lock()
	l := u.locks[userID]
	u.mu.Unlock()
	if l != nil {
		l.Unlock()
	}
}

package conversation

import "sync"

// keyedLocks hands out one exclusive lock per user id. Entries are dropped
// when the last holder or waiter releases, so the map stays proportional to
// in-flight calls rather than to every user ever seen.
type keyedLocks struct {
	mu      sync.Mutex
	entries map[int64]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{entries: make(map[int64]*lockEntry)}
}

// acquire blocks until the caller holds the user's exclusive lock.
func (k *keyedLocks) acquire(userID int64) *lockEntry {
	k.mu.Lock()
	e, ok := k.entries[userID]
	if !ok {
		e = &lockEntry{}
		k.entries[userID] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return e
}

// release unlocks and reaps the entry once nobody holds or waits on it.
func (k *keyedLocks) release(userID int64, e *lockEntry) {
	e.mu.Unlock()

	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, userID)
	}
	k.mu.Unlock()
}

// size reports the number of live entries.
func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

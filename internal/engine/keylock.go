package engine

import (
	"sync"

	"monalert/internal/domain"
)

// keyedLocks serializes event processing per deduplication key.
// Params: lazily created per-key mutexes with reference counting.
// Returns: lock scoped to one asset metric.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[domain.DedupKey]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// newKeyedLocks creates the per-key lock set.
// Params: none.
// Returns: initialized lock set.
func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[domain.DedupKey]*keyLock)}
}

// acquire locks one dedup key and returns its release function.
// Params: dedup key.
// Returns: unlock callback that also drops the entry when unreferenced.
func (k *keyedLocks) acquire(key domain.DedupKey) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

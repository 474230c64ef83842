package placement

import (
	"sort"
	"sync"
)

type keyLockEntry struct {
	mu       sync.Mutex
	refCount int
}

// keyLock manages per-key mutexes with automatic cleanup. The controller keeps
// one instance keyed by node ID, so every read-modify-write of a node record
// is serialized, and one keyed by tenant ID, so the lookup-then-place sequence
// for a tenant runs at most once at a time. Locks are created on demand and
// removed when no goroutine holds them.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*keyLockEntry
}

func newKeyLock() *keyLock {
	return &keyLock{
		locks: make(map[string]*keyLockEntry),
	}
}

// Lock acquires the exclusive lock for a key.
// Returns an unlock function that MUST be called to release the lock.
func (kl *keyLock) Lock(key string) func() {
	kl.mu.Lock()
	entry, exists := kl.locks[key]
	if !exists {
		entry = &keyLockEntry{}
		kl.locks[key] = entry
	}
	entry.refCount++
	kl.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		kl.release(key)
	}
}

// LockAll acquires the locks for multiple keys in sorted order, so two
// concurrent migrations touching the same node pair cannot deadlock.
// Returns an unlock function that releases all of them.
func (kl *keyLock) LockAll(keys ...string) func() {
	ids := make([]string, len(keys))
	copy(ids, keys)
	sort.Strings(ids)

	unlocks := make([]func(), 0, len(ids))
	for _, id := range ids {
		unlocks = append(unlocks, kl.Lock(id))
	}

	return func() {
		// Release in reverse acquisition order
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

func (kl *keyLock) release(key string) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	entry, exists := kl.locks[key]
	if !exists {
		return
	}

	entry.refCount--
	if entry.refCount == 0 {
		delete(kl.locks, key)
	}
}

// Len returns the number of currently tracked keys (for testing)
func (kl *keyLock) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.locks)
}

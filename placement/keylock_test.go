package placement

import (
	"sync"
	"testing"
)

func TestKeyLockSerializesSameKey(t *testing.T) {
	kl := newKeyLock()

	const goroutines = 50
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := kl.Lock("node-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != goroutines {
		t.Errorf("counter = %d, want %d", counter, goroutines)
	}
}

func TestKeyLockCleanup(t *testing.T) {
	kl := newKeyLock()

	unlock := kl.Lock("node-1")
	if kl.Len() != 1 {
		t.Errorf("Len() = %d while held, want 1", kl.Len())
	}
	unlock()
	if kl.Len() != 0 {
		t.Errorf("Len() = %d after release, want 0", kl.Len())
	}
}

func TestKeyLockLockAllOrdering(t *testing.T) {
	kl := newKeyLock()

	// Two goroutines locking the same pair in opposite argument order must
	// not deadlock, because LockAll sorts the keys before acquiring.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock := kl.LockAll("node-a", "node-b")
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock := kl.LockAll("node-b", "node-a")
			unlock()
		}()
	}
	wg.Wait()

	if kl.Len() != 0 {
		t.Errorf("Len() = %d after all released, want 0", kl.Len())
	}
}

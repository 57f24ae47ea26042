package store

import "sync"

// LockTable serializes mutations per conversation. Handlers hold a
// conversation's lock only while reading, appending, and writing back the
// thread, never across model generation.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for the given conversation ID, creating it on
// first use. The returned function releases it.
func (t *LockTable) Lock(id string) func() {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.locks[id] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Forget drops the lock entry for a deleted conversation.
func (t *LockTable) Forget(id string) {
	t.mu.Lock()
	delete(t.locks, id)
	t.mu.Unlock()
}

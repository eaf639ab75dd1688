package reconcile

import "sync"

// lockTable serializes reconciliation per order id. Two deliveries for the
// same order (duplicate, parent/child race, retry) may be handled by
// concurrent requests, and the aggregate's flags only hold their at-most-once
// guarantees under mutual exclusion.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*orderLock
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*orderLock)}
}

// Lock acquires the lock for the given order id and returns its release
// function. Entries are reference counted so the table does not grow with
// the order id space.
func (t *lockTable) Lock(orderID string) func() {
	t.mu.Lock()
	l, ok := t.locks[orderID]
	if !ok {
		l = &orderLock{}
		t.locks[orderID] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, orderID)
		}
		t.mu.Unlock()
	}
}

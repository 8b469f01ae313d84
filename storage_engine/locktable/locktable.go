package locktable

import (
	"EmberDB/types"
	"errors"
	"fmt"
	"time"

	"github.com/sasha-s/go-deadlock"
)

/*
LockTable grants exclusive row locks under strict two-phase locking.
Acquire is re-entrant for the owning transaction and blocks otherwise,
queueing waiters in FIFO order so a row under contention is handed over
fairly. A waiter that outlives the timeout gives up with
ErrLockTimeout.

There is no deadlock detection. Callers that touch multiple rows are
expected to lock in ascending row id order; a cycle formed anyway is
broken by the timeout.
*/

var ErrLockTimeout = errors.New("lock wait timeout")

type waiter struct {
	txid    types.TxnID
	granted chan struct{}
}

type lockState struct {
	owner   types.TxnID
	waiters []*waiter
}

type LockTable struct {
	mu    deadlock.Mutex
	locks map[types.RowId]*lockState
}

func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[types.RowId]*lockState)}
}

// Acquire takes the exclusive lock on rowID for txid, blocking up to
// timeout behind earlier waiters. Reacquiring a held lock is a no-op.
func (lt *LockTable) Acquire(txid types.TxnID, rowID types.RowId, timeout time.Duration) error {
	lt.mu.Lock()
	st, ok := lt.locks[rowID]
	if !ok {
		lt.locks[rowID] = &lockState{owner: txid}
		lt.mu.Unlock()
		return nil
	}
	if st.owner == txid {
		lt.mu.Unlock()
		return nil
	}
	w := &waiter{txid: txid, granted: make(chan struct{})}
	st.waiters = append(st.waiters, w)
	lt.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.granted:
		return nil
	case <-timer.C:
	}

	lt.mu.Lock()
	defer lt.mu.Unlock()
	// The grant may have raced the timer.
	if st, ok := lt.locks[rowID]; ok && st.owner == txid {
		return nil
	}
	if st, ok := lt.locks[rowID]; ok {
		for i, cand := range st.waiters {
			if cand == w {
				st.waiters = append(st.waiters[:i], st.waiters[i+1:]...)
				break
			}
		}
	}
	return fmt.Errorf("row %d held too long: %w", rowID, ErrLockTimeout)
}

// ReleaseAll drops every lock txid holds, handing each contended row
// to its oldest waiter.
func (lt *LockTable) ReleaseAll(txid types.TxnID) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	for rowID, st := range lt.locks {
		if st.owner != txid {
			continue
		}
		if len(st.waiters) == 0 {
			delete(lt.locks, rowID)
			continue
		}
		next := st.waiters[0]
		st.waiters = st.waiters[1:]
		st.owner = next.txid
		close(next.granted)
	}
}

// Owner reports the current holder of rowID, if any.
func (lt *LockTable) Owner(rowID types.RowId) (types.TxnID, bool) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	st, ok := lt.locks[rowID]
	if !ok {
		return 0, false
	}
	return st.owner, true
}

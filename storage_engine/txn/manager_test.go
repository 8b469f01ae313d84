package txn

import (
	"errors"
	"testing"
	"time"

	"EmberDB/storage_engine/bufferpool"
	"EmberDB/storage_engine/diskstore"
	"EmberDB/storage_engine/index"
	"EmberDB/storage_engine/locktable"
	"EmberDB/storage_engine/redo"
	"EmberDB/types"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, pageCapacity int, timeout time.Duration) (*Manager, *redo.Manager) {
	t.Helper()
	ms := diskstore.NewMemStore()
	pool, err := bufferpool.NewBufferPool(8, ms)
	require.NoError(t, err)
	rm, err := redo.Open(ms)
	require.NoError(t, err)
	m := NewManager(pool, rm, locktable.NewLockTable(), index.NewBPlusTree(3), timeout, pageCapacity)
	return m, rm
}

func TestInsertReadRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, 16, time.Second)

	tx := m.Begin()
	require.NoError(t, m.Insert(tx, types.Row{ID: 1, Data: []byte("alice")}))
	row, err := m.Read(tx, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("alice"), row.Data)
	require.NoError(t, m.Commit(tx))
	require.Equal(t, TxnCommitted, tx.State)
}

func TestInsertDuplicateKeepsTxnActive(t *testing.T) {
	m, _ := newTestManager(t, 16, time.Second)

	tx := m.Begin()
	require.NoError(t, m.Insert(tx, types.Row{ID: 1, Data: []byte("a")}))
	err := m.Insert(tx, types.Row{ID: 1, Data: []byte("b")})
	require.ErrorIs(t, err, ErrDuplicateRow)
	require.Equal(t, TxnActive, tx.State)

	// The failed insert left nothing behind.
	row, err := m.Read(tx, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), row.Data)
	require.NoError(t, m.Commit(tx))
}

func TestMissingRowErrors(t *testing.T) {
	m, _ := newTestManager(t, 16, time.Second)

	tx := m.Begin()
	_, err := m.Read(tx, 99)
	require.ErrorIs(t, err, ErrMissing)
	require.ErrorIs(t, m.Update(tx, 99, []byte("x")), ErrMissing)
	require.ErrorIs(t, m.Delete(tx, 99), ErrMissing)
	require.Equal(t, TxnActive, tx.State)
	require.NoError(t, m.Rollback(tx))
}

func TestUpdateDelete(t *testing.T) {
	m, _ := newTestManager(t, 16, time.Second)

	tx := m.Begin()
	require.NoError(t, m.Insert(tx, types.Row{ID: 1, Data: []byte("v1")}))
	require.NoError(t, m.Commit(tx))

	tx2 := m.Begin()
	require.NoError(t, m.Update(tx2, 1, []byte("v2")))
	row, err := m.Read(tx2, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), row.Data)

	require.NoError(t, m.Delete(tx2, 1))
	_, err = m.Read(tx2, 1)
	require.ErrorIs(t, err, ErrMissing)
	require.NoError(t, m.Commit(tx2))
}

func TestOperationsOnFinishedTxnFail(t *testing.T) {
	m, _ := newTestManager(t, 16, time.Second)

	tx := m.Begin()
	require.NoError(t, m.Commit(tx))
	require.Error(t, m.Insert(tx, types.Row{ID: 1}))
	require.Error(t, m.Commit(tx))
	require.Error(t, m.Rollback(tx))
}

func TestRollbackRestoresVisibleState(t *testing.T) {
	m, _ := newTestManager(t, 16, time.Second)

	setup := m.Begin()
	require.NoError(t, m.Insert(setup, types.Row{ID: 1, Data: []byte("one")}))
	require.NoError(t, m.Insert(setup, types.Row{ID: 2, Data: []byte("two")}))
	require.NoError(t, m.Commit(setup))

	tx := m.Begin()
	require.NoError(t, m.Insert(tx, types.Row{ID: 3, Data: []byte("three")}))
	require.NoError(t, m.Update(tx, 1, []byte("ONE")))
	require.NoError(t, m.Delete(tx, 2))
	require.NoError(t, m.Rollback(tx))
	require.Equal(t, TxnAborted, tx.State)

	check := m.Begin()
	_, err := m.Read(check, 3)
	require.ErrorIs(t, err, ErrMissing)
	row, err := m.Read(check, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("one"), row.Data)
	row, err = m.Read(check, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("two"), row.Data)
	require.NoError(t, m.Commit(check))
}

func TestRollbackAppendsCompensations(t *testing.T) {
	m, rm := newTestManager(t, 16, time.Second)

	tx := m.Begin()
	require.NoError(t, m.Insert(tx, types.Row{ID: 1, Data: []byte("x")}))
	require.NoError(t, m.Rollback(tx))

	recs := rm.Records()
	require.Len(t, recs, 2)
	require.False(t, recs[0].Compensation)
	require.True(t, recs[1].Compensation)
	require.Equal(t, types.RecDelete, recs[1].Type)
}

func TestFullPageTriggersAllocation(t *testing.T) {
	m, _ := newTestManager(t, 2, time.Second)

	tx := m.Begin()
	for id := types.RowId(1); id <= 5; id++ {
		require.NoError(t, m.Insert(tx, types.Row{ID: id, Data: []byte("r")}))
	}
	require.NoError(t, m.Commit(tx))

	// 5 rows at 2 per page span 3 pages.
	pages := make(map[types.PageId]bool)
	for id := types.RowId(1); id <= 5; id++ {
		pid, ok := m.idx.Get(id)
		require.True(t, ok)
		pages[pid] = true
	}
	require.Len(t, pages, 3)
}

func TestLockContentionTimesOut(t *testing.T) {
	m, _ := newTestManager(t, 16, 60*time.Millisecond)

	holder := m.Begin()
	require.NoError(t, m.Insert(holder, types.Row{ID: 1, Data: []byte("held")}))

	waiter := m.Begin()
	_, err := m.Read(waiter, 1)
	require.ErrorIs(t, err, locktable.ErrLockTimeout)
	require.NoError(t, m.Rollback(waiter))

	// Commit releases the lock and unblocks later transactions.
	require.NoError(t, m.Commit(holder))
	after := m.Begin()
	row, err := m.Read(after, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("held"), row.Data)
	require.NoError(t, m.Commit(after))
}

func TestWaiterProceedsAfterCommit(t *testing.T) {
	m, _ := newTestManager(t, 16, 2*time.Second)

	holder := m.Begin()
	require.NoError(t, m.Insert(holder, types.Row{ID: 1, Data: []byte("v1")}))

	done := make(chan error, 1)
	go func() {
		waiter := m.Begin()
		if err := m.Update(waiter, 1, []byte("v2")); err != nil {
			done <- err
			return
		}
		done <- m.Commit(waiter)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, m.Commit(holder))
	require.NoError(t, <-done)

	check := m.Begin()
	row, err := m.Read(check, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), row.Data)
	require.NoError(t, m.Commit(check))
}

func TestCommitFlushFailureAborts(t *testing.T) {
	ms := diskstore.NewMemStore()
	pool, err := bufferpool.NewBufferPool(8, ms)
	require.NoError(t, err)
	rm, err := redo.Open(ms)
	require.NoError(t, err)
	m := NewManager(pool, rm, locktable.NewLockTable(), index.NewBPlusTree(3), time.Second, 16)

	tx := m.Begin()
	require.NoError(t, m.Insert(tx, types.Row{ID: 1, Data: []byte("x")}))
	ms.FailNextWrite(errFlushBroken)
	require.Error(t, m.Commit(tx))
	require.Equal(t, TxnAborted, tx.State)

	// The aborted insert is invisible afterward.
	check := m.Begin()
	_, err = m.Read(check, 1)
	require.ErrorIs(t, err, ErrMissing)
	require.NoError(t, m.Rollback(check))

	// The failed transaction's records, commit record included, left
	// the log; a later flush must not carry them to durability.
	for _, r := range rm.Records() {
		require.NotEqual(t, tx.ID, r.TxnID)
	}
}

var errFlushBroken = errors.New("flush broken")

func TestScanLocksAndReturnsRange(t *testing.T) {
	m, _ := newTestManager(t, 4, time.Second)

	setup := m.Begin()
	for id := types.RowId(1); id <= 9; id += 2 {
		require.NoError(t, m.Insert(setup, types.Row{ID: id, Data: []byte{byte(id)}}))
	}
	require.NoError(t, m.Commit(setup))

	tx := m.Begin()
	rows, err := m.Scan(tx, 3, 7)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.EqualValues(t, 3, rows[0].ID)
	require.EqualValues(t, 7, rows[2].ID)
	require.NoError(t, m.Commit(tx))
}

func TestCommitOrderMatchesLogOrder(t *testing.T) {
	m, rm := newTestManager(t, 16, time.Second)

	seed := m.Begin()
	require.NoError(t, m.Insert(seed, types.Row{ID: 1, Data: []byte("start")}))
	require.NoError(t, m.Commit(seed))

	t1 := m.Begin()
	require.NoError(t, m.Update(t1, 1, []byte("X")))
	require.NoError(t, m.Commit(t1))

	t2 := m.Begin()
	require.NoError(t, m.Update(t2, 1, []byte("Y")))
	require.NoError(t, m.Commit(t2))

	// The later commit in the log is the visible value.
	var commits []types.TxnID
	for _, r := range rm.Records() {
		if r.Type == types.RecCommit {
			commits = append(commits, r.TxnID)
		}
	}
	require.Equal(t, []types.TxnID{seed.ID, t1.ID, t2.ID}, commits)

	check := m.Begin()
	row, err := m.Read(check, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("Y"), row.Data)
	require.NoError(t, m.Commit(check))
}

func TestMinActiveFirstLSN(t *testing.T) {
	m, _ := newTestManager(t, 16, time.Second)

	_, ok := m.MinActiveFirstLSN()
	require.False(t, ok)

	t1 := m.Begin()
	require.NoError(t, m.Insert(t1, types.Row{ID: 1, Data: []byte("a")}))
	t2 := m.Begin()
	require.NoError(t, m.Insert(t2, types.Row{ID: 2, Data: []byte("b")}))

	floor, ok := m.MinActiveFirstLSN()
	require.True(t, ok)
	require.Equal(t, t1.FirstLSN, floor)

	require.NoError(t, m.Commit(t1))
	floor, ok = m.MinActiveFirstLSN()
	require.True(t, ok)
	require.Equal(t, t2.FirstLSN, floor)

	require.NoError(t, m.Commit(t2))
	_, ok = m.MinActiveFirstLSN()
	require.False(t, ok)
	require.Equal(t, 0, m.ActiveCount())
}

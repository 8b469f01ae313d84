package txn

import (
	"EmberDB/storage_engine/bufferpool"
	"EmberDB/storage_engine/index"
	"EmberDB/storage_engine/locktable"
	"EmberDB/storage_engine/page"
	"EmberDB/storage_engine/redo"
	"EmberDB/types"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

/*
Manager runs transactions against the buffer pool, redo log, lock table
and row index.

Every row operation follows the same shape: take the exclusive row
lock, consult the index, record undo, append redo, mutate the pinned
page, stamp the page with the record's LSN, unpin dirty. Locks are held
until commit or rollback completes (strict two-phase locking).

Row locks serialize access per row; opMu serializes the page and index
mutation itself, since two transactions touching different rows can
share a page. Locks are always taken before opMu, never inside it.
*/

var (
	ErrMissing         = errors.New("row not found")
	ErrDuplicateRow    = errors.New("duplicate row id")
	ErrPageAllocFailed = errors.New("page allocation failed")
)

type Manager struct {
	pool  *bufferpool.BufferPool
	redo  *redo.Manager
	locks *locktable.LockTable
	idx   index.RowIndex

	lockTimeout  time.Duration
	pageCapacity int

	nextID atomic.Uint64

	opMu sync.Mutex

	mu      sync.Mutex
	active  map[types.TxnID]*Transaction
	curPage types.PageId // insert target, filled until capacity
}

func NewManager(pool *bufferpool.BufferPool, rm *redo.Manager, locks *locktable.LockTable, idx index.RowIndex, lockTimeout time.Duration, pageCapacity int) *Manager {
	m := &Manager{
		pool:         pool,
		redo:         rm,
		locks:        locks,
		idx:          idx,
		lockTimeout:  lockTimeout,
		pageCapacity: pageCapacity,
		active:       make(map[types.TxnID]*Transaction),
	}
	return m
}

func (m *Manager) Begin() *Transaction {
	id := types.TxnID(m.nextID.Add(1))
	t := &Transaction{
		ID:    id,
		State: TxnActive,
		locks: mapset.NewSet[types.RowId](),
	}
	m.mu.Lock()
	m.active[id] = t
	m.mu.Unlock()
	return t
}

func (m *Manager) checkActive(t *Transaction) error {
	if t.State != TxnActive {
		return fmt.Errorf("txn %d is %s, not active", t.ID, t.State)
	}
	return nil
}

// lockRow takes the row lock for t, remembering it for release at txn
// end. Reads and writes both take the exclusive lock.
func (m *Manager) lockRow(t *Transaction, rowID types.RowId) error {
	if t.locks.Contains(rowID) {
		return nil
	}
	if err := m.locks.Acquire(t.ID, rowID, m.lockTimeout); err != nil {
		return err
	}
	t.locks.Add(rowID)
	return nil
}

// insertTarget returns the pinned page new rows go to: the current
// target while it has room, otherwise a freshly allocated page.
// Caller holds opMu.
func (m *Manager) insertTarget() (*page.Page, error) {
	m.mu.Lock()
	cur := m.curPage
	m.mu.Unlock()

	if cur != 0 {
		p, err := m.pool.Fetch(cur)
		if err == nil {
			if p.NumRows() < m.pageCapacity {
				return p, nil
			}
			m.pool.Unpin(cur, false)
		} else {
			return nil, err
		}
	}

	p, err := m.pool.Allocate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPageAllocFailed, err)
	}
	m.mu.Lock()
	m.curPage = p.ID
	m.mu.Unlock()
	return p, nil
}

func (m *Manager) Insert(t *Transaction, row types.Row) error {
	if err := m.checkActive(t); err != nil {
		return err
	}
	if err := m.lockRow(t, row.ID); err != nil {
		return err
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	if _, exists := m.idx.Get(row.ID); exists {
		return fmt.Errorf("insert row %d: %w", row.ID, ErrDuplicateRow)
	}
	p, err := m.insertTarget()
	if err != nil {
		return err
	}

	t.undo = append(t.undo, undoRecord{op: types.RecInsert, rowID: row.ID, pageID: p.ID})
	lsn := m.redo.Append(&types.RedoRecord{
		TxnID:  t.ID,
		Type:   types.RecInsert,
		PageID: p.ID,
		RowID:  row.ID,
		After:  row.Data,
	})
	p.Put(row.Clone())
	p.LSN = lsn
	m.idx.Put(row.ID, p.ID)
	t.recordLSN(lsn)
	m.pool.Unpin(p.ID, true)
	return nil
}

func (m *Manager) Read(t *Transaction, rowID types.RowId) (types.Row, error) {
	if err := m.checkActive(t); err != nil {
		return types.Row{}, err
	}
	if err := m.lockRow(t, rowID); err != nil {
		return types.Row{}, err
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	pageID, ok := m.idx.Get(rowID)
	if !ok {
		return types.Row{}, fmt.Errorf("read row %d: %w", rowID, ErrMissing)
	}
	p, err := m.pool.Fetch(pageID)
	if err != nil {
		return types.Row{}, err
	}
	row, ok := p.Get(rowID)
	m.pool.Unpin(pageID, false)
	if !ok {
		return types.Row{}, fmt.Errorf("read row %d: %w", rowID, ErrMissing)
	}
	return row.Clone(), nil
}

func (m *Manager) Update(t *Transaction, rowID types.RowId, data []byte) error {
	if err := m.checkActive(t); err != nil {
		return err
	}
	if err := m.lockRow(t, rowID); err != nil {
		return err
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	pageID, ok := m.idx.Get(rowID)
	if !ok {
		return fmt.Errorf("update row %d: %w", rowID, ErrMissing)
	}
	p, err := m.pool.Fetch(pageID)
	if err != nil {
		return err
	}
	before, ok := p.Get(rowID)
	if !ok {
		m.pool.Unpin(pageID, false)
		return fmt.Errorf("update row %d: %w", rowID, ErrMissing)
	}
	beforeCopy := before.Clone()
	t.undo = append(t.undo, undoRecord{op: types.RecUpdate, rowID: rowID, pageID: pageID, before: &beforeCopy})
	lsn := m.redo.Append(&types.RedoRecord{
		TxnID:  t.ID,
		Type:   types.RecUpdate,
		PageID: pageID,
		RowID:  rowID,
		After:  data,
	})
	p.Put(types.Row{ID: rowID, Data: data})
	p.LSN = lsn
	t.recordLSN(lsn)
	m.pool.Unpin(pageID, true)
	return nil
}

func (m *Manager) Delete(t *Transaction, rowID types.RowId) error {
	if err := m.checkActive(t); err != nil {
		return err
	}
	if err := m.lockRow(t, rowID); err != nil {
		return err
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	pageID, ok := m.idx.Get(rowID)
	if !ok {
		return fmt.Errorf("delete row %d: %w", rowID, ErrMissing)
	}
	p, err := m.pool.Fetch(pageID)
	if err != nil {
		return err
	}
	before, ok := p.Get(rowID)
	if !ok {
		m.pool.Unpin(pageID, false)
		return fmt.Errorf("delete row %d: %w", rowID, ErrMissing)
	}
	beforeCopy := before.Clone()
	t.undo = append(t.undo, undoRecord{op: types.RecDelete, rowID: rowID, pageID: pageID, before: &beforeCopy})
	lsn := m.redo.Append(&types.RedoRecord{
		TxnID:  t.ID,
		Type:   types.RecDelete,
		PageID: pageID,
		RowID:  rowID,
	})
	p.Delete(rowID)
	p.LSN = lsn
	m.idx.Delete(rowID)
	t.recordLSN(lsn)
	m.pool.Unpin(pageID, true)
	return nil
}

// Scan reads all rows with lo <= id <= hi, locking each row it visits.
func (m *Manager) Scan(t *Transaction, lo, hi types.RowId) ([]types.Row, error) {
	if err := m.checkActive(t); err != nil {
		return nil, err
	}

	m.opMu.Lock()
	entries := m.idx.Range(lo, hi)
	m.opMu.Unlock()

	var rows []types.Row
	for _, e := range entries {
		if err := m.lockRow(t, e.RowID); err != nil {
			return nil, err
		}
		row, err := m.Read(t, e.RowID)
		if errors.Is(err, ErrMissing) {
			// Deleted between the index walk and the lock grant.
			continue
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Commit makes the transaction durable: the commit record is appended
// and the redo log is flushed through it before the transaction is
// reported committed. If the flush fails the transaction is rolled
// back in memory and the error is returned.
func (m *Manager) Commit(t *Transaction) error {
	if err := m.checkActive(t); err != nil {
		return err
	}
	lsn := m.redo.Append(&types.RedoRecord{TxnID: t.ID, Type: types.RecCommit})
	t.recordLSN(lsn)
	if err := m.redo.FlushThrough(lsn); err != nil {
		m.redo.DiscardTxn(t.ID)
		m.undoInMemory(t)
		m.finish(t, TxnAborted)
		return fmt.Errorf("commit txn %d: %w", t.ID, err)
	}
	t.undo = nil
	m.finish(t, TxnCommitted)
	fmt.Printf("[TxnManager] txn %d committed (lsn=%d)\n", t.ID, lsn)
	return nil
}

// Rollback reverses the transaction's changes in LIFO order, appending
// a compensation redo record for each reversal so replay converges on
// the rolled-back state.
func (m *Manager) Rollback(t *Transaction) error {
	if err := m.checkActive(t); err != nil {
		return err
	}

	m.opMu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		u := t.undo[i]
		p, err := m.pool.Fetch(u.pageID)
		if err != nil {
			m.opMu.Unlock()
			panic(fmt.Sprintf("rollback txn %d: page %d unavailable: %v", t.ID, u.pageID, err))
		}
		var comp *types.RedoRecord
		switch u.op {
		case types.RecInsert:
			p.Delete(u.rowID)
			m.idx.Delete(u.rowID)
			comp = &types.RedoRecord{TxnID: t.ID, Type: types.RecDelete, PageID: u.pageID, RowID: u.rowID, Compensation: true}
		case types.RecUpdate:
			p.Put(u.before.Clone())
			comp = &types.RedoRecord{TxnID: t.ID, Type: types.RecUpdate, PageID: u.pageID, RowID: u.rowID, After: u.before.Data, Compensation: true}
		case types.RecDelete:
			p.Put(u.before.Clone())
			m.idx.Put(u.rowID, u.pageID)
			comp = &types.RedoRecord{TxnID: t.ID, Type: types.RecInsert, PageID: u.pageID, RowID: u.rowID, After: u.before.Data, Compensation: true}
		}
		lsn := m.redo.Append(comp)
		p.LSN = lsn
		t.recordLSN(lsn)
		m.pool.Unpin(u.pageID, true)
	}
	m.opMu.Unlock()

	t.undo = nil
	m.finish(t, TxnAborted)
	fmt.Printf("[TxnManager] txn %d rolled back\n", t.ID)
	return nil
}

// undoInMemory reverses changes without appending compensation
// records. Used when a commit flush fails: the transaction's unflushed
// records, commit record included, have been discarded from the log,
// so replay discards the transaction.
func (m *Manager) undoInMemory(t *Transaction) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		u := t.undo[i]
		p, err := m.pool.Fetch(u.pageID)
		if err != nil {
			continue
		}
		switch u.op {
		case types.RecInsert:
			p.Delete(u.rowID)
			m.idx.Delete(u.rowID)
		case types.RecUpdate:
			p.Put(u.before.Clone())
		case types.RecDelete:
			p.Put(u.before.Clone())
			m.idx.Put(u.rowID, u.pageID)
		}
		m.pool.Unpin(u.pageID, true)
	}
	t.undo = nil
}

func (m *Manager) finish(t *Transaction, state TxnState) {
	t.State = state
	m.mu.Lock()
	delete(m.active, t.ID)
	m.mu.Unlock()
	m.locks.ReleaseAll(t.ID)
	t.locks.Clear()
}

// MinActiveFirstLSN returns the lowest FirstLSN among transactions
// that are still active and have written redo, the floor below which
// the log can be truncated.
func (m *Manager) MinActiveFirstLSN() (types.LSN, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var min types.LSN
	found := false
	for _, t := range m.active {
		if t.FirstLSN == 0 {
			continue
		}
		if !found || t.FirstLSN < min {
			min = t.FirstLSN
			found = true
		}
	}
	return min, found
}

// ActiveCount reports how many transactions are in flight.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// AdvanceTxnID moves id assignment past id. Recovery calls this with
// the highest transaction id seen in the log.
func (m *Manager) AdvanceTxnID(id types.TxnID) {
	for {
		cur := m.nextID.Load()
		if uint64(id) <= cur {
			return
		}
		if m.nextID.CompareAndSwap(cur, uint64(id)) {
			return
		}
	}
}

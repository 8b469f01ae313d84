package storageengine

import (
	"EmberDB/storage_engine/bufferpool"
	"EmberDB/storage_engine/diskstore"
	"EmberDB/storage_engine/dwb"
	"EmberDB/storage_engine/index"
	"EmberDB/storage_engine/locktable"
	"EmberDB/storage_engine/page"
	"EmberDB/storage_engine/redo"
	"EmberDB/storage_engine/txn"
	"EmberDB/types"
	"errors"
	"fmt"
	"sync"
)

/*
Engine is the facade over the storage subsystems. Opening an engine
runs crash recovery against whatever the store contains, so a process
restart after a crash needs nothing beyond Open.

Row operations delegate to the transaction manager. Checkpoint and
Close are engine-level because they cut across every subsystem.
*/

type Engine struct {
	cfg   Config
	store diskstore.DiskStore
	pool  *bufferpool.BufferPool
	redo  *redo.Manager
	locks *locktable.LockTable
	dwb   *dwb.Buffer
	idx   index.RowIndex
	txns  *txn.Manager

	// ckptMu serializes checkpoints against each other, including the
	// one Close runs. Close releases the store after that checkpoint
	// without holding ckptMu.
	ckptMu sync.Mutex
}

// Open opens an engine over a file store rooted at cfg.DataDir.
func Open(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	store, err := diskstore.NewFileStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	return OpenWithStore(cfg, store)
}

// OpenWithStore opens an engine over an existing store. Recovery runs
// before the engine is handed out: torn pages are repaired from the
// double-write buffer, committed redo is replayed, counters resume
// past everything in the store.
func OpenWithStore(cfg Config, store diskstore.DiskStore) (*Engine, error) {
	cfg = cfg.withDefaults()

	rm, err := redo.Open(store)
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}

	e := &Engine{
		cfg:   cfg,
		store: store,
		redo:  rm,
		locks: locktable.NewLockTable(),
		dwb:   dwb.New(store),
	}

	if err := e.restoreTornPages(); err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}

	pool, err := bufferpool.NewBufferPool(cfg.BufferPoolSize, store)
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	e.pool = pool
	pool.SetFlushPath(e.flushPage)

	idx, err := e.loadIndex()
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	e.idx = idx

	e.txns = txn.NewManager(pool, rm, e.locks, idx, cfg.LockTimeout, cfg.PageCapacity)

	if err := e.replayRedo(); err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	if err := e.restoreCounters(); err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	if err := e.Checkpoint(); err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	return e, nil
}

func (e *Engine) Begin() *txn.Transaction {
	return e.txns.Begin()
}

func (e *Engine) Insert(t *txn.Transaction, row types.Row) error {
	return e.txns.Insert(t, row)
}

func (e *Engine) Read(t *txn.Transaction, rowID types.RowId) (types.Row, error) {
	return e.txns.Read(t, rowID)
}

func (e *Engine) Update(t *txn.Transaction, rowID types.RowId, data []byte) error {
	return e.txns.Update(t, rowID, data)
}

func (e *Engine) Delete(t *txn.Transaction, rowID types.RowId) error {
	return e.txns.Delete(t, rowID)
}

// Scan returns all rows with lo <= id <= hi under the caller's locks.
func (e *Engine) Scan(t *txn.Transaction, lo, hi types.RowId) ([]types.Row, error) {
	return e.txns.Scan(t, lo, hi)
}

func (e *Engine) Commit(t *txn.Transaction) error {
	return e.txns.Commit(t)
}

func (e *Engine) Rollback(t *txn.Transaction) error {
	return e.txns.Rollback(t)
}

// Close checkpoints and releases the store.
func (e *Engine) Close() error {
	if err := e.Checkpoint(); err != nil {
		return fmt.Errorf("close engine: %w", err)
	}
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("close engine: %w", err)
	}
	fmt.Printf("[Engine] closed\n")
	return nil
}

func (e *Engine) loadIndex() (index.RowIndex, error) {
	data, err := e.store.ReadBlob(diskstore.IndexBlob)
	if err != nil {
		if errors.Is(err, diskstore.ErrNotFound) {
			return index.NewBPlusTree(e.cfg.BPlusTreeT), nil
		}
		return nil, fmt.Errorf("load index: %w", err)
	}
	idx, err := index.LoadBPlusTree(e.cfg.BPlusTreeT, data)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	return idx, nil
}

// flushPage is the single-page durability path used for dirty
// eviction: redo first, then the image through the double-write
// buffer, then the home blob.
func (e *Engine) flushPage(p *page.Page) error {
	if err := e.redo.FlushThrough(p.LSN); err != nil {
		return err
	}
	img, err := p.Encode()
	if err != nil {
		return err
	}
	if err := e.dwb.Stage(map[types.PageId][]byte{p.ID: img}); err != nil {
		return err
	}
	if err := e.store.WriteBlob(diskstore.PageBlobName(p.ID), img); err != nil {
		return fmt.Errorf("write page %d: %w", p.ID, err)
	}
	if err := e.store.Flush(); err != nil {
		return fmt.Errorf("write page %d: %w", p.ID, err)
	}
	return e.dwb.Clear()
}

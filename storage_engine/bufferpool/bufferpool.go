package bufferpool

import (
	"EmberDB/storage_engine/diskstore"
	"EmberDB/storage_engine/page"
	"EmberDB/types"
	"container/list"
	"errors"
	"fmt"
	"sort"

	"github.com/sasha-s/go-deadlock"
)

/*
BufferPool caches pages between the transaction layer and the disk
store. Fixed frame count, pin counts, dirty flags, LRU eviction.

Recency is a doubly linked list: front is most recent, eviction scans
from the back and skips pinned frames. When every frame is pinned,
Fetch fails with ErrBufferExhausted.

Evicting a dirty frame must not bypass the write-ahead rule or the
torn-write protection, so the pool does not write pages itself. The
engine installs a flush path at startup that forces the redo log
through the page LSN and routes the image through the double-write
buffer before the home write.
*/

var ErrBufferExhausted = errors.New("buffer pool exhausted")

type Frame struct {
	Page     *page.Page
	PinCount int
	Dirty    bool
	elem     *list.Element
}

// FlushFunc makes one page durable in its home blob, honoring the WAL
// and double-write protocols.
type FlushFunc func(p *page.Page) error

type BufferPool struct {
	mu       deadlock.Mutex
	capacity int
	frames   map[types.PageId]*Frame
	lru      *list.List // of types.PageId, front = most recent
	store    diskstore.DiskStore
	flush    FlushFunc

	nextPageID types.PageId
}

func NewBufferPool(capacity int, store diskstore.DiskStore) (*BufferPool, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("buffer pool capacity %d < 1", capacity)
	}
	ids, err := store.PageIDs()
	if err != nil {
		return nil, fmt.Errorf("scan store: %w", err)
	}
	var next types.PageId = 1
	for _, id := range ids {
		if id >= next {
			next = id + 1
		}
	}
	return &BufferPool{
		capacity:   capacity,
		frames:     make(map[types.PageId]*Frame),
		lru:        list.New(),
		store:      store,
		flush:      nil,
		nextPageID: next,
	}, nil
}

// SetFlushPath installs the engine's page flush path. Must be called
// before any dirty frame can be evicted.
func (bp *BufferPool) SetFlushPath(f FlushFunc) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.flush = f
}

// Fetch returns the page pinned. A miss reads the page from the store,
// evicting if the pool is full.
func (bp *BufferPool) Fetch(pageID types.PageId) (*page.Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if f, ok := bp.frames[pageID]; ok {
		f.PinCount++
		bp.lru.MoveToFront(f.elem)
		return f.Page, nil
	}

	data, err := bp.store.ReadBlob(diskstore.PageBlobName(pageID))
	if err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", pageID, err)
	}
	p, err := page.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", pageID, err)
	}
	if err := bp.admit(p); err != nil {
		return nil, err
	}
	return p, nil
}

// FetchOrCreate is Fetch, except a page missing from the store is
// materialized empty instead of failing. Recovery replays records into
// pages whose home blob may never have been written.
func (bp *BufferPool) FetchOrCreate(pageID types.PageId) (*page.Page, error) {
	p, err := bp.Fetch(pageID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, diskstore.ErrNotFound) {
		return nil, err
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()
	if f, ok := bp.frames[pageID]; ok {
		f.PinCount++
		bp.lru.MoveToFront(f.elem)
		return f.Page, nil
	}
	fresh := page.New(pageID)
	if err := bp.admit(fresh); err != nil {
		return nil, err
	}
	if pageID >= bp.nextPageID {
		bp.nextPageID = pageID + 1
	}
	return fresh, nil
}

// Allocate creates a new empty page with the next unused id, pinned
// and dirty.
func (bp *BufferPool) Allocate() (*page.Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	p := page.New(bp.nextPageID)
	if err := bp.admit(p); err != nil {
		return nil, err
	}
	bp.nextPageID++
	bp.frames[p.ID].Dirty = true
	return p, nil
}

// admit installs a page into a frame with pin count 1, evicting a
// victim first if the pool is full. Caller holds bp.mu.
func (bp *BufferPool) admit(p *page.Page) error {
	if len(bp.frames) >= bp.capacity {
		if err := bp.evictOne(); err != nil {
			return err
		}
	}
	f := &Frame{Page: p, PinCount: 1}
	f.elem = bp.lru.PushFront(p.ID)
	bp.frames[p.ID] = f
	return nil
}

// evictOne removes the least recently used unpinned frame, flushing it
// first if dirty. Caller holds bp.mu.
func (bp *BufferPool) evictOne() error {
	for e := bp.lru.Back(); e != nil; e = e.Prev() {
		id := e.Value.(types.PageId)
		f := bp.frames[id]
		if f.PinCount > 0 {
			continue
		}
		if f.Dirty {
			if bp.flush == nil {
				panic("bufferpool: dirty eviction before flush path installed")
			}
			if err := bp.flush(f.Page); err != nil {
				return fmt.Errorf("evict page %d: %w", id, err)
			}
			fmt.Printf("[BufferPool] evicted dirty page %d (lsn=%d)\n", id, f.Page.LSN)
		}
		bp.lru.Remove(e)
		delete(bp.frames, id)
		return nil
	}
	return ErrBufferExhausted
}

// Pin adds a pin to an already resident page.
func (bp *BufferPool) Pin(pageID types.PageId) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	f, ok := bp.frames[pageID]
	if !ok {
		return fmt.Errorf("pin page %d: not resident", pageID)
	}
	f.PinCount++
	bp.lru.MoveToFront(f.elem)
	return nil
}

func (bp *BufferPool) Unpin(pageID types.PageId, dirty bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	f, ok := bp.frames[pageID]
	if !ok {
		panic(fmt.Sprintf("bufferpool: unpin of non-resident page %d", pageID))
	}
	if f.PinCount == 0 {
		panic(fmt.Sprintf("bufferpool: pin count underflow on page %d", pageID))
	}
	f.PinCount--
	if dirty {
		f.Dirty = true
	}
}

// MarkClean clears the dirty flag after the engine has written the
// page durably.
func (bp *BufferPool) MarkClean(pageID types.PageId) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if f, ok := bp.frames[pageID]; ok {
		f.Dirty = false
	}
}

// DirtyPages returns the resident dirty pages in ascending page id
// order.
func (bp *BufferPool) DirtyPages() []*page.Page {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	var out []*page.Page
	for _, f := range bp.frames {
		if f.Dirty {
			out = append(out, f.Page)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NextPageID reports the id the next Allocate will use.
func (bp *BufferPool) NextPageID() types.PageId {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.nextPageID
}

// PinCount reports the current pin count of a resident page, or 0.
func (bp *BufferPool) PinCount(pageID types.PageId) int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if f, ok := bp.frames[pageID]; ok {
		return f.PinCount
	}
	return 0
}

// Resident reports whether the page currently occupies a frame.
func (bp *BufferPool) Resident(pageID types.PageId) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	_, ok := bp.frames[pageID]
	return ok
}

package diskstore

import (
	"EmberDB/types"
	"fmt"
	"sort"
	"sync"

	"github.com/dsnet/golib/memfile"
)

/*
MemStore is the in-memory DiskStore used by tests. Each blob is a
memfile.File. Writes land in a pending set and only reach the durable
set at Flush, which lets tests simulate a crash: Crash discards
everything not yet flushed, exactly what a power cut does to an OS page
cache.

CorruptBlob overwrites part of a durable blob in place to simulate a
torn write.
*/

type MemStore struct {
	mu      sync.Mutex
	durable map[string]*memfile.File
	pending map[string][]byte
	deleted map[string]bool

	failWrite error // injected on next WriteBlob when set
	failFlush error // injected on next Flush when set
}

func NewMemStore() *MemStore {
	return &MemStore{
		durable: make(map[string]*memfile.File),
		pending: make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

func (ms *MemStore) ReadBlob(name string) ([]byte, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if data, ok := ms.pending[name]; ok {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
	if ms.deleted[name] {
		return nil, fmt.Errorf("read blob %s: %w", name, ErrNotFound)
	}
	f, ok := ms.durable[name]
	if !ok {
		return nil, fmt.Errorf("read blob %s: %w", name, ErrNotFound)
	}
	b := f.Bytes()
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (ms *MemStore) WriteBlob(name string, data []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.failWrite != nil {
		err := ms.failWrite
		ms.failWrite = nil
		return fmt.Errorf("write blob %s: %w", name, err)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	ms.pending[name] = buf
	delete(ms.deleted, name)
	return nil
}

func (ms *MemStore) DeleteBlob(name string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.pending, name)
	ms.deleted[name] = true
	return nil
}

func (ms *MemStore) Flush() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.failFlush != nil {
		err := ms.failFlush
		ms.failFlush = nil
		return fmt.Errorf("flush: %w", err)
	}
	for name := range ms.deleted {
		delete(ms.durable, name)
	}
	ms.deleted = make(map[string]bool)
	for name, data := range ms.pending {
		f, ok := ms.durable[name]
		if !ok {
			f = memfile.New(nil)
			ms.durable[name] = f
		}
		f.Truncate(int64(len(data)))
		f.WriteAt(data, 0)
	}
	ms.pending = make(map[string][]byte)
	return nil
}

func (ms *MemStore) PageIDs() ([]types.PageId, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	seen := make(map[types.PageId]bool)
	for name := range ms.durable {
		if ms.deleted[name] {
			continue
		}
		if id, ok := parsePageBlobName(name); ok {
			seen[id] = true
		}
	}
	for name := range ms.pending {
		if id, ok := parsePageBlobName(name); ok {
			seen[id] = true
		}
	}
	ids := make([]types.PageId, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (ms *MemStore) Close() error {
	return nil
}

// Crash discards all writes and deletes that were never flushed.
func (ms *MemStore) Crash() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.pending = make(map[string][]byte)
	ms.deleted = make(map[string]bool)
}

// CorruptBlob garbles the first n bytes of a durable blob in place.
func (ms *MemStore) CorruptBlob(name string, n int) bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	f, ok := ms.durable[name]
	if !ok {
		return false
	}
	b := f.Bytes()
	if n > len(b) {
		n = len(b)
	}
	junk := make([]byte, n)
	for i := range junk {
		junk[i] = 0xFF
	}
	f.WriteAt(junk, 0)
	return true
}

// FailNextWrite makes the next WriteBlob return err.
func (ms *MemStore) FailNextWrite(err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.failWrite = err
}

// FailNextFlush makes the next Flush return err.
func (ms *MemStore) FailNextFlush(err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.failFlush = err
}

package index

import (
	"EmberDB/types"

	"github.com/google/btree"
)

/*
MemIndex is the ordered in-memory alternative to the B+tree, backed by
google/btree. It honors the same interface and blob format, so the two
are interchangeable behind the engine.
*/

type MemIndex struct {
	tree *btree.BTreeG[Entry]
}

func entryLess(a, b Entry) bool {
	return a.RowID < b.RowID
}

func NewMemIndex() *MemIndex {
	return &MemIndex{tree: btree.NewG(8, entryLess)}
}

// LoadMemIndex rebuilds a MemIndex from a serialized index blob.
func LoadMemIndex(data []byte) (*MemIndex, error) {
	entries, err := decodeEntries(data)
	if err != nil {
		return nil, err
	}
	idx := NewMemIndex()
	for _, e := range entries {
		idx.tree.ReplaceOrInsert(e)
	}
	return idx, nil
}

func (m *MemIndex) Put(rowID types.RowId, pageID types.PageId) {
	m.tree.ReplaceOrInsert(Entry{RowID: rowID, PageID: pageID})
}

func (m *MemIndex) Get(rowID types.RowId) (types.PageId, bool) {
	e, ok := m.tree.Get(Entry{RowID: rowID})
	if !ok {
		return 0, false
	}
	return e.PageID, true
}

func (m *MemIndex) Delete(rowID types.RowId) bool {
	_, ok := m.tree.Delete(Entry{RowID: rowID})
	return ok
}

func (m *MemIndex) Range(lo, hi types.RowId) []Entry {
	var out []Entry
	if hi < lo {
		return out
	}
	m.tree.AscendGreaterOrEqual(Entry{RowID: lo}, func(e Entry) bool {
		if e.RowID > hi {
			return false
		}
		out = append(out, e)
		return true
	})
	return out
}

func (m *MemIndex) Len() int {
	return m.tree.Len()
}

func (m *MemIndex) Serialize() ([]byte, error) {
	entries := make([]Entry, 0, m.tree.Len())
	m.tree.Ascend(func(e Entry) bool {
		entries = append(entries, e)
		return true
	})
	return encodeEntries(entries)
}

package index

import (
	"EmberDB/types"
	"encoding/json"
	"fmt"
	"sort"
)

/*
RowIndex maps row ids to the page that holds the row. The engine keeps
exactly one, rebuilt from its serialized blob at startup and persisted
at checkpoint.

Both implementations share one serialized form, a sorted entry list, so
either can load a blob written by the other.
*/

type Entry struct {
	RowID  types.RowId  `json:"row_id"`
	PageID types.PageId `json:"page_id"`
}

type RowIndex interface {
	// Put maps rowID to pageID, replacing any existing mapping.
	Put(rowID types.RowId, pageID types.PageId)

	// Get returns the page holding rowID.
	Get(rowID types.RowId) (types.PageId, bool)

	// Delete removes the mapping. Reports whether it existed.
	Delete(rowID types.RowId) bool

	// Range returns all entries with lo <= row id <= hi in ascending
	// row id order.
	Range(lo, hi types.RowId) []Entry

	Len() int

	Serialize() ([]byte, error)
}

type dump struct {
	Entries []Entry `json:"entries"`
}

func encodeEntries(entries []Entry) ([]byte, error) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].RowID < entries[j].RowID })
	data, err := json.Marshal(dump{Entries: entries})
	if err != nil {
		return nil, fmt.Errorf("encode index: %w", err)
	}
	return data, nil
}

func decodeEntries(data []byte) ([]Entry, error) {
	var d dump
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return d.Entries, nil
}

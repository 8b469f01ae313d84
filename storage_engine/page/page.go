package page

import (
	"EmberDB/types"
	"encoding/json"
	"errors"
	"fmt"
)

/*
Page is the unit of disk IO and buffer pool residency. Rows live in an
ordered slice so the serialized form is deterministic; lookup is a linear
scan, which is fine at the small per-page capacities this engine runs with.

The page LSN records the redo LSN of the last mutation applied to the
page. Recovery compares it against each record's LSN to decide whether a
replay is needed.
*/

var ErrCorruptPage = errors.New("corrupt page")

type Page struct {
	ID   types.PageId `json:"page_id"`
	LSN  types.LSN    `json:"lsn"`
	Rows []types.Row  `json:"rows"`
}

func New(id types.PageId) *Page {
	return &Page{ID: id}
}

func (p *Page) NumRows() int {
	return len(p.Rows)
}

func (p *Page) Get(rowID types.RowId) (types.Row, bool) {
	for _, r := range p.Rows {
		if r.ID == rowID {
			return r, true
		}
	}
	return types.Row{}, false
}

// Put inserts the row, or overwrites in place when the id is already
// present. Replay depends on the overwrite behavior to stay idempotent.
func (p *Page) Put(row types.Row) {
	for i, r := range p.Rows {
		if r.ID == row.ID {
			p.Rows[i] = row
			return
		}
	}
	p.Rows = append(p.Rows, row)
}

// Delete removes the row if present. Reports whether a row was removed.
func (p *Page) Delete(rowID types.RowId) bool {
	for i, r := range p.Rows {
		if r.ID == rowID {
			p.Rows = append(p.Rows[:i], p.Rows[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Page) Clone() *Page {
	rows := make([]types.Row, len(p.Rows))
	for i, r := range p.Rows {
		rows[i] = r.Clone()
	}
	return &Page{ID: p.ID, LSN: p.LSN, Rows: rows}
}

func (p *Page) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode page %d: %w", p.ID, err)
	}
	return data, nil
}

func Decode(data []byte) (*Page, error) {
	var p Page
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPage, err)
	}
	return &p, nil
}

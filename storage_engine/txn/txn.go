package txn

import (
	"EmberDB/types"

	mapset "github.com/deckarep/golang-set/v2"
)

type TxnState int

const (
	TxnActive TxnState = iota
	TxnCommitted
	TxnAborted
)

func (s TxnState) String() string {
	switch s {
	case TxnActive:
		return "ACTIVE"
	case TxnCommitted:
		return "COMMITTED"
	case TxnAborted:
		return "ABORTED"
	}
	return "UNKNOWN"
}

// undoRecord remembers how to reverse one row operation. Undo is kept
// in memory only; a crash discards it together with the uncommitted
// changes it would have reversed.
type undoRecord struct {
	op     types.RecordType
	rowID  types.RowId
	pageID types.PageId
	before *types.Row // nil for inserts
}

type Transaction struct {
	ID    types.TxnID
	State TxnState

	undo  []undoRecord
	locks mapset.Set[types.RowId]

	// FirstLSN and LastLSN bound the redo records this transaction
	// wrote. FirstLSN feeds the checkpoint truncation floor.
	FirstLSN types.LSN
	LastLSN  types.LSN
}

func (t *Transaction) recordLSN(lsn types.LSN) {
	if t.FirstLSN == 0 {
		t.FirstLSN = lsn
	}
	t.LastLSN = lsn
}

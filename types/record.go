package types

import "encoding/json"

type RecordType byte

const (
	RecInsert RecordType = 1
	RecUpdate RecordType = 2
	RecDelete RecordType = 3
	RecCommit RecordType = 4
)

// RedoRecord is one entry in the redo log. DML records carry the full
// after-image of the row so replay is idempotent; commit records carry
// only the transaction id. Compensation marks records appended during
// rollback, which replay applies regardless of commit status.
type RedoRecord struct {
	LSN          LSN        `json:"lsn"`
	TxnID        TxnID      `json:"txn_id"`
	Type         RecordType `json:"type"`
	PageID       PageId     `json:"page_id,omitempty"`
	RowID        RowId      `json:"row_id,omitempty"`
	After        []byte     `json:"after,omitempty"`
	Compensation bool       `json:"compensation,omitempty"`
}

func (r *RedoRecord) Encode() []byte {
	data, _ := json.Marshal(r)
	return data
}

func DecodeRecord(data []byte) (*RedoRecord, error) {
	var rec RedoRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

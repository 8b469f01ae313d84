package types

// Identifiers shared across the storage engine.
type RowId int64
type PageId int64
type LSN uint64
type TxnID uint64

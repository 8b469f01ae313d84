package diskstore

import (
	"EmberDB/types"
	"errors"
)

/*
DiskStore is the persistence boundary of the engine. Everything durable
is a named blob: one blob per data page plus a small set of artifacts
(the redo log, the double-write buffer, the serialized row index).

Two implementations exist. FileStore maps blobs to files in a data
directory with atomic replace semantics. MemStore keeps blobs in memory
and exists for tests, where it doubles as a crash and torn-write
simulator.
*/

// Artifact blob names. Page blobs use PageBlobName.
const (
	RedoLogBlob = "redo_log"
	DWBBlob     = "dwb"
	IndexBlob   = "index"
)

var ErrNotFound = errors.New("blob not found")

type DiskStore interface {
	// ReadBlob returns the current contents of a named blob, or
	// ErrNotFound if it was never written.
	ReadBlob(name string) ([]byte, error)

	// WriteBlob atomically replaces the contents of a named blob.
	// The blob is fully written or untouched, never partial.
	WriteBlob(name string, data []byte) error

	// DeleteBlob removes a blob. Deleting a missing blob is not an
	// error.
	DeleteBlob(name string) error

	// Flush makes all completed writes durable.
	Flush() error

	// PageIDs enumerates the ids of all page blobs in the store.
	PageIDs() ([]types.PageId, error)

	Close() error
}

package storageengine

import (
	"EmberDB/storage_engine/diskstore"
	"EmberDB/types"
	"fmt"
)

/*
Checkpoint makes the buffered state durable and shrinks the redo log.

Order matters at every step. Dirty pages are pinned first so eviction
cannot race the batch. Redo is flushed before any page image leaves the
pool (write-ahead rule). Images go to the double-write buffer before
their home blobs (torn-write rule). Only after the home writes are
durable is the buffer cleared and the index persisted; only after all
of that does the log truncate.
*/

func (e *Engine) Checkpoint() error {
	e.ckptMu.Lock()
	defer e.ckptMu.Unlock()

	dirty := e.pool.DirtyPages()
	for _, p := range dirty {
		if err := e.pool.Pin(p.ID); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
	}
	unpin := func() {
		for _, p := range dirty {
			e.pool.Unpin(p.ID, false)
		}
	}

	if err := e.redo.FlushAll(); err != nil {
		unpin()
		return fmt.Errorf("checkpoint: %w", err)
	}

	images := make(map[types.PageId][]byte, len(dirty))
	for _, p := range dirty {
		img, err := p.Encode()
		if err != nil {
			unpin()
			return fmt.Errorf("checkpoint: %w", err)
		}
		images[p.ID] = img
	}

	if len(images) > 0 {
		if err := e.dwb.Stage(images); err != nil {
			unpin()
			return fmt.Errorf("checkpoint: %w", err)
		}
		for _, p := range dirty {
			if err := e.store.WriteBlob(diskstore.PageBlobName(p.ID), images[p.ID]); err != nil {
				unpin()
				return fmt.Errorf("checkpoint: write page %d: %w", p.ID, err)
			}
		}
		if err := e.store.Flush(); err != nil {
			unpin()
			return fmt.Errorf("checkpoint: %w", err)
		}
		if err := e.dwb.Clear(); err != nil {
			unpin()
			return fmt.Errorf("checkpoint: %w", err)
		}
	}

	idxBlob, err := e.idx.Serialize()
	if err != nil {
		unpin()
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := e.store.WriteBlob(diskstore.IndexBlob, idxBlob); err != nil {
		unpin()
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := e.store.Flush(); err != nil {
		unpin()
		return fmt.Errorf("checkpoint: %w", err)
	}

	for _, p := range dirty {
		e.pool.MarkClean(p.ID)
	}
	unpin()

	floor, ok := e.txns.MinActiveFirstLSN()
	if !ok {
		floor = e.redo.FlushedLSN() + 1
	}
	if err := e.redo.Truncate(floor); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}

	fmt.Printf("[Checkpoint] %d pages written, log truncated below lsn=%d\n", len(dirty), floor)
	return nil
}

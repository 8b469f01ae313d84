package dwb

import (
	"EmberDB/storage_engine/diskstore"
	"EmberDB/types"
	"encoding/json"
	"errors"
	"fmt"
)

/*
The double-write buffer protects in-place page writes from tearing.
Before any batch of dirty pages is written to its home blobs, the full
encoded images are staged into a single dwb blob and flushed. If a crash
tears a home write, recovery reads the intact image back out of the dwb
blob and repairs the page before redo replay runs.

The dwb blob itself is replaced atomically by the store, so it is never
torn; a crash during staging just leaves the previous (empty or stale)
buffer, and the home pages were not yet touched.
*/

type slot struct {
	PageID types.PageId `json:"page_id"`
	Image  []byte       `json:"image"`
}

type Buffer struct {
	store diskstore.DiskStore
}

func New(store diskstore.DiskStore) *Buffer {
	return &Buffer{store: store}
}

// Stage writes the encoded page images into the dwb blob and flushes
// them durable. Must complete before any of the images are written to
// their home blobs.
func (b *Buffer) Stage(images map[types.PageId][]byte) error {
	slots := make([]slot, 0, len(images))
	for id, img := range images {
		slots = append(slots, slot{PageID: id, Image: img})
	}
	data, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("encode dwb: %w", err)
	}
	if err := b.store.WriteBlob(diskstore.DWBBlob, data); err != nil {
		return fmt.Errorf("stage dwb: %w", err)
	}
	if err := b.store.Flush(); err != nil {
		return fmt.Errorf("stage dwb: %w", err)
	}
	return nil
}

// Clear empties the buffer after all staged pages have reached their
// home blobs durably.
func (b *Buffer) Clear() error {
	data, _ := json.Marshal([]slot{})
	if err := b.store.WriteBlob(diskstore.DWBBlob, data); err != nil {
		return fmt.Errorf("clear dwb: %w", err)
	}
	if err := b.store.Flush(); err != nil {
		return fmt.Errorf("clear dwb: %w", err)
	}
	return nil
}

// Load returns the staged images, keyed by page id. A missing blob
// means no write was in flight; recovery treats both the same.
func (b *Buffer) Load() (map[types.PageId][]byte, error) {
	data, err := b.store.ReadBlob(diskstore.DWBBlob)
	if errors.Is(err, diskstore.ErrNotFound) {
		return map[types.PageId][]byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load dwb: %w", err)
	}
	var slots []slot
	if err := json.Unmarshal(data, &slots); err != nil {
		return nil, fmt.Errorf("decode dwb: %w", err)
	}
	images := make(map[types.PageId][]byte, len(slots))
	for _, s := range slots {
		images[s.PageID] = s.Image
	}
	return images, nil
}

package bufferpool

import (
	"testing"

	"EmberDB/storage_engine/diskstore"
	"EmberDB/storage_engine/page"
	"EmberDB/types"

	"github.com/stretchr/testify/require"
)

func writePage(t *testing.T, ms *diskstore.MemStore, id types.PageId) {
	t.Helper()
	p := page.New(id)
	p.Put(types.Row{ID: types.RowId(id * 100), Data: []byte("seed")})
	data, err := p.Encode()
	require.NoError(t, err)
	require.NoError(t, ms.WriteBlob(diskstore.PageBlobName(id), data))
	require.NoError(t, ms.Flush())
}

func TestFetchPinsAndCaches(t *testing.T) {
	ms := diskstore.NewMemStore()
	writePage(t, ms, 1)
	bp, err := NewBufferPool(4, ms)
	require.NoError(t, err)

	p, err := bp.Fetch(1)
	require.NoError(t, err)
	require.EqualValues(t, 1, p.ID)
	require.Equal(t, 1, bp.PinCount(1))

	again, err := bp.Fetch(1)
	require.NoError(t, err)
	require.Same(t, p, again)
	require.Equal(t, 2, bp.PinCount(1))

	bp.Unpin(1, false)
	bp.Unpin(1, false)
	require.Equal(t, 0, bp.PinCount(1))
}

func TestFetchMissingPage(t *testing.T) {
	bp, err := NewBufferPool(4, diskstore.NewMemStore())
	require.NoError(t, err)
	_, err = bp.Fetch(9)
	require.ErrorIs(t, err, diskstore.ErrNotFound)
}

func TestFetchOrCreateMaterializesEmpty(t *testing.T) {
	bp, err := NewBufferPool(4, diskstore.NewMemStore())
	require.NoError(t, err)

	p, err := bp.FetchOrCreate(5)
	require.NoError(t, err)
	require.EqualValues(t, 5, p.ID)
	require.Equal(t, 0, p.NumRows())
	// Allocation resumes past materialized ids.
	require.EqualValues(t, 6, bp.NextPageID())
}

func TestAllocateAssignsFreshIDs(t *testing.T) {
	ms := diskstore.NewMemStore()
	writePage(t, ms, 3)
	bp, err := NewBufferPool(4, ms)
	require.NoError(t, err)

	p, err := bp.Allocate()
	require.NoError(t, err)
	require.EqualValues(t, 4, p.ID)
	require.Equal(t, 1, bp.PinCount(p.ID))
	require.Len(t, bp.DirtyPages(), 1)
}

func TestLRUEvictsColdestUnpinned(t *testing.T) {
	ms := diskstore.NewMemStore()
	for id := types.PageId(1); id <= 3; id++ {
		writePage(t, ms, id)
	}
	bp, err := NewBufferPool(2, ms)
	require.NoError(t, err)

	_, err = bp.Fetch(1)
	require.NoError(t, err)
	bp.Unpin(1, false)
	_, err = bp.Fetch(2)
	require.NoError(t, err)
	bp.Unpin(2, false)

	// Touch 1 so 2 is the LRU victim.
	_, err = bp.Fetch(1)
	require.NoError(t, err)
	bp.Unpin(1, false)

	_, err = bp.Fetch(3)
	require.NoError(t, err)
	require.True(t, bp.Resident(1))
	require.False(t, bp.Resident(2))
	require.True(t, bp.Resident(3))
}

func TestEvictionSkipsPinned(t *testing.T) {
	ms := diskstore.NewMemStore()
	for id := types.PageId(1); id <= 3; id++ {
		writePage(t, ms, id)
	}
	bp, err := NewBufferPool(2, ms)
	require.NoError(t, err)

	_, err = bp.Fetch(1) // stays pinned, LRU end
	require.NoError(t, err)
	_, err = bp.Fetch(2)
	require.NoError(t, err)
	bp.Unpin(2, false)

	_, err = bp.Fetch(3)
	require.NoError(t, err)
	require.True(t, bp.Resident(1))
	require.False(t, bp.Resident(2))
}

func TestAllPinnedExhaustsPool(t *testing.T) {
	ms := diskstore.NewMemStore()
	for id := types.PageId(1); id <= 3; id++ {
		writePage(t, ms, id)
	}
	bp, err := NewBufferPool(2, ms)
	require.NoError(t, err)

	_, err = bp.Fetch(1)
	require.NoError(t, err)
	_, err = bp.Fetch(2)
	require.NoError(t, err)

	_, err = bp.Fetch(3)
	require.ErrorIs(t, err, ErrBufferExhausted)

	// Releasing a pin makes the fetch succeed.
	bp.Unpin(2, false)
	_, err = bp.Fetch(3)
	require.NoError(t, err)
}

func TestDirtyEvictionRunsFlushPath(t *testing.T) {
	ms := diskstore.NewMemStore()
	for id := types.PageId(1); id <= 2; id++ {
		writePage(t, ms, id)
	}
	bp, err := NewBufferPool(1, ms)
	require.NoError(t, err)

	var flushed []types.PageId
	bp.SetFlushPath(func(p *page.Page) error {
		flushed = append(flushed, p.ID)
		data, err := p.Encode()
		if err != nil {
			return err
		}
		return ms.WriteBlob(diskstore.PageBlobName(p.ID), data)
	})

	p, err := bp.Fetch(1)
	require.NoError(t, err)
	p.Put(types.Row{ID: 7, Data: []byte("dirty")})
	bp.Unpin(1, true)

	_, err = bp.Fetch(2)
	require.NoError(t, err)
	require.Equal(t, []types.PageId{1}, flushed)

	// The flushed image carries the mutation.
	data, err := ms.ReadBlob(diskstore.PageBlobName(1))
	require.NoError(t, err)
	got, err := page.Decode(data)
	require.NoError(t, err)
	_, ok := got.Get(7)
	require.True(t, ok)
}

func TestDirtyPagesAscending(t *testing.T) {
	bp, err := NewBufferPool(4, diskstore.NewMemStore())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		p, err := bp.Allocate()
		require.NoError(t, err)
		bp.Unpin(p.ID, true)
	}
	dirty := bp.DirtyPages()
	require.Len(t, dirty, 3)
	for i := 1; i < len(dirty); i++ {
		require.Less(t, dirty[i-1].ID, dirty[i].ID)
	}
}

func TestUnpinUnderflowPanics(t *testing.T) {
	ms := diskstore.NewMemStore()
	writePage(t, ms, 1)
	bp, err := NewBufferPool(2, ms)
	require.NoError(t, err)

	_, err = bp.Fetch(1)
	require.NoError(t, err)
	bp.Unpin(1, false)
	require.Panics(t, func() { bp.Unpin(1, false) })
}

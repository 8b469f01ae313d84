package dwb

import (
	"testing"

	"EmberDB/storage_engine/diskstore"
	"EmberDB/types"

	"github.com/stretchr/testify/require"
)

func TestLoadWithoutStageIsEmpty(t *testing.T) {
	b := New(diskstore.NewMemStore())
	images, err := b.Load()
	require.NoError(t, err)
	require.Empty(t, images)
}

func TestStageLoadClear(t *testing.T) {
	ms := diskstore.NewMemStore()
	b := New(ms)

	staged := map[types.PageId][]byte{
		1: []byte("page one"),
		2: []byte("page two"),
	}
	require.NoError(t, b.Stage(staged))

	images, err := b.Load()
	require.NoError(t, err)
	require.Equal(t, staged, images)

	require.NoError(t, b.Clear())
	images, err = b.Load()
	require.NoError(t, err)
	require.Empty(t, images)
}

func TestStageSurvivesCrash(t *testing.T) {
	ms := diskstore.NewMemStore()
	b := New(ms)

	require.NoError(t, b.Stage(map[types.PageId][]byte{7: []byte("img")}))
	ms.Crash()

	images, err := b.Load()
	require.NoError(t, err)
	require.Equal(t, []byte("img"), images[7])
}

func TestUnflushedClearRevertsOnCrash(t *testing.T) {
	ms := diskstore.NewMemStore()
	b := New(ms)

	require.NoError(t, b.Stage(map[types.PageId][]byte{7: []byte("img")}))

	// A clear whose flush never happened must not stick. WriteBlob alone
	// leaves the durable blob untouched in the memstore.
	require.NoError(t, ms.WriteBlob(diskstore.DWBBlob, []byte("[]")))
	ms.Crash()

	images, err := b.Load()
	require.NoError(t, err)
	require.Len(t, images, 1)
}

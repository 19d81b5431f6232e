package blockstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/pagedfs/pkg/pagestore"
)

func newMetaStore(t *testing.T, dirCount int, capacity uint64) *PagedBlockMetaStore {
	t.Helper()
	dirs := make([]pagestore.Dir, dirCount)
	for i := range dirs {
		dir := pagestore.NewMemDir(i, capacity, BlockOf)
		t.Cleanup(func() { dir.Close() })
		dirs[i] = dir
	}
	return NewPagedBlockMetaStore(StoreDirsOf(dirs...))
}

func TestCreateTempBlockRejectsKnownIDs(t *testing.T) {
	s := newMetaStore(t, 1, 1<<20)

	_, err := s.CreateTempBlock(1, 0)
	require.NoError(t, err)
	assert.True(t, s.HasTempBlock(1))
	assert.False(t, s.HasBlock(1))

	_, err = s.CreateTempBlock(1, 0)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// a committed id is just as unavailable
	tm, _ := s.GetTempBlock(1)
	require.NoError(t, tm.Dir().PutTempPage(1, 0, []byte("abcd")))
	tm.addLength(4)
	_, err = s.Commit(1)
	require.NoError(t, err)
	_, err = s.CreateTempBlock(1, 0)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

// A block id is in at most one of {committed, temp} at any time.
func TestCommitMovesBetweenTables(t *testing.T) {
	s := newMetaStore(t, 1, 1<<20)

	tm, err := s.CreateTempBlock(5, 0)
	require.NoError(t, err)
	require.NoError(t, tm.Dir().PutTempPage(5, 0, make([]byte, 100)))
	tm.addLength(100)

	meta, err := s.Commit(5)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), meta.Length)
	assert.True(t, s.HasBlock(5))
	assert.False(t, s.HasTempBlock(5))

	// committed pages now live under the final file id
	pages := meta.Dir().BlockPages(5)
	require.Len(t, pages, 1)
	assert.Equal(t, FileIDOf(5, 100), pages[0].FileID)
}

func TestCommitPartiallyWrittenFails(t *testing.T) {
	s := newMetaStore(t, 1, 1<<20)

	tm, err := s.CreateTempBlock(5, 0)
	require.NoError(t, err)
	require.NoError(t, tm.Dir().PutTempPage(5, 0, make([]byte, 100)))
	// declared length disagrees with cached bytes
	tm.addLength(150)

	_, err = s.Commit(5)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.True(t, s.HasTempBlock(5), "failed commit leaves the temp block")
}

func TestCommitUnknownBlockFails(t *testing.T) {
	s := newMetaStore(t, 1, 1<<20)
	_, err := s.Commit(99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAbortDiscardsTempPages(t *testing.T) {
	s := newMetaStore(t, 1, 1<<20)

	tm, err := s.CreateTempBlock(5, 0)
	require.NoError(t, err)
	require.NoError(t, tm.Dir().PutTempPage(5, 0, make([]byte, 64)))
	assert.Equal(t, uint64(64), tm.Dir().TempBlockCachedBytes(5))

	require.NoError(t, s.AbortTempBlock(5))
	assert.False(t, s.HasTempBlock(5))
	assert.Equal(t, uint64(0), tm.Dir().TempBlockCachedBytes(5))
	assert.False(t, tm.Dir().HasPage(pagestore.PageId{FileID: TempFileIDOf(5), Index: 0}))
}

func TestRemoveBlockDeletesAllPages(t *testing.T) {
	s := newMetaStore(t, 1, 1<<20)

	tm, err := s.CreateTempBlock(5, 0)
	require.NoError(t, err)
	require.NoError(t, tm.Dir().PutTempPage(5, 0, make([]byte, 64)))
	require.NoError(t, tm.Dir().PutTempPage(5, 1, make([]byte, 32)))
	tm.addLength(96)
	meta, err := s.Commit(5)
	require.NoError(t, err)

	require.NoError(t, s.RemoveBlock(5))
	assert.False(t, s.HasBlock(5))
	for _, id := range []pagestore.PageId{
		{FileID: FileIDOf(5, 96), Index: 0},
		{FileID: FileIDOf(5, 96), Index: 1},
	} {
		assert.False(t, meta.dir.HasPage(id))
	}
}

func TestRemoveBlockErrors(t *testing.T) {
	s := newMetaStore(t, 1, 1<<20)

	assert.ErrorIs(t, s.RemoveBlock(1), ErrNotFound)

	_, err := s.CreateTempBlock(2, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, s.RemoveBlock(2), ErrInvalidState)
}

func TestRemovePage(t *testing.T) {
	s := newMetaStore(t, 1, 1<<20)

	tm, err := s.CreateTempBlock(5, 0)
	require.NoError(t, err)
	require.NoError(t, tm.Dir().PutTempPage(5, 0, make([]byte, 64)))
	tm.addLength(64)
	_, err = s.Commit(5)
	require.NoError(t, err)

	info, err := s.RemovePage(pagestore.PageId{FileID: FileIDOf(5, 64), Index: 0})
	require.NoError(t, err)
	assert.Equal(t, 0, info.DirIndex)

	_, err = s.RemovePage(pagestore.PageId{FileID: FileIDOf(5, 64), Index: 0})
	assert.ErrorIs(t, err, pagestore.ErrPageNotFound)
}

func TestAllocateSpreadsAndExhausts(t *testing.T) {
	s := newMetaStore(t, 2, 1000)

	dir, err := s.Allocate("blk-a", 800)
	require.NoError(t, err)
	require.NotNil(t, dir)

	// no directory fits a reservation beyond every capacity
	_, err = s.Allocate("blk-b", 1200)
	assert.ErrorIs(t, err, ErrResourceExhausted)
}

// Used bytes reported to the master equal the sum of committed block
// lengths.
func TestStoreMetaUsedBytes(t *testing.T) {
	s := newMetaStore(t, 2, 1<<20)

	for _, blockID := range []int64{1, 2} {
		tm, err := s.CreateTempBlock(blockID, 0)
		require.NoError(t, err)
		require.NoError(t, tm.Dir().PutTempPage(blockID, 0, make([]byte, 100)))
		tm.addLength(100)
		_, err = s.Commit(blockID)
		require.NoError(t, err)
	}
	// a temp block does not count
	_, err := s.CreateTempBlock(3, 50)
	require.NoError(t, err)

	meta := s.GetStoreMeta()
	assert.Equal(t, uint64(200), meta.UsedBytes)
	assert.Equal(t, 2, meta.DirCount)
	for _, dm := range meta.Dirs {
		assert.Nil(t, dm.Blocks, "non-full meta omits block lists")
	}

	full := s.GetStoreMetaFull()
	blocks := 0
	for _, dm := range full.Dirs {
		blocks += len(dm.Blocks)
	}
	assert.Equal(t, 2, blocks)
}

package pagestore

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBlockOf parses file ids of the form "blk-<id>" for pin checks.
func testBlockOf(fileID string) (int64, bool) {
	rest, ok := strings.CutPrefix(fileID, "blk-")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func newDirs(t *testing.T, capacity uint64) map[string]Dir {
	t.Helper()

	fsDir, err := NewFSDir(FSDirConfig{
		Path:     t.TempDir(),
		Index:    0,
		Capacity: capacity,
		BlockOf:  testBlockOf,
	})
	require.NoError(t, err)
	t.Cleanup(func() { fsDir.Close() })

	memDir := NewMemDir(0, capacity, testBlockOf)
	t.Cleanup(func() { memDir.Close() })

	return map[string]Dir{"fs": fsDir, "mem": memDir}
}

func TestDirWriteReadDelete(t *testing.T) {
	for name, dir := range newDirs(t, 1<<20) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, dir.Allocate("blk-1", 100))
			require.NoError(t, dir.WritePage("blk-1", 0, []byte("hello")))

			data, err := dir.ReadPage("blk-1", 0)
			require.NoError(t, err)
			assert.Equal(t, []byte("hello"), data)
			assert.Equal(t, uint64(5), dir.UsedBytes())
			assert.True(t, dir.HasPage(PageId{FileID: "blk-1", Index: 0}))

			require.NoError(t, dir.DeletePage(PageId{FileID: "blk-1", Index: 0}))
			assert.Equal(t, uint64(0), dir.UsedBytes())

			_, err = dir.ReadPage("blk-1", 0)
			assert.ErrorIs(t, err, ErrPageNotFound)
			assert.ErrorIs(t, dir.DeletePage(PageId{FileID: "blk-1", Index: 0}), ErrPageNotFound)
		})
	}
}

func TestDirAllocateCapacity(t *testing.T) {
	for name, dir := range newDirs(t, 1000) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, dir.Allocate("a", 600))
			// idempotent by file id: repeating a reservation does not stack
			require.NoError(t, dir.Allocate("a", 600))
			require.NoError(t, dir.Allocate("b", 400))
			assert.ErrorIs(t, dir.Allocate("c", 1), ErrCapacityExceeded)
		})
	}
}

func TestDirCommitRenamesPages(t *testing.T) {
	for name, dir := range newDirs(t, 1<<20) {
		t.Run(name, func(t *testing.T) {
			dir.PutTempFile("tmp-9")
			require.NoError(t, dir.WritePage("tmp-9", 0, []byte("page0")))
			require.NoError(t, dir.WritePage("tmp-9", 1, []byte("page1")))

			require.NoError(t, dir.Commit("tmp-9", "blk-9"))

			data, err := dir.ReadPage("blk-9", 1)
			require.NoError(t, err)
			assert.Equal(t, []byte("page1"), data)

			_, err = dir.ReadPage("tmp-9", 0)
			assert.ErrorIs(t, err, ErrPageNotFound)
			assert.False(t, dir.HasTempFile("tmp-9"))

			// committing again fails, the temp file is gone
			assert.ErrorIs(t, dir.Commit("tmp-9", "blk-9"), ErrTempFileNotFound)
		})
	}
}

func TestDirAbortDropsPagesAndReservation(t *testing.T) {
	for name, dir := range newDirs(t, 1000) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, dir.Allocate("tmp-3", 800))
			dir.PutTempFile("tmp-3")
			require.NoError(t, dir.WritePage("tmp-3", 0, make([]byte, 500)))

			require.NoError(t, dir.Abort("tmp-3"))
			assert.Equal(t, uint64(0), dir.UsedBytes())

			// the full capacity is available again
			require.NoError(t, dir.Allocate("x", 1000))
		})
	}
}

func TestLRUEvictorOrderAndPinning(t *testing.T) {
	e := NewLRUEvictor(testBlockOf)

	p0 := PageId{FileID: "blk-1", Index: 0}
	p1 := PageId{FileID: "blk-2", Index: 0}
	p2 := PageId{FileID: "blk-3", Index: 0}
	e.UpdateOnPut(p0)
	e.UpdateOnPut(p1)
	e.UpdateOnPut(p2)

	// access p0 so p1 becomes the LRU victim
	e.UpdateOnGet(p0)
	victim, ok := e.Evict()
	require.True(t, ok)
	assert.Equal(t, p1, victim)

	// pinning block 2 shields its pages
	assert.True(t, e.AddPinnedBlock(2))
	assert.False(t, e.AddPinnedBlock(2), "second pin reports already pinned")
	victim, ok = e.Evict()
	require.True(t, ok)
	assert.Equal(t, p2, victim)

	// everything pinned: nothing evictable
	e.AddPinnedBlock(1)
	e.AddPinnedBlock(3)
	_, ok = e.Evict()
	assert.False(t, ok)

	e.RemovePinnedBlock(2)
	victim, ok = e.Evict()
	require.True(t, ok)
	assert.Equal(t, p1, victim)

	// only pages of pinned blocks remain once p1 is deleted
	e.UpdateOnDelete(p1)
	_, ok = e.Evict()
	assert.False(t, ok)
}

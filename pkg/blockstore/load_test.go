package blockstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFilesCachesAll(t *testing.T) {
	f := newStoreFixture(t, Options{})
	a := f.writeUfsFile(t, "a.dat", patternBytes(5000))
	b := f.writeUfsFile(t, "b.dat", patternBytes(100))

	failures := f.store.LoadFiles(context.Background(), "job-1", []LoadFileSpec{
		{Path: "/a.dat", UfsPath: a, Length: 5000},
		{Path: "/b.dat", UfsPath: b, Length: 100},
	})
	assert.Empty(t, failures)
	assert.True(t, f.store.HasBlockMeta(BlockIDForPath("/a.dat")))
	assert.True(t, f.store.HasBlockMeta(BlockIDForPath("/b.dat")))
	assert.Len(t, f.master.committed(), 2)
}

func TestLoadFilesAlreadyCachedIsANoop(t *testing.T) {
	f := newStoreFixture(t, Options{})
	a := f.writeUfsFile(t, "a.dat", patternBytes(64))
	spec := []LoadFileSpec{{Path: "/a.dat", UfsPath: a, Length: 64}}

	require.Empty(t, f.store.LoadFiles(context.Background(), "job-1", spec))
	require.Empty(t, f.store.LoadFiles(context.Background(), "job-1", spec))
	assert.Len(t, f.master.committed(), 1, "second load must not re-report")
}

func TestLoadFilesReportsMissingFile(t *testing.T) {
	f := newStoreFixture(t, Options{})

	failures := f.store.LoadFiles(context.Background(), "job-1", []LoadFileSpec{
		{Path: "/gone.dat", UfsPath: "gone.dat", Length: 128},
	})
	require.Len(t, failures, 1)
	assert.Equal(t, "/gone.dat", failures[0].File.Path)
	assert.NotEmpty(t, failures[0].Message)
	assert.NotZero(t, failures[0].Code)
}

func TestLoadFilesCancelledContext(t *testing.T) {
	f := newStoreFixture(t, Options{})
	a := f.writeUfsFile(t, "a.dat", patternBytes(64))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	failures := f.store.LoadFiles(ctx, "job-1", []LoadFileSpec{
		{Path: "/a.dat", UfsPath: a, Length: 64},
	})
	require.Len(t, failures, 1)
	assert.True(t, failures[0].Retryable, "cancellation is retryable")
}

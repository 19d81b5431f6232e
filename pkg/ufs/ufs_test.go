package ufs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalFixture(t *testing.T) (*LocalUFS, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "data", "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "a.txt"), []byte("aaaa"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "sub", "b.txt"), []byte("bb"), 0644))
	return NewLocalUFS(root), root
}

func TestLocalGetStatus(t *testing.T) {
	u, _ := newLocalFixture(t)
	ctx := context.Background()

	st, err := u.GetStatus(ctx, "data/a.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), st.Length)
	assert.False(t, st.IsDir)

	_, err = u.GetStatus(ctx, "data/missing.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestLocalListStatusRecursive(t *testing.T) {
	u, _ := newLocalFixture(t)

	statuses, err := u.ListStatus(context.Background(), "data", true)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	paths := []string{statuses[0].Path, statuses[1].Path}
	assert.Contains(t, paths, "data/a.txt")
	assert.Contains(t, paths, "data/sub/b.txt")
}

func TestLocalListStatusShallow(t *testing.T) {
	u, _ := newLocalFixture(t)

	statuses, err := u.ListStatus(context.Background(), "data", false)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "data/a.txt", statuses[0].Path)
}

func TestLocalOpenReadAt(t *testing.T) {
	u, _ := newLocalFixture(t)

	r, err := u.Open(context.Background(), "data/a.txt")
	require.NoError(t, err)
	defer r.Close()

	buf := make([]byte, 2)
	n, err := r.ReadAt(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "aa", string(buf))
}

func TestInStreamCacheReuse(t *testing.T) {
	u, _ := newLocalFixture(t)
	cache := NewInStreamCache(u, time.Minute)
	defer cache.Close()

	ctx := context.Background()
	r1, err := cache.Acquire(ctx, "data/a.txt")
	require.NoError(t, err)
	cache.Release("data/a.txt", r1)

	r2, err := cache.Acquire(ctx, "data/a.txt")
	require.NoError(t, err)
	assert.Same(t, r1, r2, "idle reader is reused")
	cache.Release("data/a.txt", r2)
}

func TestInStreamCacheCloseClosesIdle(t *testing.T) {
	u, _ := newLocalFixture(t)
	cache := NewInStreamCache(u, time.Minute)

	r, err := cache.Acquire(context.Background(), "data/a.txt")
	require.NoError(t, err)
	cache.Release("data/a.txt", r)

	require.NoError(t, cache.Close())

	// the underlying file is closed: reads fail
	_, err = r.ReadAt(make([]byte, 1), 0)
	assert.Error(t, err)
}

func TestBlockReadOptionsValid(t *testing.T) {
	assert.False(t, BlockReadOptions{}.Valid())
	assert.False(t, BlockReadOptions{UfsPath: "/x"}.Valid())
	assert.True(t, BlockReadOptions{UfsPath: "/x", BlockSize: 1}.Valid())
}

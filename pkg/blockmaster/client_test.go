package blockmaster

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	commits atomic.Int64
	closed  atomic.Bool
}

func (c *fakeClient) CommitBlock(ctx context.Context, workerID, usedBytes uint64, tier, medium string, blockID int64, length uint64) error {
	c.commits.Add(1)
	return nil
}

func (c *fakeClient) Close() error {
	c.closed.Store(true)
	return nil
}

func TestPoolAcquireRelease(t *testing.T) {
	client := &fakeClient{}
	pool, err := NewPool(1, func() (Client, error) { return client, nil })
	require.NoError(t, err)
	defer pool.Close()

	ctx := context.Background()
	c, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, Client(client), c)

	// the only client is out: a second acquire blocks until release
	acquired := make(chan Client)
	go func() {
		c2, err := pool.Acquire(ctx)
		if err == nil {
			acquired <- c2
		}
	}()

	select {
	case <-acquired:
		t.Fatal("acquire should block while the client is out")
	case <-time.After(20 * time.Millisecond):
	}

	pool.Release(c)
	select {
	case c2 := <-acquired:
		assert.Same(t, Client(client), c2)
	case <-time.After(time.Second):
		t.Fatal("acquire did not observe the release")
	}
}

func TestPoolAcquireContextCancelled(t *testing.T) {
	pool, err := NewPool(1, func() (Client, error) { return &fakeClient{}, nil })
	require.NoError(t, err)
	defer pool.Close()

	c, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolCloseClosesClients(t *testing.T) {
	client := &fakeClient{}
	pool, err := NewPool(1, func() (Client, error) { return client, nil })
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	assert.True(t, client.closed.Load())

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

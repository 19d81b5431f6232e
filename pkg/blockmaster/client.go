// Package blockmaster defines the worker-side client for the block
// master and a fixed-size pool of such clients. The master tracks which
// worker holds which block; the worker reports every local commit.
package blockmaster

import (
	"context"
	"errors"
)

// ErrPoolClosed indicates the client pool has been shut down.
var ErrPoolClosed = errors.New("block master client pool closed")

// Client talks to the block master. CommitBlock is idempotent on the
// master side, so the worker may retry a failed report.
type Client interface {
	// CommitBlock reports that this worker now holds blockID with the
	// given length, along with the worker's total used bytes and the
	// tier/medium labels the block landed on.
	CommitBlock(ctx context.Context, workerID uint64, usedBytes uint64, tier, medium string, blockID int64, length uint64) error

	// Close releases the client's connection.
	Close() error
}

// Factory creates master clients for the pool.
type Factory func() (Client, error)

// Pool is a fixed-size pool of master clients. Acquire blocks until a
// client is free; Release returns it. Grounds the commit path's
// acquire/use/release pattern without a connection per commit.
type Pool struct {
	clients chan Client
	size    int
	closed  chan struct{}
}

// NewPool creates a pool of size clients built by factory.
func NewPool(size int, factory Factory) (*Pool, error) {
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		clients: make(chan Client, size),
		size:    size,
		closed:  make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		c, err := factory()
		if err != nil {
			p.Close()
			return nil, err
		}
		p.clients <- c
	}
	return p, nil
}

// Acquire takes a client from the pool, blocking until one is free or
// the context is done.
func (p *Pool) Acquire(ctx context.Context) (Client, error) {
	select {
	case c := <-p.clients:
		return c, nil
	case <-p.closed:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a client to the pool.
func (p *Pool) Release(c Client) {
	select {
	case p.clients <- c:
	case <-p.closed:
		c.Close()
	}
}

// Close shuts the pool down and closes every pooled client.
func (p *Pool) Close() error {
	select {
	case <-p.closed:
		return nil
	default:
	}
	close(p.closed)

	var firstErr error
	for {
		select {
		case c := <-p.clients:
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		default:
			return firstErr
		}
	}
}

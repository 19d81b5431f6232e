package ufs

import (
	"context"
	"sync"
	"time"
)

// DefaultStreamTTL is how long an unused cached reader stays open.
const DefaultStreamTTL = 5 * time.Minute

// InStreamCache caches open positioned readers keyed by UFS path so that
// repeated block reads against the same file reuse one connection
// instead of reopening it per page span.
//
// Acquire hands out exclusive use of a cached reader; Release returns it
// for reuse. Readers idle past the TTL are closed by a background sweep.
type InStreamCache struct {
	mu      sync.Mutex
	ufs     UFS
	ttl     time.Duration
	idle    map[string][]*cachedStream
	closed  bool
	stopper chan struct{}
}

type cachedStream struct {
	reader   PositionReader
	lastUsed time.Time
}

// NewInStreamCache creates a stream cache over the given UFS. A zero ttl
// uses DefaultStreamTTL.
func NewInStreamCache(u UFS, ttl time.Duration) *InStreamCache {
	if ttl <= 0 {
		ttl = DefaultStreamTTL
	}
	c := &InStreamCache{
		ufs:     u,
		ttl:     ttl,
		idle:    make(map[string][]*cachedStream),
		stopper: make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Acquire returns a positioned reader for path, reusing an idle cached
// one when available. The caller owns the reader until Release.
func (c *InStreamCache) Acquire(ctx context.Context, path string) (PositionReader, error) {
	c.mu.Lock()
	if streams := c.idle[path]; len(streams) > 0 {
		s := streams[len(streams)-1]
		c.idle[path] = streams[:len(streams)-1]
		c.mu.Unlock()
		return s.reader, nil
	}
	c.mu.Unlock()

	return c.ufs.Open(ctx, path)
}

// Release returns a reader for reuse by later Acquire calls. After the
// cache is closed, released readers are closed immediately.
func (c *InStreamCache) Release(path string, r PositionReader) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		r.Close()
		return
	}
	c.idle[path] = append(c.idle[path], &cachedStream{reader: r, lastUsed: time.Now()})
	c.mu.Unlock()
}

// sweep closes idle readers past the TTL.
func (c *InStreamCache) sweep() {
	ticker := time.NewTicker(c.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopper:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for path, streams := range c.idle {
				kept := streams[:0]
				for _, s := range streams {
					if now.Sub(s.lastUsed) > c.ttl {
						s.reader.Close()
					} else {
						kept = append(kept, s)
					}
				}
				if len(kept) == 0 {
					delete(c.idle, path)
				} else {
					c.idle[path] = kept
				}
			}
			c.mu.Unlock()
		}
	}
}

// Close closes every idle reader and stops the sweep.
func (c *InStreamCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.stopper)
	for _, streams := range c.idle {
		for _, s := range streams {
			s.reader.Close()
		}
	}
	c.idle = make(map[string][]*cachedStream)
	return nil
}

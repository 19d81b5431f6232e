package blockstore

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/marmos91/pagedfs/internal/logger"
	"github.com/marmos91/pagedfs/pkg/metrics"
	"github.com/marmos91/pagedfs/pkg/pagestore"
)

// BlockReader streams the bytes of one block. Readers are
// single-consumer: they are not safe for concurrent use. Close is
// idempotent.
type BlockReader interface {
	io.Reader
	io.Closer
}

// delegatingReader wraps a reader with a release hook that runs exactly
// once on Close, on every exit path, even when the inner close fails.
// The commit-to-master and unpin work of the cache-miss read path hangs
// off this hook.
type delegatingReader struct {
	inner   BlockReader
	onClose func()
	closed  atomic.Bool
}

func newDelegatingReader(inner BlockReader, onClose func()) *delegatingReader {
	return &delegatingReader{inner: inner, onClose: onClose}
}

func (r *delegatingReader) Read(p []byte) (int, error) {
	return r.inner.Read(p)
}

func (r *delegatingReader) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := r.inner.Close()
	if r.onClose != nil {
		r.onClose()
	}
	return err
}

// PagedBlockReader reads a block from the local page store, filling
// missed pages from the UFS when a UFS reader is available. Complete
// pages fetched on a miss are written back into the page store before
// their bytes are returned.
type PagedBlockReader struct {
	meta      *BlockMeta
	pageSize  uint64
	pos       uint64
	ufsReader *PagedUfsBlockReader
	closed    bool
}

// NewPagedBlockReader creates a reader over a registered block starting
// at offset. ufsReader may be nil when the block cannot be read from
// the UFS; page misses then surface ErrNotFound.
func NewPagedBlockReader(meta *BlockMeta, offset uint64, pageSize uint64, ufsReader *PagedUfsBlockReader) *PagedBlockReader {
	return &PagedBlockReader{
		meta:      meta,
		pageSize:  pageSize,
		pos:       offset,
		ufsReader: ufsReader,
	}
}

// Read fills p with the next bytes of the block.
func (r *PagedBlockReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, errors.New("read on closed block reader")
	}
	if r.pos >= r.meta.Length {
		return 0, io.EOF
	}

	total := 0
	for len(p) > 0 && r.pos < r.meta.Length {
		pageIdx := uint32(r.pos / r.pageSize)
		pageOff := r.pos % r.pageSize

		page, err := r.readPage(pageIdx)
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return 0, err
		}
		if pageOff >= uint64(len(page)) {
			return total, newBlockError("read", r.meta.BlockID, ErrInternal)
		}

		n := copy(p, page[pageOff:])
		p = p[n:]
		r.pos += uint64(n)
		total += n
	}
	return total, nil
}

// readPage returns the full content of one page, serving from the page
// store and falling back to the UFS on a miss.
func (r *PagedBlockReader) readPage(index uint32) ([]byte, error) {
	dir := r.meta.Dir()
	page, err := dir.ReadPage(r.meta.FileID(), index)
	if err == nil {
		metrics.PageRead("hit")
		return page, nil
	}
	metrics.PageRead("miss")
	if !errors.Is(err, pagestore.ErrPageNotFound) {
		return nil, newBlockError("read", r.meta.BlockID, err)
	}
	if r.ufsReader == nil {
		return nil, newBlockError("read", r.meta.BlockID, ErrNotFound)
	}

	page, err = r.ufsReader.ReadPage(index)
	if err != nil {
		return nil, err
	}
	// populate the cache; a failed put degrades to a plain UFS read
	if putErr := dir.PutPage(r.meta.BlockID, r.meta.FileID(), index, page); putErr != nil {
		logger.Warn("failed to cache page fetched from ufs",
			logger.KeyBlockID, r.meta.BlockID,
			logger.KeyPageIndex, index,
			logger.KeyError, putErr.Error())
	}
	return page, nil
}

// Close marks the reader closed. It does not release locks or pins;
// those belong to the delegating close hook.
func (r *PagedBlockReader) Close() error {
	r.closed = true
	return nil
}

package blockstore

import (
	"context"
	"errors"
	"io"

	"github.com/marmos91/pagedfs/pkg/ufs"
)

// PagedUfsBlockReader reads one block's byte range out of a UFS file
// through the shared input stream cache. It serves both as the fallback
// of PagedBlockReader (page-granular fetches) and as a standalone
// UFS-only reader when caching is disabled.
type PagedUfsBlockReader struct {
	streams  *ufs.InStreamCache
	meta     *BlockMeta
	opts     ufs.BlockReadOptions
	pageSize uint64
	pos      uint64
	closed   bool
}

// NewPagedUfsBlockReader creates a UFS block reader starting at offset
// within the block.
func NewPagedUfsBlockReader(streams *ufs.InStreamCache, meta *BlockMeta, offset uint64, opts ufs.BlockReadOptions, pageSize uint64) *PagedUfsBlockReader {
	return &PagedUfsBlockReader{
		streams:  streams,
		meta:     meta,
		opts:     opts,
		pageSize: pageSize,
		pos:      offset,
	}
}

// ReadAt reads into p at the given offset within the block, translating
// it to the block's position inside the UFS file.
func (r *PagedUfsBlockReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	blockLen := r.opts.BlockSize
	if uint64(off) >= blockLen {
		return 0, io.EOF
	}
	if max := blockLen - uint64(off); uint64(len(p)) > max {
		p = p[:max]
	}

	stream, err := r.streams.Acquire(context.Background(), r.opts.UfsPath)
	if err != nil {
		return 0, newBlockError("ufs-read", r.meta.BlockID, err)
	}
	defer r.streams.Release(r.opts.UfsPath, stream)

	n, err := stream.ReadAt(p, int64(r.opts.OffsetInFile)+off)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// ReadPage returns the complete content of one page of the block; the
// last page may be short.
func (r *PagedUfsBlockReader) ReadPage(index uint32) ([]byte, error) {
	start := uint64(index) * r.pageSize
	if start >= r.opts.BlockSize {
		return nil, newBlockError("ufs-read", r.meta.BlockID, ErrNotFound)
	}
	size := r.pageSize
	if start+size > r.opts.BlockSize {
		size = r.opts.BlockSize - start
	}

	page := make([]byte, size)
	n, err := r.ReadAt(page, int64(start))
	if err != nil && err != io.EOF {
		return nil, err
	}
	if uint64(n) < size {
		return nil, newBlockError("ufs-read", r.meta.BlockID, ErrInternal)
	}
	return page, nil
}

// Read streams the block sequentially from the reader's position.
func (r *PagedUfsBlockReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, errors.New("read on closed ufs block reader")
	}
	if r.pos >= r.opts.BlockSize {
		return 0, io.EOF
	}
	n, err := r.ReadAt(p, int64(r.pos))
	r.pos += uint64(n)
	return n, err
}

// Close marks the reader closed. Cached UFS streams stay open for reuse
// by later readers.
func (r *PagedUfsBlockReader) Close() error {
	r.closed = true
	return nil
}

package blockstore

import (
	"errors"
	"io"

	"github.com/marmos91/pagedfs/pkg/metrics"
)

// BlockWriter accepts the bytes of one block being written.
type BlockWriter interface {
	io.Writer
	io.Closer

	// BytesWritten returns the number of bytes accepted so far.
	BytesWritten() uint64
}

// PagedBlockWriter lands sequential writes as pages of a temp block.
// Writes must arrive in page-sized chunks; only the final page may be
// short, and nothing may follow it. The temp-bytes counter advances
// atomically with every page.
type PagedBlockWriter struct {
	meta     *TempBlockMeta
	pageSize uint64
	pos      uint64
	closed   bool
}

// NewPagedBlockWriter creates a writer targeting the temp pages of the
// given block.
func NewPagedBlockWriter(meta *TempBlockMeta, pageSize uint64) *PagedBlockWriter {
	return &PagedBlockWriter{meta: meta, pageSize: pageSize}
}

// Write appends p to the block. A write after a short page is an
// invalid state, because pages between the start and the final short
// page must all be full.
func (w *PagedBlockWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("write on closed block writer")
	}

	written := 0
	for len(p) > 0 {
		if w.pos%w.pageSize != 0 {
			return written, newBlockError("write", w.meta.BlockID, ErrInvalidState)
		}
		index := uint32(w.pos / w.pageSize)
		chunk := w.pageSize
		if uint64(len(p)) < chunk {
			chunk = uint64(len(p))
		}
		if err := w.meta.Dir().PutTempPage(w.meta.BlockID, index, p[:chunk]); err != nil {
			return written, newBlockError("write", w.meta.BlockID, err)
		}
		metrics.PageWritten()
		w.meta.addLength(chunk)
		w.pos += chunk
		written += int(chunk)
		p = p[chunk:]
	}
	return written, nil
}

// BytesWritten returns the number of bytes accepted so far.
func (w *PagedBlockWriter) BytesWritten() uint64 { return w.pos }

// Close marks the writer closed. The temp block stays pending until
// Commit or Abort.
func (w *PagedBlockWriter) Close() error {
	w.closed = true
	return nil
}

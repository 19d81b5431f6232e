// Package pagestore provides fixed-size page storage for the paged block
// store. Pages are opaque byte slices addressed by (file id, page index);
// each storage directory reserves capacity per file id and exposes an
// evictor that honors a pinned set.
package pagestore

import (
	"errors"
	"fmt"
)

// Standard page store errors.
var (
	// ErrPageNotFound indicates the requested page does not exist.
	ErrPageNotFound = errors.New("page not found")

	// ErrCapacityExceeded indicates a reservation does not fit in the
	// directory. This is transient; it may succeed after eviction.
	ErrCapacityExceeded = errors.New("directory capacity exceeded")

	// ErrTempFileNotFound indicates a temp file id is not registered.
	ErrTempFileNotFound = errors.New("temp file not found")

	// ErrStoreClosed indicates the directory has been closed.
	ErrStoreClosed = errors.New("page store closed")
)

// PageId identifies a single page: the id of the file it belongs to and
// its zero-based index within that file.
type PageId struct {
	FileID string
	Index  uint32
}

func (p PageId) String() string {
	return fmt.Sprintf("%s/%d", p.FileID, p.Index)
}

// PageInfo describes a stored page.
type PageInfo struct {
	Id       PageId
	Size     uint64
	DirIndex int
}

// Dir is a single page storage directory. Implementations store raw page
// bytes addressed by page id, keep a capacity reservation ledger keyed by
// file id, and own an Evictor.
//
// Pages of a pending (temp) file live under the temp file id until Commit
// renames them to the final file id in one atomic directory operation.
type Dir interface {
	// DirIndex returns the stable index of this directory.
	DirIndex() int

	// Path returns the root path of the directory, or a descriptive
	// label for non-filesystem implementations.
	Path() string

	// Capacity returns the configured capacity in bytes.
	Capacity() uint64

	// UsedBytes returns the bytes consumed by stored pages.
	UsedBytes() uint64

	// Allocate reserves bytes for the given file id. Idempotent by file
	// id: re-allocating an already reserved file id adjusts the
	// reservation instead of stacking a second one. Returns
	// ErrCapacityExceeded if the reservation does not fit.
	Allocate(fileID string, bytes uint64) error

	// PutTempFile registers a pending file id.
	PutTempFile(fileID string)

	// HasTempFile reports whether the file id is registered as pending.
	HasTempFile(fileID string) bool

	// WritePage stores a page. Overwrites any existing page with the
	// same id.
	WritePage(fileID string, index uint32, data []byte) error

	// ReadPage returns the stored bytes of a page, or ErrPageNotFound.
	ReadPage(fileID string, index uint32) ([]byte, error)

	// HasPage reports whether the page exists.
	HasPage(id PageId) bool

	// Commit atomically renames every page of tempFileID to
	// finalFileID and drops the temp registration.
	Commit(tempFileID, finalFileID string) error

	// Abort deletes every page of tempFileID and drops the temp
	// registration.
	Abort(tempFileID string) error

	// DeletePage removes a single page, or returns ErrPageNotFound.
	DeletePage(id PageId) error

	// Evictor returns the eviction policy of this directory.
	Evictor() Evictor

	// Close releases resources held by the directory.
	Close() error
}

package pagestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FSDir is a filesystem-backed page store directory. Every file id maps
// to a subdirectory of the root; each page is stored as
// <root>/<fileID>/<index>.page. Commit renames the file id directory,
// which is atomic within one filesystem.
type FSDir struct {
	mu        sync.RWMutex
	root      string
	index     int
	ledger    *ledger
	pageSizes map[PageId]uint64
	tempFiles map[string]struct{}
	evictor   Evictor
	closed    bool
}

// FSDirConfig holds configuration for a filesystem page store directory.
type FSDirConfig struct {
	// Path is the root directory for page storage.
	Path string

	// Index is the stable directory index.
	Index int

	// Capacity is the directory capacity in bytes.
	Capacity uint64

	// BlockOf maps page file ids to block ids for the evictor's pin
	// checks. Optional.
	BlockOf BlockOfFunc
}

// NewFSDir creates a filesystem page store directory, creating the root
// path if needed.
func NewFSDir(cfg FSDirConfig) (*FSDir, error) {
	if cfg.Path == "" {
		return nil, errors.New("page store dir path is required")
	}
	if cfg.Capacity == 0 {
		return nil, errors.New("page store dir capacity is required")
	}
	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("creating page store dir: %w", err)
	}
	return &FSDir{
		root:      cfg.Path,
		index:     cfg.Index,
		ledger:    newLedger(cfg.Capacity),
		pageSizes: make(map[PageId]uint64),
		tempFiles: make(map[string]struct{}),
		evictor:   NewLRUEvictor(cfg.BlockOf),
	}, nil
}

// DirIndex returns the stable index of this directory.
func (d *FSDir) DirIndex() int { return d.index }

// Path returns the root path.
func (d *FSDir) Path() string { return d.root }

// Capacity returns the configured capacity in bytes.
func (d *FSDir) Capacity() uint64 { return d.ledger.capacity }

// UsedBytes returns the bytes consumed by stored pages.
func (d *FSDir) UsedBytes() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ledger.used
}

// Evictor returns the eviction policy of this directory.
func (d *FSDir) Evictor() Evictor { return d.evictor }

func (d *FSDir) fileDir(fileID string) string {
	return filepath.Join(d.root, fileID)
}

func (d *FSDir) pagePath(fileID string, index uint32) string {
	return filepath.Join(d.root, fileID, fmt.Sprintf("%d.page", index))
}

// Allocate reserves bytes for the file id.
func (d *FSDir) Allocate(fileID string, bytes uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrStoreClosed
	}
	return d.ledger.reserve(fileID, bytes)
}

// PutTempFile registers a pending file id.
func (d *FSDir) PutTempFile(fileID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tempFiles[fileID] = struct{}{}
}

// HasTempFile reports whether the file id is registered as pending.
func (d *FSDir) HasTempFile(fileID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.tempFiles[fileID]
	return ok
}

// WritePage stores a page, overwriting any previous content. The page is
// written to a temporary file and renamed into place so concurrent
// readers never observe a torn page.
func (d *FSDir) WritePage(fileID string, index uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrStoreClosed
	}

	path := d.pagePath(fileID, index)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	id := PageId{FileID: fileID, Index: index}
	if prev, ok := d.pageSizes[id]; ok {
		d.ledger.release(prev)
	}
	d.pageSizes[id] = uint64(len(data))
	d.ledger.consume(fileID, uint64(len(data)))
	d.evictor.UpdateOnPut(id)
	return nil
}

// ReadPage returns the stored bytes of a page.
func (d *FSDir) ReadPage(fileID string, index uint32) ([]byte, error) {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	id := PageId{FileID: fileID, Index: index}
	_, ok := d.pageSizes[id]
	d.mu.RUnlock()
	if !ok {
		return nil, ErrPageNotFound
	}

	data, err := os.ReadFile(d.pagePath(fileID, index))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrPageNotFound
		}
		return nil, err
	}
	d.evictor.UpdateOnGet(id)
	return data, nil
}

// HasPage reports whether the page exists.
func (d *FSDir) HasPage(id PageId) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.pageSizes[id]
	return ok
}

// Commit atomically renames every page of tempFileID to finalFileID.
func (d *FSDir) Commit(tempFileID, finalFileID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrStoreClosed
	}
	if _, ok := d.tempFiles[tempFileID]; !ok {
		return ErrTempFileNotFound
	}

	if err := os.Rename(d.fileDir(tempFileID), d.fileDir(finalFileID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// zero-length block, no pages were ever written
			if mkErr := os.MkdirAll(d.fileDir(finalFileID), 0755); mkErr != nil {
				return mkErr
			}
		} else {
			return err
		}
	}

	for id, size := range d.pageSizes {
		if id.FileID != tempFileID {
			continue
		}
		newID := PageId{FileID: finalFileID, Index: id.Index}
		delete(d.pageSizes, id)
		d.pageSizes[newID] = size
		d.evictor.UpdateOnDelete(id)
		d.evictor.UpdateOnPut(newID)
	}
	delete(d.tempFiles, tempFileID)
	d.ledger.drop(tempFileID)
	return nil
}

// Abort deletes every page of tempFileID.
func (d *FSDir) Abort(tempFileID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrStoreClosed
	}
	if _, ok := d.tempFiles[tempFileID]; !ok {
		return ErrTempFileNotFound
	}

	if err := os.RemoveAll(d.fileDir(tempFileID)); err != nil {
		return err
	}
	for id, size := range d.pageSizes {
		if id.FileID != tempFileID {
			continue
		}
		delete(d.pageSizes, id)
		d.ledger.release(size)
		d.evictor.UpdateOnDelete(id)
	}
	delete(d.tempFiles, tempFileID)
	d.ledger.drop(tempFileID)
	return nil
}

// DeletePage removes a single page.
func (d *FSDir) DeletePage(id PageId) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrStoreClosed
	}
	size, ok := d.pageSizes[id]
	if !ok {
		return ErrPageNotFound
	}

	if err := os.Remove(d.pagePath(id.FileID, id.Index)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	delete(d.pageSizes, id)
	d.ledger.release(size)
	d.evictor.UpdateOnDelete(id)

	// drop the file directory once its last page is gone
	for other := range d.pageSizes {
		if other.FileID == id.FileID {
			return nil
		}
	}
	os.Remove(d.fileDir(id.FileID))
	return nil
}

// Close marks the directory closed. Stored pages stay on disk.
func (d *FSDir) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

package pagestore

import (
	"fmt"
	"sync"
)

// MemDir is an in-memory page store directory. It mirrors FSDir's
// semantics without touching the filesystem, which makes it the default
// backend for tests and for pure cache deployments.
type MemDir struct {
	mu        sync.RWMutex
	index     int
	ledger    *ledger
	pages     map[PageId][]byte
	tempFiles map[string]struct{}
	evictor   Evictor
	closed    bool
}

// NewMemDir creates an in-memory page store directory.
func NewMemDir(index int, capacity uint64, blockOf BlockOfFunc) *MemDir {
	return &MemDir{
		index:     index,
		ledger:    newLedger(capacity),
		pages:     make(map[PageId][]byte),
		tempFiles: make(map[string]struct{}),
		evictor:   NewLRUEvictor(blockOf),
	}
}

// DirIndex returns the stable index of this directory.
func (d *MemDir) DirIndex() int { return d.index }

// Path returns a descriptive label.
func (d *MemDir) Path() string { return fmt.Sprintf("mem://%d", d.index) }

// Capacity returns the configured capacity in bytes.
func (d *MemDir) Capacity() uint64 { return d.ledger.capacity }

// UsedBytes returns the bytes consumed by stored pages.
func (d *MemDir) UsedBytes() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ledger.used
}

// Evictor returns the eviction policy of this directory.
func (d *MemDir) Evictor() Evictor { return d.evictor }

// Allocate reserves bytes for the file id.
func (d *MemDir) Allocate(fileID string, bytes uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrStoreClosed
	}
	return d.ledger.reserve(fileID, bytes)
}

// PutTempFile registers a pending file id.
func (d *MemDir) PutTempFile(fileID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tempFiles[fileID] = struct{}{}
}

// HasTempFile reports whether the file id is registered as pending.
func (d *MemDir) HasTempFile(fileID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.tempFiles[fileID]
	return ok
}

// WritePage stores a page, overwriting any previous content.
func (d *MemDir) WritePage(fileID string, index uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrStoreClosed
	}

	id := PageId{FileID: fileID, Index: index}
	if prev, ok := d.pages[id]; ok {
		d.ledger.release(uint64(len(prev)))
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	d.pages[id] = buf
	d.ledger.consume(fileID, uint64(len(data)))
	d.evictor.UpdateOnPut(id)
	return nil
}

// ReadPage returns the stored bytes of a page.
func (d *MemDir) ReadPage(fileID string, index uint32) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrStoreClosed
	}

	id := PageId{FileID: fileID, Index: index}
	data, ok := d.pages[id]
	if !ok {
		return nil, ErrPageNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	d.evictor.UpdateOnGet(id)
	return out, nil
}

// HasPage reports whether the page exists.
func (d *MemDir) HasPage(id PageId) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.pages[id]
	return ok
}

// Commit atomically renames every page of tempFileID to finalFileID.
func (d *MemDir) Commit(tempFileID, finalFileID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrStoreClosed
	}
	if _, ok := d.tempFiles[tempFileID]; !ok {
		return ErrTempFileNotFound
	}

	for id, data := range d.pages {
		if id.FileID != tempFileID {
			continue
		}
		newID := PageId{FileID: finalFileID, Index: id.Index}
		delete(d.pages, id)
		d.pages[newID] = data
		d.evictor.UpdateOnDelete(id)
		d.evictor.UpdateOnPut(newID)
	}
	delete(d.tempFiles, tempFileID)
	d.ledger.drop(tempFileID)
	return nil
}

// Abort deletes every page of tempFileID.
func (d *MemDir) Abort(tempFileID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrStoreClosed
	}
	if _, ok := d.tempFiles[tempFileID]; !ok {
		return ErrTempFileNotFound
	}

	for id, data := range d.pages {
		if id.FileID != tempFileID {
			continue
		}
		delete(d.pages, id)
		d.ledger.release(uint64(len(data)))
		d.evictor.UpdateOnDelete(id)
	}
	delete(d.tempFiles, tempFileID)
	d.ledger.drop(tempFileID)
	return nil
}

// DeletePage removes a single page.
func (d *MemDir) DeletePage(id PageId) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrStoreClosed
	}
	data, ok := d.pages[id]
	if !ok {
		return ErrPageNotFound
	}
	delete(d.pages, id)
	d.ledger.release(uint64(len(data)))
	d.evictor.UpdateOnDelete(id)
	return nil
}

// Close marks the directory closed and drops all pages.
func (d *MemDir) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pages = make(map[PageId][]byte)
	d.closed = true
	return nil
}

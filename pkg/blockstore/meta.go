package blockstore

import (
	"sync"
	"sync/atomic"

	"github.com/marmos91/pagedfs/pkg/pagestore"
)

// BlockMeta describes a committed block. Immutable after creation.
type BlockMeta struct {
	BlockID int64
	Length  uint64
	dir     *StoreDir
}

// Dir returns the storage directory holding the block's pages.
func (m *BlockMeta) Dir() *StoreDir { return m.dir }

// FileID returns the page store file id of the block.
func (m *BlockMeta) FileID() string { return FileIDOf(m.BlockID, m.Length) }

// TempBlockMeta describes a block in the process of being written. Its
// length grows as the writer lands pages and is only final at commit.
type TempBlockMeta struct {
	BlockID int64
	length  atomic.Uint64
	dir     *StoreDir
}

// Dir returns the storage directory holding the temp block's pages.
func (m *TempBlockMeta) Dir() *StoreDir { return m.dir }

// Length returns the bytes written so far.
func (m *TempBlockMeta) Length() uint64 { return m.length.Load() }

func (m *TempBlockMeta) addLength(n uint64) { m.length.Add(n) }

// StoreDir is a storage directory of the paged block store. It wraps a
// page store directory with the block-level bookkeeping the metastore
// needs: which pages belong to which committed block, and how many temp
// bytes each pending block has cached.
type StoreDir struct {
	pagestore.Dir

	mu         sync.RWMutex
	blockPages map[int64]map[pagestore.PageId]struct{}
	tempPages  map[int64]map[pagestore.PageId]struct{}
	tempBytes  map[int64]uint64
}

// NewStoreDir wraps a page store directory.
func NewStoreDir(dir pagestore.Dir) *StoreDir {
	return &StoreDir{
		Dir:        dir,
		blockPages: make(map[int64]map[pagestore.PageId]struct{}),
		tempPages:  make(map[int64]map[pagestore.PageId]struct{}),
		tempBytes:  make(map[int64]uint64),
	}
}

// StoreDirsOf wraps a list of page store directories.
func StoreDirsOf(dirs ...pagestore.Dir) []*StoreDir {
	out := make([]*StoreDir, len(dirs))
	for i, d := range dirs {
		out[i] = NewStoreDir(d)
	}
	return out
}

// registerBlock creates an empty page set for a block.
func (d *StoreDir) registerBlock(blockID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.blockPages[blockID]; !ok {
		d.blockPages[blockID] = make(map[pagestore.PageId]struct{})
	}
}

// PutPage stores one page of a committed block and registers it. The
// directory evicts unpinned pages as needed to stay within capacity.
func (d *StoreDir) PutPage(blockID int64, fileID string, index uint32, data []byte) error {
	if err := d.ensureSpace(uint64(len(data))); err != nil {
		return err
	}
	if err := d.Dir.WritePage(fileID, index, data); err != nil {
		return err
	}
	id := pagestore.PageId{FileID: fileID, Index: index}
	d.mu.Lock()
	pages, ok := d.blockPages[blockID]
	if !ok {
		pages = make(map[pagestore.PageId]struct{})
		d.blockPages[blockID] = pages
	}
	pages[id] = struct{}{}
	d.mu.Unlock()
	return nil
}

// PutTempPage stores one page of a temp block and bumps the temp-bytes
// counter.
func (d *StoreDir) PutTempPage(blockID int64, index uint32, data []byte) error {
	if err := d.ensureSpace(uint64(len(data))); err != nil {
		return err
	}
	fileID := TempFileIDOf(blockID)
	if err := d.Dir.WritePage(fileID, index, data); err != nil {
		return err
	}
	id := pagestore.PageId{FileID: fileID, Index: index}
	d.mu.Lock()
	pages, ok := d.tempPages[blockID]
	if !ok {
		pages = make(map[pagestore.PageId]struct{})
		d.tempPages[blockID] = pages
	}
	pages[id] = struct{}{}
	d.tempBytes[blockID] += uint64(len(data))
	d.mu.Unlock()
	return nil
}

// ensureSpace evicts unpinned pages until n more bytes fit. Pages of
// pinned blocks are never victims; if everything left is pinned the
// write proceeds and the capacity check is left to the reservation
// ledger.
func (d *StoreDir) ensureSpace(n uint64) error {
	for d.Dir.UsedBytes()+n > d.Dir.Capacity() {
		victim, ok := d.Dir.Evictor().Evict()
		if !ok {
			return nil
		}
		if err := d.Dir.DeletePage(victim); err != nil {
			return err
		}
		d.unregisterPage(victim)
	}
	return nil
}

func (d *StoreDir) unregisterPage(id pagestore.PageId) {
	blockID, ok := BlockOf(id.FileID)
	if !ok {
		return
	}
	d.mu.Lock()
	if pages, ok := d.blockPages[blockID]; ok {
		delete(pages, id)
	}
	if pages, ok := d.tempPages[blockID]; ok {
		delete(pages, id)
	}
	d.mu.Unlock()
}

// BlockPages returns the page ids of a committed block.
func (d *StoreDir) BlockPages(blockID int64) []pagestore.PageId {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pages := make([]pagestore.PageId, 0, len(d.blockPages[blockID]))
	for id := range d.blockPages[blockID] {
		pages = append(pages, id)
	}
	return pages
}

// TempBlockCachedBytes returns the bytes cached for a temp block.
func (d *StoreDir) TempBlockCachedBytes(blockID int64) uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tempBytes[blockID]
}

// CommitBlock renames the temp pages of blockID to the final file id
// derived from the committed length and re-registers them as committed
// pages.
func (d *StoreDir) CommitBlock(blockID int64, length uint64) error {
	tempID := TempFileIDOf(blockID)
	finalID := FileIDOf(blockID, length)
	if err := d.Dir.Commit(tempID, finalID); err != nil {
		return err
	}

	d.mu.Lock()
	pages, ok := d.blockPages[blockID]
	if !ok {
		pages = make(map[pagestore.PageId]struct{})
		d.blockPages[blockID] = pages
	}
	for id := range d.tempPages[blockID] {
		pages[pagestore.PageId{FileID: finalID, Index: id.Index}] = struct{}{}
	}
	delete(d.tempPages, blockID)
	delete(d.tempBytes, blockID)
	d.mu.Unlock()
	return nil
}

// AbortBlock discards the temp pages of blockID.
func (d *StoreDir) AbortBlock(blockID int64) error {
	if err := d.Dir.Abort(TempFileIDOf(blockID)); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.tempPages, blockID)
	delete(d.tempBytes, blockID)
	d.mu.Unlock()
	return nil
}

// RemovePage deletes a page and unregisters it, returning its info.
func (d *StoreDir) RemovePage(id pagestore.PageId) (pagestore.PageInfo, error) {
	if !d.Dir.HasPage(id) {
		return pagestore.PageInfo{}, pagestore.ErrPageNotFound
	}
	if err := d.Dir.DeletePage(id); err != nil {
		return pagestore.PageInfo{}, err
	}
	d.unregisterPage(id)
	return pagestore.PageInfo{Id: id, DirIndex: d.Dir.DirIndex()}, nil
}

// dropBlock removes a block's page registrations after its pages are
// deleted.
func (d *StoreDir) dropBlock(blockID int64) {
	d.mu.Lock()
	delete(d.blockPages, blockID)
	d.mu.Unlock()
}

// BlockCount returns the number of committed blocks registered here.
func (d *StoreDir) BlockCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.blockPages)
}

// Blocks returns the committed block ids registered here.
func (d *StoreDir) Blocks() []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]int64, 0, len(d.blockPages))
	for id := range d.blockPages {
		out = append(out, id)
	}
	return out
}

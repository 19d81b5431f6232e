package blockstore

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/marmos91/pagedfs/internal/logger"
	"github.com/marmos91/pagedfs/pkg/pagestore"
)

// PagedBlockMetaStore is the in-memory authority for block existence,
// temp-block existence, per-block directory assignment and allocation
// across directories. It owns the metadata lock; every mutating
// operation takes the write side, lookups take the read side.
//
// Invariants enforced here:
//  1. a block id is in at most one of {committed, temp} at any time
//  2. every registered page belongs to exactly one committed block
//  3. a temp block's cached bytes equal the sum of its written pages
//  4. used bytes reported to the master equal the sum of committed
//     block lengths
type PagedBlockMetaStore struct {
	mu     sync.RWMutex
	dirs   []*StoreDir
	blocks map[int64]*BlockMeta
	temp   map[int64]*TempBlockMeta
}

// NewPagedBlockMetaStore creates a metastore over the given directories.
func NewPagedBlockMetaStore(dirs []*StoreDir) *PagedBlockMetaStore {
	return &PagedBlockMetaStore{
		dirs:   dirs,
		blocks: make(map[int64]*BlockMeta),
		temp:   make(map[int64]*TempBlockMeta),
	}
}

// Dirs returns the storage directories.
func (s *PagedBlockMetaStore) Dirs() []*StoreDir { return s.dirs }

// Allocate picks a directory with at least size free capacity and
// reserves the bytes under fileID. The start index is derived from the
// file id, so repeated allocations for the same file land on the same
// directory and the load spreads deterministically.
func (s *PagedBlockMetaStore) Allocate(fileID string, size uint64) (*StoreDir, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocateLocked(fileID, size)
}

func (s *PagedBlockMetaStore) allocateLocked(fileID string, size uint64) (*StoreDir, error) {
	n := len(s.dirs)
	if n == 0 {
		return nil, ErrResourceExhausted
	}
	start := int(xxhash.Sum64String(fileID) % uint64(n))
	for i := 0; i < n; i++ {
		dir := s.dirs[(start+i)%n]
		if err := dir.Allocate(fileID, size); err == nil {
			return dir, nil
		}
	}
	return nil, ErrResourceExhausted
}

// CreateTempBlock atomically checks that the block id is unknown,
// allocates a directory for its temp file and registers the temp block.
func (s *PagedBlockMetaStore) CreateTempBlock(blockID int64, initialBytes uint64) (*TempBlockMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blocks[blockID]; ok {
		return nil, newBlockError("create", blockID, ErrAlreadyExists)
	}
	if _, ok := s.temp[blockID]; ok {
		return nil, newBlockError("create", blockID, ErrAlreadyExists)
	}

	fileID := TempFileIDOf(blockID)
	dir, err := s.allocateLocked(fileID, initialBytes)
	if err != nil {
		return nil, err
	}
	dir.PutTempFile(fileID)

	meta := &TempBlockMeta{BlockID: blockID, dir: dir}
	s.temp[blockID] = meta
	return meta, nil
}

// RegisterBlock atomically allocates a directory for an externally
// sourced block (UFS cache fill) and records it as committed with the
// given length. Returns the existing meta if the block is already
// committed, and fails with ErrAlreadyExists while it is a temp block.
func (s *PagedBlockMetaStore) RegisterBlock(blockID int64, length uint64) (*BlockMeta, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if meta, ok := s.blocks[blockID]; ok {
		return meta, false, nil
	}
	if _, ok := s.temp[blockID]; ok {
		return nil, false, newBlockError("register", blockID, ErrAlreadyExists)
	}

	fileID := FileIDOf(blockID, length)
	dir, err := s.allocateLocked(fileID, length)
	if err != nil {
		return nil, false, err
	}

	meta := &BlockMeta{BlockID: blockID, Length: length, dir: dir}
	s.blocks[blockID] = meta
	dir.registerBlock(blockID)
	return meta, true, nil
}

// AllocateUnregistered picks a directory for a block without recording
// any metadata, for UFS-only reads that bypass the cache.
func (s *PagedBlockMetaStore) AllocateUnregistered(blockID int64, length uint64) (*BlockMeta, error) {
	dir, err := s.Allocate(FileIDOf(blockID, length), 0)
	if err != nil {
		return nil, err
	}
	return &BlockMeta{BlockID: blockID, Length: length, dir: dir}, nil
}

// GetBlock returns the committed block meta, if known.
func (s *PagedBlockMetaStore) GetBlock(blockID int64) (*BlockMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.blocks[blockID]
	return meta, ok
}

// HasBlock reports whether the block is committed.
func (s *PagedBlockMetaStore) HasBlock(blockID int64) bool {
	_, ok := s.GetBlock(blockID)
	return ok
}

// GetTempBlock returns the temp block meta, if known.
func (s *PagedBlockMetaStore) GetTempBlock(blockID int64) (*TempBlockMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.temp[blockID]
	return meta, ok
}

// HasTempBlock reports whether the block is pending.
func (s *PagedBlockMetaStore) HasTempBlock(blockID int64) bool {
	_, ok := s.GetTempBlock(blockID)
	return ok
}

// Commit atomically promotes a temp block to committed: it verifies the
// block is fully written, renames its pages in the page store and moves
// the entry between the two tables.
func (s *PagedBlockMetaStore) Commit(blockID int64) (*BlockMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tm, ok := s.temp[blockID]
	if !ok {
		return nil, newBlockError("commit", blockID, ErrNotFound)
	}
	if _, exists := s.blocks[blockID]; exists {
		return nil, newBlockError("commit", blockID, ErrAlreadyExists)
	}
	length := tm.Length()
	if cached := tm.dir.TempBlockCachedBytes(blockID); cached != length {
		logger.Warn("refusing to commit partially written block",
			logger.KeyBlockID, blockID, "written", length, "cached", cached)
		return nil, newBlockError("commit", blockID, ErrInvalidState)
	}

	// temp -> final rename inside the page store directory; expected to
	// be O(directory metadata), not O(bytes)
	if err := tm.dir.CommitBlock(blockID, length); err != nil {
		return nil, newBlockError("commit", blockID, err)
	}

	meta := &BlockMeta{BlockID: blockID, Length: length, dir: tm.dir}
	delete(s.temp, blockID)
	s.blocks[blockID] = meta
	return meta, nil
}

// AbortTempBlock discards a temp block and its pages.
func (s *PagedBlockMetaStore) AbortTempBlock(blockID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tm, ok := s.temp[blockID]
	if !ok {
		return newBlockError("abort", blockID, ErrNotFound)
	}
	if err := tm.dir.AbortBlock(blockID); err != nil {
		return newBlockError("abort", blockID, err)
	}
	delete(s.temp, blockID)
	return nil
}

// RemoveBlock deletes every page of a committed block and unregisters
// it. Returns ErrInvalidState for temp blocks and ErrNotFound for
// unknown ones.
func (s *PagedBlockMetaStore) RemoveBlock(blockID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.temp[blockID]; ok {
		return newBlockError("remove", blockID, ErrInvalidState)
	}
	meta, ok := s.blocks[blockID]
	if !ok {
		return newBlockError("remove", blockID, ErrNotFound)
	}

	for _, pageID := range meta.dir.BlockPages(blockID) {
		if _, err := meta.dir.RemovePage(pageID); err != nil {
			return newBlockError("remove", blockID, err)
		}
	}
	meta.dir.dropBlock(blockID)
	delete(s.blocks, blockID)
	return nil
}

// RemovePage unregisters and deletes a single page.
func (s *PagedBlockMetaStore) RemovePage(pageID pagestore.PageId) (pagestore.PageInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blockID, ok := BlockOf(pageID.FileID)
	if !ok {
		return pagestore.PageInfo{}, pagestore.ErrPageNotFound
	}
	meta, ok := s.blocks[blockID]
	if !ok {
		return pagestore.PageInfo{}, pagestore.ErrPageNotFound
	}
	return meta.dir.RemovePage(pageID)
}

// DirMeta is the per-directory slice of a store meta snapshot.
type DirMeta struct {
	Index      int
	Path       string
	Capacity   uint64
	UsedBytes  uint64
	BlockCount int
	Blocks     []int64
}

// StoreMeta is a snapshot of the store for the master report.
type StoreMeta struct {
	Capacity  uint64
	UsedBytes uint64
	DirCount  int
	Dirs      []DirMeta
}

// GetStoreMeta snapshots capacities and usage. Used bytes are the sum
// of committed block lengths, matching what the master accounts.
func (s *PagedBlockMetaStore) GetStoreMeta() StoreMeta {
	return s.storeMeta(false)
}

// GetStoreMetaFull additionally lists the blocks of every directory.
func (s *PagedBlockMetaStore) GetStoreMetaFull() StoreMeta {
	return s.storeMeta(true)
}

func (s *PagedBlockMetaStore) storeMeta(full bool) StoreMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()

	usedByDir := make(map[int]uint64)
	for _, meta := range s.blocks {
		usedByDir[meta.dir.DirIndex()] += meta.Length
	}

	meta := StoreMeta{DirCount: len(s.dirs)}
	for _, dir := range s.dirs {
		dm := DirMeta{
			Index:      dir.DirIndex(),
			Path:       dir.Path(),
			Capacity:   dir.Capacity(),
			UsedBytes:  usedByDir[dir.DirIndex()],
			BlockCount: dir.BlockCount(),
		}
		if full {
			dm.Blocks = dir.Blocks()
		}
		meta.Capacity += dm.Capacity
		meta.UsedBytes += dm.UsedBytes
		meta.Dirs = append(meta.Dirs, dm)
	}
	return meta
}

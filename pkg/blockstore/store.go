package blockstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/pagedfs/internal/logger"
	"github.com/marmos91/pagedfs/pkg/blockmaster"
	"github.com/marmos91/pagedfs/pkg/metrics"
	"github.com/marmos91/pagedfs/pkg/ufs"
)

// DefaultRemoveBlockTimeout bounds the exclusive lock wait during
// Remove.
const DefaultRemoveBlockTimeout = 60 * time.Second

// Options configures a PagedBlockStore.
type Options struct {
	// PageSize is the byte size of every page. Required, > 0.
	PageSize uint64

	// RemoveBlockTimeout bounds the exclusive lock wait during Remove.
	// Zero uses DefaultRemoveBlockTimeout.
	RemoveBlockTimeout time.Duration

	// DefaultTier and DefaultMedium are the labels reported to the
	// master.
	DefaultTier   string
	DefaultMedium string
}

// PagedBlockStore implements the block API over pages spread across the
// metastore's directories. A read miss is satisfied by streaming from
// the UFS and populating the cache; commits are applied locally, then
// reported to the block master.
//
// All operations are keyed by a session id that scopes lock ownership.
// Block ids are supplied by the caller; uniqueness across concurrent
// callers is the caller's responsibility.
type PagedBlockStore struct {
	lockManager *BlockLockManager
	metaStore   *PagedBlockMetaStore
	masterPool  *blockmaster.Pool
	workerID    *atomic.Uint64
	streams     *ufs.InStreamCache
	listeners   *listenerRegistry

	pinnedInodesMu sync.Mutex
	pinnedInodes   map[int64]struct{}

	pageSize      uint64
	removeTimeout time.Duration
	tier          string
	medium        string
}

// NewPagedBlockStore creates a block store over the given metastore,
// master client pool and UFS stream cache.
func NewPagedBlockStore(metaStore *PagedBlockMetaStore, pool *blockmaster.Pool, workerID *atomic.Uint64, streams *ufs.InStreamCache, opts Options) (*PagedBlockStore, error) {
	if opts.PageSize == 0 {
		return nil, errors.New("page size is required")
	}
	if opts.RemoveBlockTimeout <= 0 {
		opts.RemoveBlockTimeout = DefaultRemoveBlockTimeout
	}
	if opts.DefaultTier == "" {
		opts.DefaultTier = "MEM"
	}
	if opts.DefaultMedium == "" {
		opts.DefaultMedium = "MEM"
	}
	return &PagedBlockStore{
		lockManager:   NewBlockLockManager(),
		metaStore:     metaStore,
		masterPool:    pool,
		workerID:      workerID,
		streams:       streams,
		listeners:     newListenerRegistry(),
		pinnedInodes:  make(map[int64]struct{}),
		pageSize:      opts.PageSize,
		removeTimeout: opts.RemoveBlockTimeout,
		tier:          opts.DefaultTier,
		medium:        opts.DefaultMedium,
	}, nil
}

// PageSize returns the process-wide page size.
func (s *PagedBlockStore) PageSize() uint64 { return s.pageSize }

// PinBlock takes a shared lock on the block and returns it when the
// block is present. When the block is unknown the lock is released and
// ok is false.
func (s *PagedBlockStore) PinBlock(sessionID, blockID int64) (*BlockLock, bool) {
	logger.Debug("pinBlock", logger.KeySessionID, sessionID, logger.KeyBlockID, blockID)
	lock := s.lockManager.Acquire(sessionID, blockID, LockShared)
	if s.metaStore.HasBlock(blockID) {
		return lock, true
	}
	lock.Close()
	return nil, false
}

// UnpinBlock releases a lock handed out by PinBlock.
func (s *PagedBlockStore) UnpinBlock(lock *BlockLock) {
	logger.Debug("unpinBlock", logger.KeyBlockID, lock.BlockID())
	lock.Close()
}

// CreateBlock allocates a temp block in some directory with an initial
// byte reservation. The block stays invisible to readers until Commit.
func (s *PagedBlockStore) CreateBlock(sessionID, blockID int64, initialBytes uint64) error {
	logger.Debug("createBlock",
		logger.KeySessionID, sessionID, logger.KeyBlockID, blockID, "initial_bytes", initialBytes)
	_, err := s.metaStore.CreateTempBlock(blockID, initialBytes)
	return err
}

// CreateBlockWriter creates a temp block and returns a writer targeting
// its pages. Exactly one of two racing callers wins; the other gets
// ErrAlreadyExists.
//
// No block lock is taken: the block is invisible to other clients until
// committed.
func (s *PagedBlockStore) CreateBlockWriter(sessionID, blockID int64) (BlockWriter, error) {
	logger.Debug("createBlockWriter", logger.KeySessionID, sessionID, logger.KeyBlockID, blockID)
	meta, err := s.metaStore.CreateTempBlock(blockID, 0)
	if err != nil {
		return nil, err
	}
	return NewPagedBlockWriter(meta, s.pageSize), nil
}

// CreateBlockReader returns a reader over the block starting at offset.
//
// On a cache hit the block is pinned for the life of the reader. On a
// miss with caching enabled the block is registered, its pages populate
// the cache as they are read, and closing the reader reports the block
// to the master and unpins it. On a miss with NoCache the reader
// streams from the UFS only and the block lock is released immediately.
func (s *PagedBlockStore) CreateBlockReader(sessionID, blockID int64, offset uint64, opts ufs.BlockReadOptions) (BlockReader, error) {
	blockLock := s.lockManager.Acquire(sessionID, blockID, LockShared)

	if meta, ok := s.metaStore.GetBlock(blockID); ok {
		return s.pinnedReader(meta, offset, opts, blockLock), nil
	}

	// the block needs to be read from the UFS
	if !opts.Valid() {
		blockLock.Close()
		return nil, newBlockError("read", blockID, ErrNotFound)
	}

	if opts.NoCache {
		// nothing is registered locally, so there is nothing to unpin
		meta, err := s.metaStore.AllocateUnregistered(blockID, opts.BlockSize)
		if err != nil {
			blockLock.Close()
			return nil, err
		}
		blockLock.Close()
		return NewPagedUfsBlockReader(s.streams, meta, offset, opts, s.pageSize), nil
	}

	meta, created, err := s.metaStore.RegisterBlock(blockID, opts.BlockSize)
	if err != nil {
		blockLock.Close()
		return nil, err
	}
	if !created {
		// someone else registered the block while we held the lock
		return s.pinnedReader(meta, offset, opts, blockLock), nil
	}

	evictor := meta.Dir().Evictor()
	evictor.AddPinnedBlock(blockID)
	inner := s.blockReader(meta, offset, opts)
	return newDelegatingReader(inner, func() {
		if err := s.notifyCommitted(meta); err != nil {
			logger.Warn("commit of cached block to master failed",
				logger.KeyBlockID, blockID, logger.KeyError, err.Error())
		}
		evictor.RemovePinnedBlock(blockID)
		blockLock.Close()
	}), nil
}

// pinnedReader serves a cache hit: pin the block, read through the page
// store, unpin and unlock on close.
func (s *PagedBlockStore) pinnedReader(meta *BlockMeta, offset uint64, opts ufs.BlockReadOptions, blockLock *BlockLock) BlockReader {
	evictor := meta.Dir().Evictor()
	evictor.AddPinnedBlock(meta.BlockID)
	inner := s.blockReader(meta, offset, opts)
	return newDelegatingReader(inner, func() {
		evictor.RemovePinnedBlock(meta.BlockID)
		blockLock.Close()
	})
}

// blockReader builds the cache-aware reader, with a UFS fallback when
// the options allow it. Missing UFS options are fine for blocks fully
// resident in the cache; a miss then surfaces on read.
func (s *PagedBlockStore) blockReader(meta *BlockMeta, offset uint64, opts ufs.BlockReadOptions) BlockReader {
	var ufsReader *PagedUfsBlockReader
	if opts.Valid() {
		ufsReader = NewPagedUfsBlockReader(s.streams, meta, offset, opts, s.pageSize)
	} else {
		logger.Debug("no ufs options for block, serving cache only",
			logger.KeyBlockID, meta.BlockID)
	}
	return NewPagedBlockReader(meta, offset, s.pageSize, ufsReader)
}

// CreateUfsBlockReader returns a reader that streams the block from the
// UFS without consulting or populating the cache.
func (s *PagedBlockStore) CreateUfsBlockReader(sessionID, blockID int64, offset uint64, opts ufs.BlockReadOptions) (BlockReader, error) {
	if !opts.Valid() {
		return nil, newBlockError("ufs-read", blockID, ErrNotFound)
	}
	meta, ok := s.metaStore.GetBlock(blockID)
	if !ok {
		var err error
		meta, err = s.metaStore.AllocateUnregistered(blockID, opts.BlockSize)
		if err != nil {
			return nil, err
		}
	}
	return NewPagedUfsBlockReader(s.streams, meta, offset, opts, s.pageSize), nil
}

// CreateBlockReaderByLockID is the legacy lock-id read path. The paged
// store has no physical block file to hand out, so it always fails with
// ErrNotFound.
func (s *PagedBlockStore) CreateBlockReaderByLockID(sessionID, blockID int64, lockID uint64) (BlockReader, error) {
	return nil, newBlockError("read", blockID, ErrNotFound)
}

// CommitBlock promotes a fully written temp block to committed, fires
// the local listeners, reports to the master and fires the master
// listeners, in that order. The block is pinned for the duration and
// stays pinned afterwards when pinOnCreate is set.
//
// A master failure surfaces ErrUnavailable but does not roll back the
// local commit; the master reconciles on the next heartbeat.
func (s *PagedBlockStore) CommitBlock(sessionID, blockID int64, pinOnCreate bool) error {
	logger.Debug("commitBlock",
		logger.KeySessionID, sessionID, logger.KeyBlockID, blockID, "pin_on_create", pinOnCreate)

	blockLock := s.lockManager.Acquire(sessionID, blockID, LockExclusive)
	defer blockLock.Close()

	tm, ok := s.metaStore.GetTempBlock(blockID)
	if !ok {
		return newBlockError("commit", blockID, ErrNotFound)
	}

	// hold a pin until committing is done
	evictor := tm.Dir().Evictor()
	wasUnpinned := evictor.AddPinnedBlock(blockID)
	defer func() {
		if !pinOnCreate && wasUnpinned {
			evictor.RemovePinnedBlock(blockID)
		}
	}()

	committed, err := s.metaStore.Commit(blockID)
	if err != nil {
		return err
	}
	metrics.BlockCommitted()
	return s.notifyCommitted(committed)
}

// notifyCommitted fires OnCommitBlockToLocal, reports the block to the
// master, then fires OnCommitBlockToMaster. Local strictly precedes
// master for any given block.
func (s *PagedBlockStore) notifyCommitted(meta *BlockMeta) error {
	location := BlockStoreLocation{Tier: s.tier, DirIndex: meta.Dir().DirIndex()}
	s.listeners.notify(func(l BlockStoreEventListener) {
		l.OnCommitBlockToLocal(meta.BlockID, location)
	})
	if err := s.commitBlockToMaster(meta); err != nil {
		return err
	}
	s.listeners.notify(func(l BlockStoreEventListener) {
		l.OnCommitBlockToMaster(meta.BlockID, location)
	})
	return nil
}

// commitBlockToMaster reports a committed block. The block must already
// be committed in the metastore and page store directory.
func (s *PagedBlockStore) commitBlockToMaster(meta *BlockMeta) error {
	ctx := context.Background()
	client, err := s.masterPool.Acquire(ctx)
	if err != nil {
		metrics.MasterCommitFailed()
		return newBlockError("commit", meta.BlockID, ErrUnavailable)
	}
	defer s.masterPool.Release(client)

	usedBytes := s.metaStore.GetStoreMeta().UsedBytes
	if err := client.CommitBlock(ctx, s.workerID.Load(), usedBytes, s.tier, s.medium, meta.BlockID, meta.Length); err != nil {
		metrics.MasterCommitFailed()
		logger.Warn("failed to commit block to master",
			logger.KeyBlockID, meta.BlockID, logger.KeyError, err.Error())
		return newBlockError("commit", meta.BlockID, ErrUnavailable)
	}
	return nil
}

// AbortBlock discards a temp block's pages and notifies listeners.
func (s *PagedBlockStore) AbortBlock(sessionID, blockID int64) error {
	logger.Debug("abortBlock", logger.KeySessionID, sessionID, logger.KeyBlockID, blockID)
	if err := s.metaStore.AbortTempBlock(blockID); err != nil {
		return err
	}
	metrics.BlockAborted()
	s.listeners.notify(func(l BlockStoreEventListener) {
		l.OnAbortBlock(blockID)
	})
	return nil
}

// RemoveBlock deletes all pages of a committed block. The exclusive
// lock is bounded by the remove timeout; on timeout the state is left
// unchanged and ErrDeadlineExceeded surfaces.
func (s *PagedBlockStore) RemoveBlock(sessionID, blockID int64) error {
	logger.Debug("removeBlock", logger.KeySessionID, sessionID, logger.KeyBlockID, blockID)

	meta, ok := s.metaStore.GetBlock(blockID)
	if !ok {
		if s.metaStore.HasTempBlock(blockID) {
			return newBlockError("remove", blockID, ErrInvalidState)
		}
		return newBlockError("remove", blockID, ErrNotFound)
	}
	dirIndex := meta.Dir().DirIndex()

	blockLock, err := s.lockManager.TryAcquire(sessionID, blockID, LockExclusive, s.removeTimeout)
	if err != nil {
		return err
	}
	defer blockLock.Close()

	if err := s.metaStore.RemoveBlock(blockID); err != nil {
		return err
	}
	metrics.BlockRemoved()

	location := BlockStoreLocation{Tier: s.tier, DirIndex: dirIndex}
	s.listeners.notify(func(l BlockStoreEventListener) {
		l.OnRemoveBlockByClient(blockID)
		l.OnRemoveBlock(blockID, location)
	})
	return nil
}

// AccessBlock notifies listeners of a block access.
func (s *PagedBlockStore) AccessBlock(sessionID, blockID int64) {
	meta, ok := s.metaStore.GetBlock(blockID)
	if !ok {
		return
	}
	location := BlockStoreLocation{Tier: s.tier, DirIndex: meta.Dir().DirIndex()}
	s.listeners.notify(func(l BlockStoreEventListener) {
		l.OnAccessBlock(blockID, location)
	})
}

// RequestSpace reserves additional bytes for a temp block being
// written.
func (s *PagedBlockStore) RequestSpace(sessionID, blockID int64, additionalBytes uint64) error {
	tm, ok := s.metaStore.GetTempBlock(blockID)
	if !ok {
		return newBlockError("request-space", blockID, ErrNotFound)
	}
	return tm.Dir().Allocate(TempFileIDOf(blockID), tm.Length()+additionalBytes)
}

// MoveBlock is not supported by the paged store: pages have no
// tier-to-tier move path.
func (s *PagedBlockStore) MoveBlock(sessionID, blockID int64, dst BlockStoreLocation) error {
	return errors.ErrUnsupported
}

// HasBlockMeta reports whether the block is committed.
func (s *PagedBlockStore) HasBlockMeta(blockID int64) bool {
	return s.metaStore.HasBlock(blockID)
}

// HasTempBlockMeta reports whether the block is pending.
func (s *PagedBlockStore) HasTempBlockMeta(blockID int64) bool {
	return s.metaStore.HasTempBlock(blockID)
}

// GetBlockStoreMeta snapshots usage and capacity for the master report.
func (s *PagedBlockStore) GetBlockStoreMeta() StoreMeta {
	return s.metaStore.GetStoreMeta()
}

// GetBlockStoreMetaFull additionally lists every directory's blocks.
func (s *PagedBlockStore) GetBlockStoreMetaFull() StoreMeta {
	return s.metaStore.GetStoreMetaFull()
}

// RegisterBlockStoreEventListener adds a listener. Registration is safe
// under contention with event delivery.
func (s *PagedBlockStore) RegisterBlockStoreEventListener(l BlockStoreEventListener) {
	s.listeners.register(l)
}

// UpdatePinnedInodes replaces the pinned inode set maintained by
// periodic master sync. The set is only stored; directory allocation
// does not consult it.
func (s *PagedBlockStore) UpdatePinnedInodes(inodes []int64) {
	logger.Debug("updatePinnedInodes", "count", len(inodes))
	s.pinnedInodesMu.Lock()
	defer s.pinnedInodesMu.Unlock()
	s.pinnedInodes = make(map[int64]struct{}, len(inodes))
	for _, inode := range inodes {
		s.pinnedInodes[inode] = struct{}{}
	}
}

// CleanupSession releases every lock the session still holds.
func (s *PagedBlockStore) CleanupSession(sessionID int64) {
	s.lockManager.ReleaseSession(sessionID)
}

// Close shuts down the store's UFS streams. Directory contents are left
// in place for the next start.
func (s *PagedBlockStore) Close() error {
	return s.streams.Close()
}

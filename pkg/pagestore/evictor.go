package pagestore

import (
	"container/list"
	"sync"
)

// Evictor selects victim pages for a directory under capacity pressure
// and maintains the set of pinned blocks that must never be evicted.
//
// Pinning is keyed by block id while pages are keyed by (file id, index);
// the mapping between the two is supplied at construction so the evictor
// can skip pages of pinned blocks without importing block metadata.
type Evictor interface {
	// UpdateOnGet records a page access.
	UpdateOnGet(id PageId)

	// UpdateOnPut records a page insertion.
	UpdateOnPut(id PageId)

	// UpdateOnDelete removes a page from consideration.
	UpdateOnDelete(id PageId)

	// Evict returns the next victim page, skipping pages of pinned
	// blocks. Returns false if no evictable page exists.
	Evict() (PageId, bool)

	// AddPinnedBlock marks a block as unevictable. Returns true iff the
	// block transitions from unpinned to pinned, so the caller can undo
	// the pin symmetrically.
	AddPinnedBlock(blockID int64) bool

	// RemovePinnedBlock clears the pin on a block.
	RemovePinnedBlock(blockID int64)
}

// BlockOfFunc resolves the block id a page file belongs to. It returns
// false for file ids that do not map to a block.
type BlockOfFunc func(fileID string) (int64, bool)

// LRUEvictor is a least-recently-used Evictor with a pinned-block set.
type LRUEvictor struct {
	mu      sync.Mutex
	order   *list.List               // front = least recently used
	entries map[PageId]*list.Element // page -> position in order
	pinned  map[int64]struct{}
	blockOf BlockOfFunc
}

// NewLRUEvictor creates an LRU evictor. blockOf maps page file ids to
// block ids for pin checks; pages whose file id does not resolve are
// treated as unpinned.
func NewLRUEvictor(blockOf BlockOfFunc) *LRUEvictor {
	return &LRUEvictor{
		order:   list.New(),
		entries: make(map[PageId]*list.Element),
		pinned:  make(map[int64]struct{}),
		blockOf: blockOf,
	}
}

// UpdateOnGet moves the page to the most-recently-used position.
func (e *LRUEvictor) UpdateOnGet(id PageId) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if el, ok := e.entries[id]; ok {
		e.order.MoveToBack(el)
	}
}

// UpdateOnPut inserts the page at the most-recently-used position.
func (e *LRUEvictor) UpdateOnPut(id PageId) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if el, ok := e.entries[id]; ok {
		e.order.MoveToBack(el)
		return
	}
	e.entries[id] = e.order.PushBack(id)
}

// UpdateOnDelete drops the page from the eviction order.
func (e *LRUEvictor) UpdateOnDelete(id PageId) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if el, ok := e.entries[id]; ok {
		e.order.Remove(el)
		delete(e.entries, id)
	}
}

// Evict returns the least recently used page that is not pinned. The
// page stays registered until UpdateOnDelete is called for it.
func (e *LRUEvictor) Evict() (PageId, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for el := e.order.Front(); el != nil; el = el.Next() {
		id := el.Value.(PageId)
		if e.isPinnedLocked(id) {
			continue
		}
		return id, true
	}
	return PageId{}, false
}

func (e *LRUEvictor) isPinnedLocked(id PageId) bool {
	if e.blockOf == nil {
		return false
	}
	blockID, ok := e.blockOf(id.FileID)
	if !ok {
		return false
	}
	_, pinned := e.pinned[blockID]
	return pinned
}

// AddPinnedBlock marks the block as unevictable.
func (e *LRUEvictor) AddPinnedBlock(blockID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pinned[blockID]; ok {
		return false
	}
	e.pinned[blockID] = struct{}{}
	return true
}

// RemovePinnedBlock clears the pin on the block.
func (e *LRUEvictor) RemovePinnedBlock(blockID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pinned, blockID)
}

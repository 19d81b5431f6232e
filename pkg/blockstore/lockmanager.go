package blockstore

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// LockMode selects shared or exclusive acquisition of a block lock.
type LockMode int

const (
	// LockShared admits any number of concurrent holders.
	LockShared LockMode = iota
	// LockExclusive admits a single holder and excludes all shared
	// holders.
	LockExclusive
)

func (m LockMode) String() string {
	if m == LockExclusive {
		return "exclusive"
	}
	return "shared"
}

// BlockLock is a held block lock. It is a scoped resource: Close
// releases exactly one acquisition. Closing twice is a programming
// error and panics.
type BlockLock struct {
	id        uint64
	sessionID int64
	blockID   int64
	mode      LockMode
	mgr       *BlockLockManager
	released  atomic.Bool
}

// ID returns the lock id, usable with Validate.
func (l *BlockLock) ID() uint64 { return l.id }

// BlockID returns the locked block.
func (l *BlockLock) BlockID() int64 { return l.blockID }

// Close releases the lock. Exactly-once: a second Close panics.
func (l *BlockLock) Close() {
	if !l.released.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("block lock %d on block %d released twice", l.id, l.blockID))
	}
	l.mgr.release(l)
}

// lockEntry is the lock state of one block id. Entries are created on
// first use and dropped when the last holder or waiter is gone, so the
// lock table does not grow with the block count; an entry out-lives the
// block's metadata for as long as any session still references it.
type lockEntry struct {
	mu             sync.Mutex
	readers        int
	writer         bool
	waitingWriters int
	// changed is closed and replaced whenever the lock state changes,
	// waking all waiters to re-check.
	changed chan struct{}
}

func (e *lockEntry) signalLocked() {
	close(e.changed)
	e.changed = make(chan struct{})
}

// BlockLockManager hands out per-block shared/exclusive locks with
// session-scoped handles. New shared acquisitions queue behind a
// waiting exclusive one, bounding writer starvation.
type BlockLockManager struct {
	mu       sync.Mutex
	entries  map[int64]*lockEntry
	refs     map[int64]int
	sessions map[int64]map[uint64]*BlockLock
	nextID   atomic.Uint64
}

// NewBlockLockManager creates an empty lock manager.
func NewBlockLockManager() *BlockLockManager {
	return &BlockLockManager{
		entries:  make(map[int64]*lockEntry),
		refs:     make(map[int64]int),
		sessions: make(map[int64]map[uint64]*BlockLock),
	}
}

func (m *BlockLockManager) getEntry(blockID int64) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[blockID]
	if !ok {
		e = &lockEntry{changed: make(chan struct{})}
		m.entries[blockID] = e
	}
	m.refs[blockID]++
	return e
}

func (m *BlockLockManager) putEntry(blockID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[blockID]--
	if m.refs[blockID] <= 0 {
		delete(m.refs, blockID)
		delete(m.entries, blockID)
	}
}

// Acquire blocks until the requested mode is granted.
func (m *BlockLockManager) Acquire(sessionID, blockID int64, mode LockMode) *BlockLock {
	lock, _ := m.acquire(sessionID, blockID, mode, 0)
	return lock
}

// TryAcquire is Acquire bounded by timeout. It returns
// ErrDeadlineExceeded when the lock cannot be granted in time.
func (m *BlockLockManager) TryAcquire(sessionID, blockID int64, mode LockMode, timeout time.Duration) (*BlockLock, error) {
	return m.acquire(sessionID, blockID, mode, timeout)
}

func (m *BlockLockManager) acquire(sessionID, blockID int64, mode LockMode, timeout time.Duration) (*BlockLock, error) {
	e := m.getEntry(blockID)

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	waiting := false
	for {
		e.mu.Lock()
		granted := false
		switch mode {
		case LockShared:
			// shared waits behind any waiting exclusive
			if !e.writer && e.waitingWriters == 0 {
				e.readers++
				granted = true
			}
		case LockExclusive:
			if !e.writer && e.readers == 0 {
				e.writer = true
				if waiting {
					e.waitingWriters--
					waiting = false
				}
				granted = true
			} else if !waiting {
				e.waitingWriters++
				waiting = true
			}
		}
		if granted {
			e.mu.Unlock()
			return m.registerLock(sessionID, blockID, mode), nil
		}
		changed := e.changed
		e.mu.Unlock()

		select {
		case <-changed:
		case <-deadline:
			if waiting {
				e.mu.Lock()
				e.waitingWriters--
				e.signalLocked()
				e.mu.Unlock()
			}
			m.putEntry(blockID)
			return nil, newBlockError("lock", blockID, ErrDeadlineExceeded)
		}
	}
}

func (m *BlockLockManager) registerLock(sessionID, blockID int64, mode LockMode) *BlockLock {
	lock := &BlockLock{
		id:        m.nextID.Add(1),
		sessionID: sessionID,
		blockID:   blockID,
		mode:      mode,
		mgr:       m,
	}
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok {
		session = make(map[uint64]*BlockLock)
		m.sessions[sessionID] = session
	}
	session[lock.id] = lock
	m.mu.Unlock()
	return lock
}

func (m *BlockLockManager) release(lock *BlockLock) {
	m.mu.Lock()
	e := m.entries[lock.blockID]
	if session, ok := m.sessions[lock.sessionID]; ok {
		delete(session, lock.id)
		if len(session) == 0 {
			delete(m.sessions, lock.sessionID)
		}
	}
	m.mu.Unlock()

	e.mu.Lock()
	if lock.mode == LockExclusive {
		e.writer = false
	} else {
		e.readers--
	}
	e.signalLocked()
	e.mu.Unlock()

	m.putEntry(lock.blockID)
}

// Validate verifies that the claimed lock id is a live lock held by the
// session on the block.
func (m *BlockLockManager) Validate(sessionID, blockID int64, lockID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	lock, ok := session[lockID]
	return ok && lock.blockID == blockID
}

// ReleaseSession releases every lock held by the session. Used for
// session cleanup after a client disconnects.
func (m *BlockLockManager) ReleaseSession(sessionID int64) {
	m.mu.Lock()
	var locks []*BlockLock
	for _, lock := range m.sessions[sessionID] {
		locks = append(locks, lock)
	}
	m.mu.Unlock()

	for _, lock := range locks {
		lock.Close()
	}
}

// heldLocks reports the number of live locks across all sessions.
func (m *BlockLockManager) heldLocks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, session := range m.sessions {
		n += len(session)
	}
	return n
}

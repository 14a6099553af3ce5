// Package locktable implements the table-level read/write lock
// ownership used by the 2PL and MV2PL transaction-manager modes
// (component E). The single read/write mutex guarding map mutations
// follows the mutex-guarded-struct style used for ephemeral storage
// layers: one lock, plain maps, no per-entry locking.
package locktable

import (
	"sync"

	"github.com/beads-db/kernel/internal/name"
)

// SessionID identifies a transacting session for lock-ownership purposes.
type SessionID int64

// Statement is the narrow view of a compiled statement the lock table
// needs: its declared read-set and write-set, and whether it is a
// catalog (DDL) statement.
type Statement struct {
	ReadTables  []*name.Name
	WriteTables []*name.Name
	CatalogLock bool // DDL statement; locks out every other transacting session
	ReadOnly    bool
}

// Session tracks a session's lock-wait bookkeeping (spec.md §3 Session state).
type Session struct {
	ID      SessionID
	tempSet map[SessionID]struct{}
}

// LockTable holds table-level lock ownership.
type LockTable struct {
	mu         sync.RWMutex
	writeLocks map[*name.Name]SessionID
	readLocks  map[*name.Name]map[SessionID]struct{}
}

// New constructs an empty lock table.
func New() *LockTable {
	return &LockTable{
		writeLocks: make(map[*name.Name]SessionID),
		readLocks:  make(map[*name.Name]map[SessionID]struct{}),
	}
}

// AllTransactingSessions is supplied by the caller (the transaction
// manager knows the live session set; the lock table does not).
type AllTransactingSessions func() []SessionID

// SetWaitedSessions implements spec.md §4.E's pseudocontract, filling
// sess.tempSet with the sessions sess must wait on before stmt can
// proceed. It returns the computed waited-set; an empty set means sess
// may proceed immediately.
func (lt *LockTable) SetWaitedSessions(sess *Session, stmt Statement, others AllTransactingSessions) map[SessionID]struct{} {
	lt.mu.RLock()
	defer lt.mu.RUnlock()

	sess.tempSet = make(map[SessionID]struct{})

	if stmt.CatalogLock {
		for _, other := range others() {
			if other != sess.ID {
				sess.tempSet[other] = struct{}{}
			}
		}
		return sess.tempSet
	}

	for _, t := range stmt.WriteTables {
		if writer, ok := lt.writeLocks[t]; ok && writer != sess.ID {
			sess.tempSet[writer] = struct{}{}
		}
		for reader := range lt.readLocks[t] {
			if reader != sess.ID {
				sess.tempSet[reader] = struct{}{}
			}
		}
	}

	readTargets := stmt.ReadTables
	if stmt.ReadOnly {
		// MV2PL read-only sessions wait on the catalog-wide write set;
		// the caller supplies the already-expanded name list via
		// ReadTables in that case.
	}
	for _, t := range readTargets {
		if writer, ok := lt.writeLocks[t]; ok && writer != sess.ID {
			sess.tempSet[writer] = struct{}{}
		}
	}

	return sess.tempSet
}

// LockTables commits sess's reserved read/write sets into the two maps.
// Call only after SetWaitedSessions returned an empty set.
func (lt *LockTable) LockTables(sess SessionID, stmt Statement) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	for _, t := range stmt.WriteTables {
		lt.writeLocks[t] = sess
	}
	for _, t := range stmt.ReadTables {
		set, ok := lt.readLocks[t]
		if !ok {
			set = make(map[SessionID]struct{})
			lt.readLocks[t] = set
		}
		set[sess] = struct{}{}
	}
}

// UnlockTables removes every lock held by sess.
func (lt *LockTable) UnlockTables(sess SessionID) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	for t, owner := range lt.writeLocks {
		if owner == sess {
			delete(lt.writeLocks, t)
		}
	}
	for t, readers := range lt.readLocks {
		delete(readers, sess)
		if len(readers) == 0 {
			delete(lt.readLocks, t)
		}
	}
}

// UnlockRead releases only the read locks sess holds on the given
// tables, used by endAction under READ UNCOMMITTED/READ COMMITTED
// (spec.md §4.F).
func (lt *LockTable) UnlockRead(sess SessionID, tables []*name.Name) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	for _, t := range tables {
		if readers, ok := lt.readLocks[t]; ok {
			delete(readers, sess)
			if len(readers) == 0 {
				delete(lt.readLocks, t)
			}
		}
	}
}

// HasWriteLock reports whether sess currently holds the write lock on t.
func (lt *LockTable) HasWriteLock(sess SessionID, t *name.Name) bool {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	return lt.writeLocks[t] == sess
}

// HasReadLock reports whether sess currently holds a read lock on t.
func (lt *LockTable) HasReadLock(sess SessionID, t *name.Name) bool {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	_, ok := lt.readLocks[t][sess]
	return ok
}

// Package rowstore implements the hybrid in-memory / disk-backed row
// container used for intermediate and small tables (component C),
// including automatic promotion to disk-backed storage when a
// session-configured memory-row threshold is exceeded.
//
// The disk-backed path follows a single-connection, embedded SQLite
// pattern: MaxOpenConns(1) so there is exactly one writer, a schema
// created once up front, and queries executed through database/sql
// rather than a hand-rolled page format — the on-disk page/cache file
// format itself is out of scope per spec.md §1.
package rowstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/beads-db/kernel/internal/avl"
	"github.com/beads-db/kernel/internal/name"
	"github.com/beads-db/kernel/internal/rowlog"
)

// Row is a logical tuple: a row identifier (monotone per store) and its
// column values. A Row optionally carries an attached RowAction chain
// via Version (see rowlog.Action and the version-chain head pointer
// tracked alongside it).
type Row struct {
	ID      int64
	Table   *name.Name
	Values  []any
	NullMap uint64 // bit i set means column i is NULL

	// Version is the committed RowAction stamped onto this row version
	// at commit (carrying its commit timestamp), or nil while the
	// version's writing transaction has not yet committed. Per spec.md
	// §3 invariant 1, a row has at most one uncommitted version per
	// session.
	Version *rowlog.Action
	// Prev links to the previous version in the row's version chain
	// (MVCC mode only).
	Prev *Row
}

// RowID and TableName implement rowlog.RowRef.
func (r *Row) RowID() int64          { return r.ID }
func (r *Row) TableName() *name.Name { return r.Table }

// PrunePrevChain discards ancestor versions no live transaction's
// snapshot can still observe (spec.md §4.F step 4, MVCC version-chain
// pruning): once an ancestor's commit timestamp predates every live
// transaction's snapshot timestamp, nothing earlier in the chain is
// reachable either, so the remaining tail is cut in one step.
func (r *Row) PrunePrevChain(minLiveTimestamp int64) {
	for cur := r; cur != nil; cur = cur.Prev {
		if cur.Version != nil && cur.Version.CommitTimestamp < minLiveTimestamp {
			cur.Prev = nil
			return
		}
	}
}

// Collaborator is the row-store interface injected per table and
// consumed by the transaction manager (spec.md §6 "Row-store
// collaborator interface"). The session/inTransaction/keepInMemory
// parameters named in spec.md §6 are accepted by the transaction
// manager at the call site (internal/txn); the store itself is
// table-scoped, not session-scoped, so its own methods take just what
// they need to do their job.
type Collaborator interface {
	Add(ctx context.Context, row *Row) error
	Get(ctx context.Context, id int64) (*Row, error)
	GetAsOf(ctx context.Context, id int64, asOf int64) (*Row, error)
	Update(ctx context.Context, row *Row) error
	Remove(ctx context.Context, row *Row) error
	CommitRow(ctx context.Context, row *Row, kind rowlog.Kind) error
	RollbackRow(ctx context.Context, row *Row, kind rowlog.Kind) error
	IndexRow(row *Row)
	RemoveAll(ctx context.Context) error
}

// Store is a hybrid memory/disk row container for one table.
type Store struct {
	mu sync.RWMutex

	table  *name.Name
	maxMem int // maxMemoryRowCount before promotion

	isCached bool
	rowIDSeq int64

	// In-memory mode.
	memIndex *avl.Tree // key: row id, value: *Row
	memByID  map[int64]*Row

	// Disk-backed mode.
	disk   *sql.DB
	dbPath string

	nullBitmap uint64 // OR-updated on every add, reset on RemoveAll
}

// NewStore constructs a row store for table, starting in memory-resident
// mode. maxMemoryRowCount is the session-configured promotion threshold.
func NewStore(table *name.Name, maxMemoryRowCount int) *Store {
	return &Store{
		table:    table,
		maxMem:   maxMemoryRowCount,
		memIndex: avl.New(rowIDComparator),
		memByID:  make(map[int64]*Row),
	}
}

func rowIDComparator(a, b any) int {
	ai, bi := a.(int64), b.(int64)
	switch {
	case ai < bi:
		return -1
	case ai > bi:
		return 1
	default:
		return 0
	}
}

// IsCached reports whether the store has been promoted to disk-backed mode.
func (s *Store) IsCached() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isCached
}

// Add implements spec.md §4.C's add operation: allocate storage space
// and a file position when cached, otherwise assign a monotone row id
// and keep the row in memory. Promotion is triggered here when the
// configured memory-row threshold is exceeded.
func (s *Store) Add(ctx context.Context, row *Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rowIDSeq++
	row.ID = s.rowIDSeq
	row.Table = s.table
	s.nullBitmap |= row.NullMap

	if s.isCached {
		return s.diskInsert(ctx, row)
	}

	s.memByID[row.ID] = row
	s.memIndex.Insert(row.ID, row)

	if s.memIndex.Len() > s.maxMem {
		if err := s.changeToDiskLocked(ctx); err != nil {
			return fmt.Errorf("promote %s to disk: %w", s.table, err)
		}
	}
	return nil
}

// Get serves a row from memory if it is still memory-resident, else
// fetches it via the disk cache.
func (s *Store) Get(ctx context.Context, id int64) (*Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isCached {
		return s.memByID[id], nil
	}
	return s.diskGet(ctx, id)
}

// GetAsOf serves the version of id visible to a snapshot taken at asOf
// (spec.md §4.F MVCC visibility): the head version if asOf postdates its
// commit, otherwise the first ancestor in its version chain whose commit
// timestamp is old enough. An in-flight (uncommitted) head is always
// skipped past, never returned to another session's read.
//
// Disk-backed rows have already lost their version chain at promotion
// (changeToDiskLocked discards Prev along with the AVL index), so once a
// store is cached, GetAsOf can only serve the latest committed row, same
// as Get; older snapshots spanning a promotion are not supported.
func (s *Store) GetAsOf(ctx context.Context, id int64, asOf int64) (*Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.isCached {
		return s.diskGet(ctx, id)
	}
	for r := s.memByID[id]; r != nil; r = r.Prev {
		if r.Version != nil && r.Version.CommitTimestamp <= asOf {
			return r, nil
		}
	}
	return nil, nil
}

// lastCommittedLocked walks past any uncommitted head so a concurrent
// writer's dirty row is never mistaken for the version a new write is
// based on; callers must hold s.mu.
func lastCommittedLocked(r *Row) *Row {
	for r != nil && r.Version == nil {
		r = r.Prev
	}
	return r
}

// Update overwrites the row at row.ID with a new version, linking Prev
// to the last committed version so MVCC's first-committer-wins check
// (internal/txn checkMVCCConflicts) can detect a write based on a
// since-superseded version (spec.md §4.F, scenario S1). Unlike Add, this
// does not allocate a fresh row id: it is the write path for an UPDATE
// statement, which keeps the row's identity and only replaces its
// values.
func (s *Store) Update(ctx context.Context, row *Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row.Table = s.table
	s.nullBitmap |= row.NullMap

	if s.isCached {
		head, err := s.diskGet(ctx, row.ID)
		if err != nil {
			return err
		}
		row.Prev = lastCommittedLocked(head)
		return s.diskInsertWithID(ctx, row)
	}

	row.Prev = lastCommittedLocked(s.memByID[row.ID])
	s.memByID[row.ID] = row
	s.memIndex.Insert(row.ID, row)
	return nil
}

// IndexRow inserts row into the primary index while the store is
// memory-resident. Once the store is cached it does nothing:
// changeToDiskLocked discards the AVL index on promotion and no AVL
// nodes are rebuilt over the disk rows.
func (s *Store) IndexRow(row *Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isCached {
		s.memIndex.Insert(row.ID, row)
	}
}

// Remove deletes a memory row from memByID and the AVL index; cached
// rows are freed in the disk cache.
func (s *Store) Remove(ctx context.Context, row *Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isCached {
		delete(s.memByID, row.ID)
		s.memIndex.Delete(row.ID)
		return nil
	}
	return s.diskDelete(ctx, row.ID)
}

// CommitRow implements spec.md §4.C's commit semantics.
func (s *Store) CommitRow(ctx context.Context, row *Row, kind rowlog.Kind) error {
	switch kind {
	case rowlog.Insert:
		return nil
	case rowlog.Delete, rowlog.InsertDelete:
		return s.Remove(ctx, row)
	case rowlog.DeleteFinal:
		return fmt.Errorf("rowstore: DELETE_FINAL is illegal in hybrid mode")
	default:
		return nil
	}
}

// RollbackRow implements spec.md §4.C's rollback semantics.
func (s *Store) RollbackRow(ctx context.Context, row *Row, kind rowlog.Kind) error {
	switch kind {
	case rowlog.Delete:
		s.mu.Lock()
		if !s.isCached {
			s.memByID[row.ID] = row
			s.memIndex.Insert(row.ID, row)
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()
		return s.diskInsert(ctx, row)
	case rowlog.Insert, rowlog.InsertDelete:
		if row.Prev != nil {
			// row overwrote an existing committed version (Update, not a
			// fresh Add); undoing it must restore that version rather
			// than deleting the row id outright.
			s.mu.Lock()
			defer s.mu.Unlock()
			if !s.isCached {
				s.memByID[row.ID] = row.Prev
				s.memIndex.Insert(row.ID, row.Prev)
				return nil
			}
			return s.diskInsertWithID(ctx, row.Prev)
		}
		return s.Remove(ctx, row)
	default:
		return nil
	}
}

// RemoveAll clears the store and resets the null-column bitmap
// invariant (spec.md §4.C).
func (s *Store) RemoveAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nullBitmap = 0
	if !s.isCached {
		s.memIndex.Clear()
		s.memByID = make(map[int64]*Row)
		return nil
	}
	_, err := s.disk.ExecContext(ctx, "DELETE FROM rows")
	return err
}

// NullBitmap returns the OR-accumulated null-column bitmap, valid
// without consulting any index (spec.md §4.C invariant).
func (s *Store) NullBitmap() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nullBitmap
}

// Scan visits every row in primary-key order, memory or disk backed.
func (s *Store) Scan(ctx context.Context, fn func(*Row) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isCached {
		keepGoing := true
		s.memIndex.InOrder(func(_, v any) bool {
			keepGoing = fn(v.(*Row))
			return keepGoing
		})
		return nil
	}
	return s.diskScan(ctx, fn)
}

// ChangeToDisk promotes the store to disk-backed mode, as spec.md §4.C
// describes: create a fresh disk cache slot, relink every existing row
// into disk-backed form via a scan of the primary index, then discard
// the in-memory AVL roots.
func (s *Store) ChangeToDisk(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changeToDiskLocked(ctx)
}

func (s *Store) changeToDiskLocked(ctx context.Context) error {
	if s.isCached {
		return nil
	}
	if err := s.openDiskLocked(ctx); err != nil {
		return err
	}
	var relinkErr error
	s.memIndex.InOrder(func(_, v any) bool {
		row := v.(*Row)
		if err := s.diskInsertWithID(ctx, row); err != nil {
			relinkErr = err
			return false
		}
		return true
	})
	if relinkErr != nil {
		return relinkErr
	}
	s.memIndex.Clear()
	s.memByID = nil
	s.isCached = true
	return nil
}

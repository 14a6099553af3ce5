package txn

import (
	"context"

	"github.com/beads-db/kernel/internal/locktable"
	"github.com/beads-db/kernel/internal/rowstore"
)

// locksManager implements strict two-phase locking (spec.md §4.F, mode
// LOCKS): every statement acquires table-level read/write locks before
// running and holds them until commit or rollback, except that
// EndAction drops read locks at statement end under READ COMMITTED
// (READ UNCOMMITTED is stored as READ COMMITTED). This is the
// conservative default mode, matching the one-writer-at-a-time
// discipline a single-connection embedded-SQLite store effectively
// assumes.
type locksManager struct {
	c *Common
}

// NewLocksManager constructs a strict-2PL transaction manager sharing c.
func NewLocksManager(c *Common) Manager { return &locksManager{c: c} }

func (m *locksManager) Mode() Mode { return ModeLocks }

func (m *locksManager) BeginAction(ctx context.Context, sess SessionView, stmt locktable.Statement) error {
	if !sess.IsTransaction() {
		m.c.BeginTransaction(sess)
		m.c.RegisterSession(sess)
	}
	return m.c.AcquireLocks(ctx, sess.ID(), stmt, m.c.LiveSessionIDs)
}

// EndAction releases the statement's read locks at statement end under
// READ COMMITTED (spec.md §4.F mode table): a READ COMMITTED reader only
// needs the row as of this one statement, not for the rest of the
// transaction, so its read locks are dropped immediately rather than
// held to commit. Write locks, and read locks under REPEATABLE READ or
// SERIALIZABLE, are never released mid-transaction.
func (m *locksManager) EndAction(ctx context.Context, sess SessionView, stmt locktable.Statement) error {
	if sess.Isolation() != ReadCommitted || len(stmt.ReadTables) == 0 {
		return nil
	}
	m.c.Locks.UnlockRead(locktable.SessionID(sess.ID()), stmt.ReadTables)
	return nil
}

func (m *locksManager) Commit(ctx context.Context, sess SessionView) error {
	return runCommitPipeline(ctx, m.c, sess, m.Mode())
}

func (m *locksManager) Rollback(ctx context.Context, sess SessionView) error {
	return runRollback(ctx, m.c, sess, 0, m.Mode())
}

// Savepoint under LOCKS only needs the log-position marker recorded by
// the caller (internal/session); locks are never partially released, so
// there is no lock-table bookkeeping to do here.
func (m *locksManager) Savepoint(sess SessionView, index int, ts int64) {}

func (m *locksManager) RollbackToSavepoint(ctx context.Context, sess SessionView, index int, ts int64) error {
	return runRollback(ctx, m.c, sess, index, m.Mode())
}

// runRollback unwinds sess's row-action log down to (but not including)
// toIndex, applying RollbackRow to each undone action in reverse order,
// then truncates the log (spec.md §4.C/§4.F rollback semantics). When
// toIndex is 0 the whole transaction is abandoned: locks are released
// and the session returns to autocommit/idle.
func runRollback(ctx context.Context, c *Common, sess SessionView, toIndex int, mode Mode) error {
	log := sess.Log()
	for i := log.Size() - 1; i >= toIndex; i-- {
		action := log.Get(i)
		store := c.storeFor(action.Table)
		if store == nil {
			continue
		}
		row, ok := action.Store.(*rowstore.Row)
		if !ok {
			continue
		}
		if err := store.RollbackRow(ctx, row, action.Kind); err != nil {
			return err
		}
	}
	log.Truncate(toIndex)
	if toIndex == 0 {
		c.ReleaseLocks(sess.ID())
		c.endTransactionCommon(sess)
		c.UnregisterSession(sess)
	}
	c.metrics.recordRollback(ctx, mode)
	return nil
}

package txn

import (
	"context"

	"github.com/beads-db/kernel/internal/kernelerr"
	"github.com/beads-db/kernel/internal/locktable"
	"github.com/beads-db/kernel/internal/rowstore"
)

// mvccManager implements optimistic multi-version concurrency control
// (spec.md §4.F, mode MVCC): readers and writers never block each
// other during execution — only DDL still serializes via the catalog
// lock — and conflicting writers are instead detected at commit time
// by walking each written row's version chain (rowstore.Row.Prev) for
// a commit newer than this transaction's snapshot. This grounds
// scenario S1 (spec.md §8, lost-update-under-MVCC) directly: the second
// committer of a concurrently-edited row gets SerializationFailure
// instead of silently overwriting the first.
type mvccManager struct {
	c *Common
}

// NewMVCCManager constructs an MVCC transaction manager sharing c.
func NewMVCCManager(c *Common) Manager { return &mvccManager{c: c} }

func (m *mvccManager) Mode() Mode { return ModeMVCC }

func (m *mvccManager) BeginAction(ctx context.Context, sess SessionView, stmt locktable.Statement) error {
	if !sess.IsTransaction() {
		m.c.BeginTransaction(sess)
		m.c.RegisterSession(sess)
	}
	if !stmt.CatalogLock {
		return nil
	}
	return m.c.AcquireLocks(ctx, sess.ID(), stmt, m.c.LiveSessionIDs)
}

// EndAction is a no-op: MVCC never holds row or table locks mid-action.
func (m *mvccManager) EndAction(ctx context.Context, sess SessionView, stmt locktable.Statement) error {
	return nil
}

func (m *mvccManager) Commit(ctx context.Context, sess SessionView) error {
	if err := checkMVCCConflicts(sess); err != nil {
		sess.SetAbortTransaction(true)
		_ = runRollback(ctx, m.c, sess, 0, m.Mode())
		return err
	}
	return runCommitPipeline(ctx, m.c, sess, m.Mode())
}

// checkMVCCConflicts implements spec.md §4.F's first-committer-wins
// rule: a write is rejected if the row it targeted has since been
// committed by another transaction whose commit timestamp postdates
// this transaction's snapshot (its TransactionTimestamp).
func checkMVCCConflicts(sess SessionView) error {
	log := sess.Log()
	for i := 0; i < log.Size(); i++ {
		a := log.Get(i)
		row, ok := a.Store.(*rowstore.Row)
		if !ok || row.Prev == nil || row.Prev.Version == nil {
			continue
		}
		if row.Prev.Version.CommitTimestamp > sess.TransactionTimestamp() {
			return kernelerr.New(kernelerr.SerializationFailure, a.Table.String())
		}
	}
	return nil
}

func (m *mvccManager) Rollback(ctx context.Context, sess SessionView) error {
	return runRollback(ctx, m.c, sess, 0, m.Mode())
}

func (m *mvccManager) Savepoint(sess SessionView, index int, ts int64) {}

func (m *mvccManager) RollbackToSavepoint(ctx context.Context, sess SessionView, index int, ts int64) error {
	return runRollback(ctx, m.c, sess, index, m.Mode())
}

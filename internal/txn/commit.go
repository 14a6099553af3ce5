package txn

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/beads-db/kernel/internal/rowlog"
	"github.com/beads-db/kernel/internal/rowstore"
)

// runCommitPipeline implements spec.md §4.F's commit sequence: prepare
// (assign the commit timestamp), persist (apply every logged action to
// its row store), write the commit to the durability logger and adjust
// LOB usage concurrently, finalise (prune the version chains of deleted
// rows), release table locks, and tear down transaction bookkeeping. Failures from
// the durability logger are reported but never abort an otherwise
// successful commit (spec.md §7).
func runCommitPipeline(ctx context.Context, c *Common, sess SessionView, mode Mode) error {
	ts := prepareCommit(c, sess)

	if err := persistCommit(ctx, c, sess, ts); err != nil {
		return err
	}

	// The durability log write and the LOB-usage adjustment touch
	// disjoint state (the log and the LOB manager) and neither can fail
	// the commit (spec.md §7), so they run concurrently via errgroup
	// rather than serially.
	var g errgroup.Group
	if c.logger != nil {
		g.Go(func() error {
			if err := c.logger.WriteCommitStatement(ctx, sess.ID()); err != nil {
				slog.Warn("commit log write failed", "session", sess.ID(), "error", err)
			}
			return nil
		})
	}
	if c.lob != nil {
		g.Go(func() error {
			adjustLobUsage(ctx, c, sess)
			return nil
		})
	}
	_ = g.Wait()

	finaliseRows(ctx, c, sess)

	sess.Log().Reset()
	c.ReleaseLocks(sess.ID())
	c.endTransactionCommon(sess)
	c.UnregisterSession(sess)
	c.metrics.recordCommit(ctx, mode)
	return nil
}

// prepareCommit assigns the commit timestamp (spec.md §4.F step 1): the
// next global timestamp, the same formula in every mode. MVCC's
// first-committer-wins check (checkMVCCConflicts) compares this
// timestamp against each writer's own transaction-start snapshot, so it
// needs no separate commit-timestamp formula of its own.
func prepareCommit(c *Common, sess SessionView) int64 {
	return c.NextTimestamp()
}

// persistCommit applies CommitRow to every action logged this
// transaction, in log order (spec.md §4.F step 2). Log.Get returns a
// copy, so the commit timestamp set on action does not reach the logged
// entries; what carries it is the row's own Version, which a committed
// Insert stamps, so a later writer that
// links Prev to this row (rowstore.Store.Update) can see when it was
// committed — the version-chain link checkMVCCConflicts depends on.
func persistCommit(ctx context.Context, c *Common, sess SessionView, ts int64) error {
	log := sess.Log()
	for i := 0; i < log.Size(); i++ {
		action := log.Get(i)
		action.CommitTimestamp = ts
		row, ok := action.Store.(*rowstore.Row)
		if !ok {
			continue
		}
		store := c.storeFor(action.Table)
		if store == nil {
			continue
		}
		if err := store.CommitRow(ctx, row, action.Kind); err != nil {
			return err
		}
		if action.Kind == rowlog.Insert {
			row.Version = &rowlog.Action{CommitTimestamp: ts}
		}
	}
	return nil
}

// finaliseRows prunes the version chain behind any row this transaction
// deleted (spec.md §4.F step 4): once every live transaction's snapshot
// postdates an ancestor's commit, nothing earlier in the chain can ever
// be read again, so it is cut loose. It runs in every mode, since
// rowstore.Store.Update links Prev in every mode.
func finaliseRows(ctx context.Context, c *Common, sess SessionView) {
	minLive := c.minLiveTransactionTimestamp()
	log := sess.Log()
	for i := 0; i < log.Size(); i++ {
		a := log.Get(i)
		if a.Kind != rowlog.Delete && a.Kind != rowlog.InsertDelete {
			continue
		}
		row, ok := a.Store.(*rowstore.Row)
		if !ok {
			continue
		}
		row.PrunePrevChain(minLive)
	}
}

// adjustLobUsage walks the logged actions and notifies the LOB manager
// of reference-count deltas per table (spec.md §4.F step 6). Tables
// without LOB columns are unaffected; the LOBManager implementation
// decides which tables it cares about.
func adjustLobUsage(ctx context.Context, c *Common, sess SessionView) {
	seen := make(map[string]struct{})
	log := sess.Log()
	for i := 0; i < log.Size(); i++ {
		a := log.Get(i)
		key := a.Table.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		delta := 0
		switch a.Kind {
		case rowlog.Insert:
			delta = 1
		case rowlog.Delete:
			delta = -1
		}
		if delta == 0 {
			continue
		}
		if err := c.lob.AdjustUsage(ctx, a.Table, delta); err != nil {
			slog.Warn("lob usage adjustment failed", "table", a.Table.String(), "error", err)
		}
	}
}

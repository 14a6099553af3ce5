package txn

import (
	"context"
	"sync"

	"github.com/beads-db/kernel/internal/locktable"
)

// ResetMode is the granularity of a session reset (spec.md §4.F "Session
// reset modes").
type ResetMode int

const (
	ResetResults    ResetMode = iota // discard pending result sets only
	ResetTables                      // release table-level locks, keep the transaction open
	ResetAll                         // full reset: rolls the open transaction back, as Rollback
	ResetRollback                    // roll the open transaction back
	ResetStatement                   // undo the current statement only (autocommit retry)
	ResetClose                       // session is closing; force-rollback any open transaction
)

// Coordinator owns the active Manager and mediates mode switches. It is
// the top-level entry point internal/session talks to.
type Coordinator struct {
	mu      sync.RWMutex
	common  *Common
	active  Manager
}

// NewCoordinator constructs a Coordinator starting in the given mode.
func NewCoordinator(storeFor StoreFor, logger Logger, lob LOBManager, startMode Mode) *Coordinator {
	c := NewCommon(storeFor, logger, lob)
	return &Coordinator{common: c, active: managerFor(startMode, c)}
}

func managerFor(mode Mode, c *Common) Manager {
	switch mode {
	case ModeMV2PL:
		return NewMV2PLManager(c)
	case ModeMVCC:
		return NewMVCCManager(c)
	default:
		return NewLocksManager(c)
	}
}

// Mode returns the coordinator's current mode.
func (co *Coordinator) Mode() Mode {
	co.mu.RLock()
	defer co.mu.RUnlock()
	return co.active.Mode()
}

// SetMode switches the active mode. Per spec.md §4.F, this is only
// legal when at most one transaction is currently live; otherwise it
// returns INVALID_TRANSACTION_STATE and leaves the mode unchanged.
func (co *Coordinator) SetMode(mode Mode) error {
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.active.Mode() == mode {
		return nil
	}
	if !co.common.CanSetMode() {
		return invalidState("mode switch with multiple live transactions")
	}
	co.active = managerFor(mode, co.common)
	return nil
}

// manager returns the active manager under a read lock, for use by the
// forwarding methods below; the active pointer itself is only ever
// swapped by SetMode while holding the write lock.
func (co *Coordinator) manager() Manager {
	co.mu.RLock()
	defer co.mu.RUnlock()
	return co.active
}

// BeginAction, EndAction, Commit, Rollback, Savepoint, and
// RollbackToSavepoint forward to whichever Manager is currently active,
// so callers (internal/session) never need to know the mode.
func (co *Coordinator) BeginAction(ctx context.Context, sess SessionView, stmt locktable.Statement) error {
	return co.manager().BeginAction(ctx, sess, stmt)
}

func (co *Coordinator) EndAction(ctx context.Context, sess SessionView, stmt locktable.Statement) error {
	return co.manager().EndAction(ctx, sess, stmt)
}

func (co *Coordinator) Commit(ctx context.Context, sess SessionView) error {
	return co.manager().Commit(ctx, sess)
}

func (co *Coordinator) Rollback(ctx context.Context, sess SessionView) error {
	return co.manager().Rollback(ctx, sess)
}

func (co *Coordinator) Savepoint(sess SessionView, index int, ts int64) {
	co.manager().Savepoint(sess, index, ts)
}

func (co *Coordinator) RollbackToSavepoint(ctx context.Context, sess SessionView, index int, ts int64) error {
	return co.manager().RollbackToSavepoint(ctx, sess, index, ts)
}

// Reset applies a session reset at the requested granularity (spec.md
// §4.F "Session reset modes"). ResetResults is a pure session-side
// concern (discarding result sets) and is a no-op here. ResetStatement
// undoes only the current statement's logged actions, via the log index
// the session recorded when it started the statement (Session.Execute);
// the remaining modes roll back the whole transaction.
func (co *Coordinator) Reset(ctx context.Context, sess SessionView, mode ResetMode) error {
	switch mode {
	case ResetResults:
		return nil
	case ResetTables:
		co.common.ReleaseLocks(sess.ID())
		return nil
	case ResetStatement:
		if !sess.IsTransaction() {
			return nil
		}
		return co.manager().RollbackToSavepoint(ctx, sess, sess.StatementStartIndex(), sess.ActionTimestamp())
	case ResetAll, ResetRollback, ResetClose:
		if !sess.IsTransaction() {
			return nil
		}
		return co.manager().Rollback(ctx, sess)
	default:
		return nil
	}
}

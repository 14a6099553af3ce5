package txn

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/beads-db/kernel/internal/kernelerr"
	"github.com/beads-db/kernel/internal/locktable"
)

// DefaultLockWaitTimeout bounds how long AcquireLocks will keep parking
// and re-evaluating a session's waited-set before giving up with
// StatementAborted, so a pathological sequence of near-misses (sess
// wakes, recomputes, blocks again) can't wait forever without a true
// deadlock ever being detected. It is a package-level setting;
// internal/config does not set it.
var DefaultLockWaitTimeout = 30 * time.Second

// pendingWait tracks one blocked session's outstanding waited-set so
// ReleaseLocks can count its latch down incrementally as each blocker
// commits or rolls back.
type pendingWait struct {
	latch   *CountDownLatch
	waiting map[int64]struct{}
}

// lockWaitState is embedded into Common via composition (see common.go)
// rather than duplicated per mode, since deadlock bookkeeping is shared
// across LOCKS and MV2PL.
type lockWaitState struct {
	mu       sync.Mutex
	waitsFor map[int64]map[int64]struct{}
	pending  map[int64]*pendingWait
}

func newLockWaitState() *lockWaitState {
	return &lockWaitState{
		waitsFor: make(map[int64]map[int64]struct{}),
		pending:  make(map[int64]*pendingWait),
	}
}

// wouldDeadlock reports whether blocking session on waitedSet would close
// a cycle in the wait-for graph: true if any session transitively waited
// on by waitedSet already (directly or transitively) waits on session
// itself (spec.md §4.F "deadlock prevention").
func (s *lockWaitState) wouldDeadlock(session int64, waitedSet map[int64]struct{}) bool {
	visited := make(map[int64]struct{})
	queue := make([]int64, 0, len(waitedSet))
	for id := range waitedSet {
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == session {
			return true
		}
		if _, ok := visited[cur]; ok {
			continue
		}
		visited[cur] = struct{}{}
		for next := range s.waitsFor[cur] {
			queue = append(queue, next)
		}
	}
	return false
}

// AcquireLocks blocks sessID until stmt's read/write sets can be locked
// without conflict, aborting immediately with StatementAborted if doing
// so would deadlock (spec.md §4.E/§4.F: deadlock avoidance takes
// priority over waiting).
func (c *Common) AcquireLocks(ctx context.Context, sessID int64, stmt locktable.Statement, live locktable.AllTransactingSessions) error {
	ltSess := &locktable.Session{ID: locktable.SessionID(sessID)}
	sess := c.sessionByID(sessID)

	budget := backoff.NewExponentialBackOff()
	budget.MaxElapsedTime = DefaultLockWaitTimeout
	budget.Reset()

	for {
		if budget.NextBackOff() == backoff.Stop {
			c.metrics.recordLockWaitTimeout(ctx)
			c.abortAction(sess)
			return kernelerr.New(kernelerr.StatementAborted, "lock wait timeout")
		}
		waited := c.Locks.SetWaitedSessions(ltSess, stmt, live)
		if len(waited) == 0 {
			c.Locks.LockTables(ltSess.ID, stmt)
			return nil
		}

		waitedIDs := make(map[int64]struct{}, len(waited))
		for s := range waited {
			waitedIDs[int64(s)] = struct{}{}
		}

		c.waits.mu.Lock()
		if c.waits.wouldDeadlock(sessID, waitedIDs) {
			c.waits.mu.Unlock()
			c.metrics.recordDeadlockAvoided(ctx)
			c.abortAction(sess)
			return kernelerr.New(kernelerr.StatementAborted, "deadlock detected")
		}
		c.waits.waitsFor[sessID] = waitedIDs
		latch := NewCountDownLatch(len(waitedIDs))
		c.waits.pending[sessID] = &pendingWait{latch: latch, waiting: waitedIDs}
		c.waits.mu.Unlock()

		c.markWaiting(sess, sessID, latch, waitedIDs)
		err := latch.Wait(ctx)
		c.clearWaiting(sess, sessID, waitedIDs)

		c.waits.mu.Lock()
		delete(c.waits.waitsFor, sessID)
		delete(c.waits.pending, sessID)
		c.waits.mu.Unlock()
		if err != nil {
			return err
		}
		// Loop: recompute the waited-set, since locks may have shifted
		// while we were parked.
	}
}

// markWaiting records sessID's latch and waited-set (spec.md GLOSSARY
// "Waiting set") so Session.State() can report Waiting and so each
// blocker's WaitedBy reflects who is parked on it. A no-op if sess
// wasn't registered (e.g. a direct Common.AcquireLocks call in tests
// that never called RegisterSession).
func (c *Common) markWaiting(sess SessionView, sessID int64, latch *CountDownLatch, waitedIDs map[int64]struct{}) {
	if sess == nil {
		return
	}
	sess.SetLatch(latch)
	waitingOn := sess.WaitingOn()
	for id := range waitedIDs {
		waitingOn[id] = struct{}{}
		if blocker := c.sessionByID(id); blocker != nil {
			blocker.WaitedBy()[sessID] = struct{}{}
		}
	}
}

func (c *Common) clearWaiting(sess SessionView, sessID int64, waitedIDs map[int64]struct{}) {
	if sess == nil {
		return
	}
	sess.SetLatch(nil)
	waitingOn := sess.WaitingOn()
	for id := range waitedIDs {
		delete(waitingOn, id)
		if blocker := c.sessionByID(id); blocker != nil {
			delete(blocker.WaitedBy(), sessID)
		}
	}
}

// abortAction flags the in-flight statement as aborted (spec.md §4.F);
// Session.Execute clears it at the start of the next statement.
func (c *Common) abortAction(sess SessionView) {
	if sess == nil {
		return
	}
	sess.SetAbortAction(true)
}

// ReleaseLocks releases every lock sessID holds and wakes any session
// that was waiting specifically on it.
func (c *Common) ReleaseLocks(sessID int64) {
	c.Locks.UnlockTables(locktable.SessionID(sessID))

	c.waits.mu.Lock()
	defer c.waits.mu.Unlock()
	delete(c.waits.waitsFor, sessID)
	for _, p := range c.waits.pending {
		if _, ok := p.waiting[sessID]; ok {
			delete(p.waiting, sessID)
			p.latch.CountDown()
		}
	}
}

// Package txn implements the transaction manager (component F) in its
// three modes — strict two-phase locking (LOCKS), multi-version locking
// (MVLOCKS), and multi-version concurrency control (MVCC) — sharing the
// timestamp counter, live-transaction deque, and lock table described in
// spec.md §4.F.
//
// The mutex-guarded shared-state struct and context-threaded commit
// pipeline follow the style of an embedded-SQLite transaction wrapper
// (sql.Tx wrapped in a small struct, explicit Commit/Rollback),
// generalized here from a single sql.Tx to
// the kernel's own row-action log and row-store collaborators.
package txn

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/beads-db/kernel/internal/kernelerr"
	"github.com/beads-db/kernel/internal/locktable"
	"github.com/beads-db/kernel/internal/name"
	"github.com/beads-db/kernel/internal/rowlog"
	"github.com/beads-db/kernel/internal/rowstore"
)

// Mode is one of the three transaction-manager modes.
type Mode int

const (
	ModeLocks Mode = iota
	ModeMV2PL
	ModeMVCC
)

// Isolation is a session's isolation level (spec.md §6).
type Isolation int

const (
	ReadUncommitted Isolation = iota // rewritten to ReadCommitted at SET time
	ReadCommitted
	RepeatableRead
	Serializable
)

// Logger is the durability escape hatch (spec.md §6 "Logger collaborator
// interface"). Failures here are logged to a warning channel by the
// caller but never fail a commit (spec.md §7).
type Logger interface {
	WriteCommitStatement(ctx context.Context, session int64) error
	WriteSequenceStatement(ctx context.Context, session int64, sequence *name.Name) error
	LogStatementEvent(ctx context.Context, session int64, level string, msg string) error
	NeedsCheckpointReset() bool
}

// LOBManager adjusts reference counts on LOB-bearing tables during
// commit (spec.md §4.F step 6). LOB byte storage itself is out of
// scope; this is the interface seam a real engine would plug into.
type LOBManager interface {
	AdjustUsage(ctx context.Context, table *name.Name, delta int) error
}

// StoreFor resolves the row-store collaborator for a table.
type StoreFor func(table *name.Name) rowstore.Collaborator

// SessionView is the narrow slice of session state the transaction
// manager reads and mutates. internal/session.Session implements this.
type SessionView interface {
	ID() int64
	TransactionTimestamp() int64
	SetTransactionTimestamp(int64)
	ActionTimestamp() int64
	SetActionTimestamp(int64)
	SetIsTransaction(bool)
	IsTransaction() bool
	Isolation() Isolation
	ReadOnly() bool
	Log() *rowlog.Log
	SetAbortTransaction(bool)
	AbortTransaction() bool
	SetAbortAction(bool)
	AbortAction() bool
	Latch() *CountDownLatch
	SetLatch(*CountDownLatch)
	WaitingOn() map[int64]struct{}
	WaitedBy() map[int64]struct{}
	StatementStartIndex() int
	SetStatementStartIndex(int)
}

// Common holds the state shared by every mode (spec.md §4.F
// "Shared state").
type Common struct {
	mu sync.RWMutex

	globalTimestamp int64 // atomic via atomic.AddInt64
	liveTimestamps  []int64
	transactionCount int64 // atomic

	Locks *locktable.LockTable

	storeFor StoreFor
	logger   Logger
	lob      LOBManager

	// waits holds the wait-for graph and the latches blocked sessions
	// park on (spec.md GLOSSARY "Waiting set").
	waits *lockWaitState

	liveSessions map[int64]SessionView

	metrics *kernelMetrics
}

// NewCommon constructs shared manager state.
func NewCommon(storeFor StoreFor, logger Logger, lob LOBManager) *Common {
	return &Common{
		globalTimestamp: 1,
		Locks:           locktable.New(),
		storeFor:        storeFor,
		logger:          logger,
		lob:             lob,
		waits:           newLockWaitState(),
		metrics:         newKernelMetrics(),
	}
}

// NextTimestamp atomically increments and returns the global timestamp.
func (c *Common) NextTimestamp() int64 {
	return atomic.AddInt64(&c.globalTimestamp, 1)
}

// TransactionCount returns the number of sessions with IsTransaction = true.
func (c *Common) TransactionCount() int64 {
	return atomic.LoadInt64(&c.transactionCount)
}

// LiveTransactionTimestamps returns a snapshot of the live deque
// (spec.md §3 invariant 4).
func (c *Common) LiveTransactionTimestamps() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]int64, len(c.liveTimestamps))
	copy(out, c.liveTimestamps)
	return out
}

func (c *Common) addLiveTimestamp(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.liveTimestamps = append(c.liveTimestamps, ts)
}

func (c *Common) removeLiveTimestamp(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, t := range c.liveTimestamps {
		if t == ts {
			c.liveTimestamps = append(c.liveTimestamps[:i], c.liveTimestamps[i+1:]...)
			return
		}
	}
}

// RegisterSession tracks sess as transacting for lock-wait/deadlock
// bookkeeping purposes. Call at the start of the first action in a
// transaction; UnregisterSession balances it at commit/rollback.
func (c *Common) RegisterSession(sess SessionView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.liveSessions == nil {
		c.liveSessions = make(map[int64]SessionView)
	}
	c.liveSessions[sess.ID()] = sess
}

// UnregisterSession removes sess from the live set.
func (c *Common) UnregisterSession(sess SessionView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.liveSessions, sess.ID())
}

// LiveSessionIDs satisfies locktable.AllTransactingSessions.
func (c *Common) LiveSessionIDs() []locktable.SessionID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]locktable.SessionID, 0, len(c.liveSessions))
	for id := range c.liveSessions {
		out = append(out, locktable.SessionID(id))
	}
	return out
}

// sessionByID looks up a registered SessionView by id, for the
// lock-wait path to update a blocked or blocking session's Latch/
// WaitingOn/WaitedBy bookkeeping directly.
func (c *Common) sessionByID(id int64) SessionView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.liveSessions[id]
}

// minLiveTransactionTimestamp returns the oldest snapshot timestamp any
// live transaction might still need, or math.MaxInt64 if none are live
// (nothing needs preserving, so any ancestor may be pruned).
func (c *Common) minLiveTransactionTimestamp() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	min := int64(math.MaxInt64)
	for _, ts := range c.liveTimestamps {
		if ts < min {
			min = ts
		}
	}
	return min
}

// BeginTransaction assigns timestamps and marks the session transacting
// (spec.md §4.F "Common operations").
func (c *Common) BeginTransaction(sess SessionView) {
	ts := c.NextTimestamp()
	sess.SetTransactionTimestamp(ts)
	sess.SetActionTimestamp(ts)
	sess.SetIsTransaction(true)
	atomic.AddInt64(&c.transactionCount, 1)
	c.addLiveTimestamp(ts)
}

// endTransactionCommon is the shared teardown for commit/rollback:
// remove the session's live timestamp and decrement the transaction
// count. Mode-specific managers call this after their own cleanup.
func (c *Common) endTransactionCommon(sess SessionView) {
	if sess.IsTransaction() {
		c.removeLiveTimestamp(sess.TransactionTimestamp())
		atomic.AddInt64(&c.transactionCount, -1)
	}
	sess.SetIsTransaction(false)
	sess.SetTransactionTimestamp(0)
	sess.SetAbortTransaction(false)
}

// CanSetMode reports whether the manager mode may be switched right now
// (spec.md §4.F: only permitted when at most one transaction is live).
func (c *Common) CanSetMode() bool {
	return len(c.LiveTransactionTimestamps()) <= 1
}

// CountDownLatch is a session's wait primitive (spec.md §5): waiters
// park on their own latch; the last waited-on session to release locks
// counts it down. Implemented with a condition variable rather than the
// source's literal CountDownLatch class, per spec.md §9's note that the
// algorithmic contract — not the construct — is what must be preserved.
type CountDownLatch struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int
}

// NewCountDownLatch creates a latch armed for n releases.
func NewCountDownLatch(n int) *CountDownLatch {
	l := &CountDownLatch{count: n}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// CountDown decrements the latch and wakes any waiter once it reaches zero.
func (l *CountDownLatch) CountDown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count > 0 {
		l.count--
	}
	if l.count == 0 {
		l.cond.Broadcast()
	}
}

// Wait blocks until the latch reaches zero or ctx is done. Returns
// ctx.Err() on cancellation.
func (l *CountDownLatch) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.mu.Lock()
		for l.count > 0 {
			l.cond.Wait()
		}
		l.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Count returns the current latch count (for diagnostics/tests).
func (l *CountDownLatch) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Manager is the mode-specific behavior of the transaction manager
// (spec.md §4.F).
type Manager interface {
	Mode() Mode
	BeginAction(ctx context.Context, sess SessionView, stmt locktable.Statement) error
	EndAction(ctx context.Context, sess SessionView, stmt locktable.Statement) error
	Commit(ctx context.Context, sess SessionView) error
	Rollback(ctx context.Context, sess SessionView) error
	Savepoint(sess SessionView, index int, ts int64)
	RollbackToSavepoint(ctx context.Context, sess SessionView, index int, ts int64) error
}

// invalidState is a convenience constructor for INVALID_TRANSACTION_STATE.
func invalidState(arg string) error {
	return kernelerr.New(kernelerr.InvalidTransactionState, arg)
}

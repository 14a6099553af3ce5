// Package session implements per-client session state (component H):
// the Closed/Idle/InTransaction/Waiting/Aborting state machine,
// reentrance depth, the savepoint stack, and the session-facing API
// (open/close, execute, attribute get/set, savepoint, cancel).
//
// The mutex-guarded struct with small typed accessor methods follows
// the same shape used throughout the kernel's storage layer; session
// ids come from an atomic counter and google/uuid mints the
// cancel-authentication random id.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/beads-db/kernel/internal/kernelerr"
	"github.com/beads-db/kernel/internal/locktable"
	"github.com/beads-db/kernel/internal/name"
	"github.com/beads-db/kernel/internal/rowlog"
	"github.com/beads-db/kernel/internal/txn"
)

// State is the session's coarse lifecycle state (spec.md §4.H).
type State int

const (
	Closed State = iota
	Idle          // isTransaction = false, depth = 0
	InTransaction
	Waiting
	Aborting
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Idle:
		return "IDLE"
	case InTransaction:
		return "IN_TRANSACTION"
	case Waiting:
		return "WAITING"
	case Aborting:
		return "ABORTING"
	default:
		return "UNKNOWN"
	}
}

type savepointEntry struct {
	name  string
	index int
	ts    int64
}

// Session is per-client session state, satisfying txn.SessionView.
type Session struct {
	mu sync.Mutex

	id       int64
	randomID string // authenticates cancel() calls

	user          *name.Name
	currentRole   *name.Name
	currentSchema *name.Name

	autocommit bool
	readOnly   bool
	isolation  txn.Isolation
	maxRows    int

	closed  bool
	depth   int // reentrance depth; commit/rollback/setAutoCommit are no-ops while > 0
	abortTx bool
	abortAc bool

	transactionTS int64
	actionTS      int64
	isTx          bool

	log        rowlog.Log
	savepoints []savepointEntry

	latch     *txn.CountDownLatch
	waitingOn map[int64]struct{}
	waitedBy  map[int64]struct{}

	statementStartIndex int // log.Size() as of the statement currently executing

	coord *txn.Coordinator
	log_  *slog.Logger
}

var sessionIDSeq int64

// New constructs a session bound to coord, the shared transaction
// coordinator. autocommit sessions begin Idle; non-autocommit sessions
// begin a transaction immediately on their first action.
func New(coord *txn.Coordinator, user *name.Name, autocommit, readOnly bool) *Session {
	id := atomic.AddInt64(&sessionIDSeq, 1)
	return &Session{
		id:         id,
		randomID:   uuid.NewString(),
		user:       user,
		autocommit: autocommit,
		readOnly:   readOnly,
		isolation:  txn.ReadCommitted,
		waitingOn:  make(map[int64]struct{}),
		waitedBy:   make(map[int64]struct{}),
		coord:      coord,
		log_:       slog.Default().With("session", id),
	}
}

// --- txn.SessionView ---

func (s *Session) ID() int64                       { return s.id }
func (s *Session) TransactionTimestamp() int64      { s.mu.Lock(); defer s.mu.Unlock(); return s.transactionTS }
func (s *Session) SetTransactionTimestamp(ts int64) { s.mu.Lock(); s.transactionTS = ts; s.mu.Unlock() }
func (s *Session) ActionTimestamp() int64           { s.mu.Lock(); defer s.mu.Unlock(); return s.actionTS }
func (s *Session) SetActionTimestamp(ts int64)      { s.mu.Lock(); s.actionTS = ts; s.mu.Unlock() }
func (s *Session) SetIsTransaction(b bool)          { s.mu.Lock(); s.isTx = b; s.mu.Unlock() }
func (s *Session) IsTransaction() bool              { s.mu.Lock(); defer s.mu.Unlock(); return s.isTx }
func (s *Session) Isolation() txn.Isolation         { s.mu.Lock(); defer s.mu.Unlock(); return s.isolation }
func (s *Session) ReadOnly() bool                   { s.mu.Lock(); defer s.mu.Unlock(); return s.readOnly }
func (s *Session) Log() *rowlog.Log                 { return &s.log }
func (s *Session) SetAbortTransaction(b bool)       { s.mu.Lock(); s.abortTx = b; s.mu.Unlock() }
func (s *Session) AbortTransaction() bool           { s.mu.Lock(); defer s.mu.Unlock(); return s.abortTx }
func (s *Session) SetAbortAction(b bool)            { s.mu.Lock(); s.abortAc = b; s.mu.Unlock() }
func (s *Session) AbortAction() bool                { s.mu.Lock(); defer s.mu.Unlock(); return s.abortAc }
func (s *Session) Latch() *txn.CountDownLatch       { s.mu.Lock(); defer s.mu.Unlock(); return s.latch }
func (s *Session) SetLatch(l *txn.CountDownLatch)   { s.mu.Lock(); s.latch = l; s.mu.Unlock() }
func (s *Session) WaitingOn() map[int64]struct{}    { return s.waitingOn }
func (s *Session) WaitedBy() map[int64]struct{}     { return s.waitedBy }
func (s *Session) StatementStartIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statementStartIndex
}
func (s *Session) SetStatementStartIndex(i int) {
	s.mu.Lock()
	s.statementStartIndex = i
	s.mu.Unlock()
}

// State reports the session's current coarse lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return Closed
	case s.abortTx:
		return Aborting
	case s.latch != nil && s.latch.Count() > 0:
		return Waiting
	case s.isTx:
		return InTransaction
	default:
		return Idle
	}
}

// RandomID returns the cancel-authentication token (spec.md §6).
func (s *Session) RandomID() string { return s.randomID }

// enterReentrant and exitReentrant bracket a callback into the session
// (triggers, UDFs). Commit/Rollback/SetAutoCommit are no-ops while depth
// > 0 (spec.md §4.H "Reentrance").
func (s *Session) enterReentrant() {
	s.mu.Lock()
	s.depth++
	s.mu.Unlock()
}

func (s *Session) exitReentrant() {
	s.mu.Lock()
	s.depth--
	s.mu.Unlock()
}

// Reentrant runs fn as a reentrant call into the session (used by
// triggers/UDFs invoking back into session state).
func (s *Session) Reentrant(fn func() error) error {
	s.enterReentrant()
	defer s.exitReentrant()
	return fn()
}

func (s *Session) depthGuard() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth > 0
}

// Close implements spec.md §4.H: idempotent, forces a rollback of any
// open transaction first.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	wasTx := s.isTx
	s.mu.Unlock()

	if wasTx {
		s.log_.Debug("closing session with an open transaction, forcing rollback")
		return s.coord.Rollback(ctx, s)
	}
	return nil
}

var errClosed = kernelerr.New(kernelerr.ConnectionFailure, "session closed")

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	return nil
}

// Execute runs one statement through the session's execute/statement
// lifecycle (spec.md §6 "execute", §4.F beginAction/endAction): it
// records the statement's starting log position (so a later
// ResetStatement can undo just this statement), brackets fn with
// coord.BeginAction/coord.EndAction, and appends every row-action fn
// returns to the session's log only once fn and EndAction both succeed.
func (s *Session) Execute(ctx context.Context, stmt locktable.Statement, fn func() ([]rowlog.Action, error)) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.SetAbortAction(false)

	s.mu.Lock()
	s.statementStartIndex = s.log.Size()
	s.mu.Unlock()

	if err := s.coord.BeginAction(ctx, s, stmt); err != nil {
		return err
	}

	actions, err := fn()
	if endErr := s.coord.EndAction(ctx, s, stmt); err == nil {
		err = endErr
	}
	if err != nil {
		return err
	}

	for _, a := range actions {
		s.log.Append(a)
	}
	return nil
}

// Commit implements spec.md §4.H: a no-op while reentrant (depth > 0).
func (s *Session) Commit(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.depthGuard() {
		return nil
	}
	return s.coord.Commit(ctx, s)
}

// Rollback implements spec.md §4.H: a no-op while reentrant.
func (s *Session) Rollback(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.depthGuard() {
		return nil
	}
	return s.coord.Rollback(ctx, s)
}

// SetAutoCommit sets the autocommit attribute; a no-op while reentrant.
func (s *Session) SetAutoCommit(on bool) {
	if s.depthGuard() {
		return
	}
	s.mu.Lock()
	s.autocommit = on
	s.mu.Unlock()
}

// SetIsolation sets the next-transaction isolation level. Per spec.md
// §3, READ_UNCOMMITTED is silently rewritten to READ_COMMITTED.
func (s *Session) SetIsolation(level txn.Isolation) {
	if level == txn.ReadUncommitted {
		level = txn.ReadCommitted
	}
	s.mu.Lock()
	s.isolation = level
	s.mu.Unlock()
}

// Savepoint records the current row-action log size and the
// caller-supplied timestamp ts under name (spec.md §4.F "Savepoints").
func (s *Session) Savepoint(name string, ts int64) {
	s.mu.Lock()
	idx := s.log.Size()
	s.savepoints = append(s.savepoints, savepointEntry{name: name, index: idx, ts: ts})
	s.mu.Unlock()
	s.coord.Savepoint(s, idx, ts)
}

// RollbackToSavepoint reverses every action logged since name was
// declared, matching scenario S3 (spec.md §8).
func (s *Session) RollbackToSavepoint(ctx context.Context, spName string) error {
	s.mu.Lock()
	idx, ts, found := s.findSavepointLocked(spName)
	s.mu.Unlock()
	if !found {
		return fmt.Errorf("session: no such savepoint %q", spName)
	}
	if err := s.coord.RollbackToSavepoint(ctx, s, idx, ts); err != nil {
		return err
	}
	s.mu.Lock()
	s.truncateSavepointsAfterLocked(spName, true)
	s.mu.Unlock()
	return nil
}

// ReleaseSavepoint drops the named entry and every later one (spec.md
// §4.F "releaseSavepoint"), without undoing any logged actions.
func (s *Session) ReleaseSavepoint(spName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, _, found := s.findSavepointLocked(spName); !found {
		return fmt.Errorf("session: no such savepoint %q", spName)
	}
	s.truncateSavepointsAfterLocked(spName, true)
	return nil
}

func (s *Session) findSavepointLocked(spName string) (int, int64, bool) {
	for _, e := range s.savepoints {
		if e.name == spName {
			return e.index, e.ts, true
		}
	}
	return 0, 0, false
}

func (s *Session) truncateSavepointsAfterLocked(spName string, inclusive bool) {
	for i, e := range s.savepoints {
		if e.name == spName {
			if inclusive {
				s.savepoints = s.savepoints[:i]
			} else {
				s.savepoints = s.savepoints[:i+1]
			}
			return
		}
	}
}

// Cancel is the session-facing cancel operation (spec.md §6), called on
// the *target* session by whoever holds its random id. Authentication
// happens at the caller boundary (e.g. the CLI/RPC layer resolving
// randomID -> *Session); here we simply verify the token matches before
// acting, so a forged id can never reach resetSession.
func (s *Session) Cancel(ctx context.Context, randomID string) error {
	s.mu.Lock()
	mismatch := randomID != s.randomID
	s.mu.Unlock()
	if mismatch {
		return kernelerr.New(kernelerr.NotAuthorized, "cancel: random id mismatch")
	}
	return s.coord.Reset(ctx, s, txn.ResetStatement)
}

package txn_test

import (
	"github.com/beads-db/kernel/internal/rowlog"
	"github.com/beads-db/kernel/internal/txn"
)

// fakeSession is a minimal txn.SessionView used to drive the
// transaction manager in tests without pulling in internal/session.
type fakeSession struct {
	id        int64
	txTS      int64
	actionTS  int64
	inTx      bool
	isolation txn.Isolation
	readOnly  bool
	log       rowlog.Log
	abortTx   bool
	abortAct  bool
	latch     *txn.CountDownLatch
	waitingOn map[int64]struct{}
	waitedBy  map[int64]struct{}

	statementStartIndex int
}

func newFakeSession(id int64) *fakeSession {
	return &fakeSession{id: id, waitingOn: map[int64]struct{}{}, waitedBy: map[int64]struct{}{}}
}

func (s *fakeSession) ID() int64                            { return s.id }
func (s *fakeSession) TransactionTimestamp() int64           { return s.txTS }
func (s *fakeSession) SetTransactionTimestamp(ts int64)      { s.txTS = ts }
func (s *fakeSession) ActionTimestamp() int64                { return s.actionTS }
func (s *fakeSession) SetActionTimestamp(ts int64)           { s.actionTS = ts }
func (s *fakeSession) SetIsTransaction(b bool)               { s.inTx = b }
func (s *fakeSession) IsTransaction() bool                   { return s.inTx }
func (s *fakeSession) Isolation() txn.Isolation               { return s.isolation }
func (s *fakeSession) ReadOnly() bool                         { return s.readOnly }
func (s *fakeSession) Log() *rowlog.Log                       { return &s.log }
func (s *fakeSession) SetAbortTransaction(b bool)             { s.abortTx = b }
func (s *fakeSession) AbortTransaction() bool                 { return s.abortTx }
func (s *fakeSession) SetAbortAction(b bool)                  { s.abortAct = b }
func (s *fakeSession) AbortAction() bool                      { return s.abortAct }
func (s *fakeSession) Latch() *txn.CountDownLatch             { return s.latch }
func (s *fakeSession) SetLatch(l *txn.CountDownLatch)         { s.latch = l }
func (s *fakeSession) WaitingOn() map[int64]struct{}          { return s.waitingOn }
func (s *fakeSession) WaitedBy() map[int64]struct{}           { return s.waitedBy }
func (s *fakeSession) StatementStartIndex() int               { return s.statementStartIndex }
func (s *fakeSession) SetStatementStartIndex(i int)           { s.statementStartIndex = i }

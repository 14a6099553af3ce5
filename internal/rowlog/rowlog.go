// Package rowlog implements the per-session row-action log (component
// D): an ordered sequence of row mutations that is the unit of
// commit/rollback/savepoint.
package rowlog

import "github.com/beads-db/kernel/internal/name"

// Kind is the type of a single row action (spec.md §3).
type Kind int

const (
	Insert Kind = iota
	Delete
	InsertDelete // same txn created then removed
	DeleteFinal
	None // logically erased
)

// RowRef is the narrow view of a row the log needs: enough to find it
// again in its store for commit/rollback, without the log owning the
// row itself (spec.md §5: "the store keeps a back-link used only during
// commit/rollback").
type RowRef interface {
	RowID() int64
	TableName() *name.Name
}

// Action is one entry in a session's row-action log.
type Action struct {
	Session          int64
	Table            *name.Name
	Store            RowRef
	OriginalRowID    int64
	ActionTimestamp  int64
	CommitTimestamp  int64 // 0 until committed
	ChangedColumns   uint64 // bitmask, for updates decomposed into delete+insert
	Kind             Kind
}

// Log is a session's ordered row-action list.
type Log struct {
	actions []Action
}

// Append adds an action to the end of the log. Per spec.md §4.D,
// callers must ensure ActionTimestamp is monotonically non-decreasing
// within a session; the log itself does not allocate timestamps.
func (l *Log) Append(a Action) {
	l.actions = append(l.actions, a)
}

// Get returns the action at index i.
func (l *Log) Get(i int) Action {
	return l.actions[i]
}

// Size returns the number of actions currently logged.
func (l *Log) Size() int {
	return len(l.actions)
}

// Truncate discards every action at or after toIndex. Used by rollback
// (full or to a savepoint), which undoes those actions and then
// truncates; ReleaseSavepoint leaves the log untouched.
func (l *Log) Truncate(toIndex int) {
	l.actions = l.actions[:toIndex]
}

// Slice returns a read-only view of actions in [from, len).
func (l *Log) Slice(from int) []Action {
	return l.actions[from:]
}

// Reset clears the log entirely (used after commit/rollback completes).
func (l *Log) Reset() {
	l.actions = nil
}

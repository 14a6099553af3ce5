package rowstore

// Store satisfies the row-store collaborator interface of spec.md §6
// directly; the transaction manager calls CommitRow and RollbackRow
// for each entry of the row-action log, and the remaining methods
// serve the statement-level callers.
var _ Collaborator = (*Store)(nil)

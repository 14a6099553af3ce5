// Package kernelerr defines the typed error taxonomy the transactional
// storage kernel raises to its callers. Every exported operation across
// internal/txn, internal/rights, and internal/catalog returns a *Error
// for the failure kinds named here rather than an ad-hoc wrapped error,
// so callers can branch on Code with errors.As.
package kernelerr

import (
	"errors"
	"fmt"
)

// Code identifies one of the abstract error kinds the kernel emits.
type Code int

const (
	// SerializationFailure is a commit lost to a write-write conflict.
	SerializationFailure Code = iota
	// StatementAborted covers statement timeout, cancel, and deadlock avoidance.
	StatementAborted
	// InvalidTransactionState covers e.g. SET ISOLATION mid-transaction or a
	// mode switch while more than one transaction is live.
	InvalidTransactionState
	// NotAuthorized is an access check failure.
	NotAuthorized
	// GrantInvalid means the grantor does not hold the privilege being granted.
	GrantInvalid
	// RoleNotGranted is a revoke of a role the grantee does not directly hold.
	RoleNotGranted
	// ObjectNotFound means a name did not resolve in the catalog.
	ObjectNotFound
	// ObjectReferenced is a drop without CASCADE while referrers exist.
	ObjectReferenced
	// SchemaNotEmpty is a non-cascading drop of a non-empty schema.
	SchemaNotEmpty
	// SchemaNotModifiable targets a system schema.
	SchemaNotModifiable
	// ConnectionFailure is a fatal session error absorbed during close.
	ConnectionFailure
)

func (c Code) String() string {
	switch c {
	case SerializationFailure:
		return "SERIALIZATION_FAILURE"
	case StatementAborted:
		return "STATEMENT_ABORTED"
	case InvalidTransactionState:
		return "INVALID_TRANSACTION_STATE"
	case NotAuthorized:
		return "NOT_AUTHORIZED"
	case GrantInvalid:
		return "GRANT_INVALID"
	case RoleNotGranted:
		return "ROLE_NOT_GRANTED"
	case ObjectNotFound:
		return "OBJECT_NOT_FOUND"
	case ObjectReferenced:
		return "OBJECT_REFERENCED"
	case SchemaNotEmpty:
		return "SCHEMA_NOT_EMPTY"
	case SchemaNotModifiable:
		return "SCHEMA_NOT_MODIFIABLE"
	case ConnectionFailure:
		return "CONNECTION_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// Error is the kernel's typed error value: a code, the offending name
// (object, grantee, or table, depending on the code), and an optional
// wrapped cause.
type Error struct {
	Code    Code
	Arg     string
	Cause   error
}

func (e *Error) Error() string {
	if e.Arg == "" {
		return e.Code.String()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Arg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Arg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a kernel error with no wrapped cause.
func New(code Code, arg string) *Error {
	return &Error{Code: code, Arg: arg}
}

// Wrap constructs a kernel error wrapping cause.
func Wrap(code Code, arg string, cause error) *Error {
	return &Error{Code: code, Arg: arg, Cause: cause}
}

// Is reports whether err is a *Error with the given code.
func Is(err error, code Code) bool {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Code == code
	}
	return false
}

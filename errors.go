// Package raydb holds the typed error taxonomy shared by every other
// package in this module (storage, graph, index, concurrency,
// replication, metrics). Opening a database and driving transactions
// goes through storage.Open/storage.DB directly; this package has no
// engine logic of its own, only the Code/Error vocabulary storage wraps
// its failures in.
package raydb

import (
	"errors"
	"fmt"
)

// Code identifies the class of error returned by the engine.
type Code int

const (
	// CodeIO: the underlying storage layer returned an error; bubbled up unchanged.
	CodeIO Code = iota
	// CodeCorrupt: a CRC or magic mismatch in the header, a WAL record, or a snapshot section.
	CodeCorrupt
	// CodeWalBufferFull: the WAL has no room for the pending transaction; it was aborted.
	CodeWalBufferFull
	// CodeReadOnly: a write was attempted against a read-only handle.
	CodeReadOnly
	// CodeLockBusy: another writer already holds the advisory range lock.
	CodeLockBusy
	// CodeNotFound: a lookup (by NodeID or key) found nothing.
	CodeNotFound
	// CodeAlreadyExists: a uniqueness constraint (node key, active transaction) was violated.
	CodeAlreadyExists
	// CodeInvalidArgument: malformed input (page size out of range, unknown record type, ...).
	CodeInvalidArgument
	// CodeAborted: the transaction was rolled back by the caller or by the engine.
	CodeAborted
)

func (c Code) String() string {
	switch c {
	case CodeIO:
		return "IO"
	case CodeCorrupt:
		return "Corrupt"
	case CodeWalBufferFull:
		return "WalBufferFull"
	case CodeReadOnly:
		return "ReadOnly"
	case CodeLockBusy:
		return "LockBusy"
	case CodeNotFound:
		return "NotFound"
	case CodeAlreadyExists:
		return "AlreadyExists"
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Error is the engine's typed error. Callers that need to branch on the
// error class should use errors.As into *Error and inspect Code, or use the
// Is* helpers below.
type Error struct {
	Code Code
	Op   string // operation that failed, e.g. "pager.ReadPage", "wal.Append"
	Err  error  // wrapped low-level cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("raydb: %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("raydb: %s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no wrapped cause.
func New(code Code, op string) *Error {
	return &Error{Code: code, Op: op}
}

// Wrap builds an *Error wrapping err, or returns nil if err is nil.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf extracts the Code from err, defaulting to CodeIO for untyped errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeIO
}

// Is reports whether err is a *Error with the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

package storage

import (
	"github.com/rayford/raydb"
)

func errCorrupt(op string, err error) error {
	return raydb.Wrap(raydb.CodeCorrupt, op, err)
}

func errInvalid(op string, err error) error {
	return raydb.Wrap(raydb.CodeInvalidArgument, op, err)
}

func errIO(op string, err error) error {
	return raydb.Wrap(raydb.CodeIO, op, err)
}

func errNotFound(op string, err error) error {
	return raydb.Wrap(raydb.CodeNotFound, op, err)
}

func errAlreadyExists(op string, err error) error {
	return raydb.Wrap(raydb.CodeAlreadyExists, op, err)
}

func errAborted(op string, err error) error {
	return raydb.Wrap(raydb.CodeAborted, op, err)
}

// ErrReadOnly is returned when a write is attempted against a read-only handle.
var ErrReadOnly = raydb.New(raydb.CodeReadOnly, "storage")

// ErrWalBufferFull is returned by Commit when the WAL ring has no room for
// the pending transaction; the caller must Compact (or GrowWAL) and retry.
var ErrWalBufferFull = raydb.New(raydb.CodeWalBufferFull, "wal.Append")

// ErrLockBusy is returned by Open when another writer already holds the
// advisory range lock.
var ErrLockBusy = raydb.New(raydb.CodeLockBusy, "pager.Open")

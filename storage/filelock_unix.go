//go:build !windows && !js && !wasip1

package storage

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockRangeOffset and lockRangeLen fix the advisory byte range locked on
// the database file itself: offset 0x40000000, length 512, chosen to
// never overlap real page data even for very large files.
const (
	lockRangeOffset = 0x40000000
	lockRangeLen    = 512
)

// fileLock represents an OS-level advisory byte-range lock on the
// database file itself. flock only supports whole-file locking, so this
// opens the database file again and uses fcntl(F_SETLK) via
// golang.org/x/sys/unix, which supports ranges.
type fileLock struct {
	file   *os.File
	shared bool
}

// lockFile acquires the advisory range lock on path. exclusive=true for
// a writer; false for a shared reader lock (any number of readers may
// coexist).
func lockFile(path string, exclusive bool) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("filelock: cannot open %q: %w", path, err)
	}

	typ := int16(unix.F_RDLCK)
	if exclusive {
		typ = unix.F_WRLCK
	}
	lk := unix.Flock_t{
		Type:  typ,
		Start: lockRangeOffset,
		Len:   lockRangeLen,
	}
	if err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &lk); err != nil {
		f.Close()
		return nil, fmt.Errorf("filelock: database %q is locked by another process: %w", path, err)
	}
	return &fileLock{file: f, shared: !exclusive}, nil
}

// unlock releases the range lock and closes the lock's private handle.
func (fl *fileLock) unlock() error {
	if fl.file == nil {
		return nil
	}
	lk := unix.Flock_t{Type: unix.F_UNLCK, Start: lockRangeOffset, Len: lockRangeLen}
	unix.FcntlFlock(fl.file.Fd(), unix.F_SETLK, &lk)
	return fl.file.Close()
}

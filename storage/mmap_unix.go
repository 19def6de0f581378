//go:build unix

package storage

import "golang.org/x/sys/unix"

// mapRegion maps [offset, offset+length) of fd read-only, page-aligning the
// offset down as mmap requires and trimming the excess back off Data().
func mapRegion(fd int, offset int64, length int) (*mappedRegion, error) {
	if length <= 0 {
		return nil, &mmapError{Op: "mapRegion", Err: unix.EINVAL}
	}
	pageSize := int64(unix.Getpagesize())
	pageAlignedOffset := offset &^ (pageSize - 1)
	pad := int(offset - pageAlignedOffset)
	full, err := unix.Mmap(fd, pageAlignedOffset, length+pad, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, &mmapError{Op: "mmap", Err: err}
	}
	return &mappedRegion{full: full, data: full[pad : pad+length], offset: offset, length: length}, nil
}

func (m *mappedRegion) close() error {
	if m.full == nil {
		return nil
	}
	err := unix.Munmap(m.full)
	m.full = nil
	m.data = nil
	return err
}

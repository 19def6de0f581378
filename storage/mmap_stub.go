//go:build windows || js || wasip1

package storage

// mapRegion is unavailable on platforms without a wired mmap syscall
// path; readSnapshot falls back to buffered page reads, which serve
// identical results. Wiring unix.Mmap's Windows equivalent
// (CreateFileMapping/MapViewOfFile) is future work; filelock_windows.go
// shows the per-OS file pattern for adding it.
func mapRegion(_ int, _ int64, _ int) (*mappedRegion, error) {
	return nil, &mmapError{Op: "mapRegion", Err: errUnsupportedPlatform}
}

func (m *mappedRegion) close() error { return nil }

var errUnsupportedPlatform = errPlatform{}

type errPlatform struct{}

func (errPlatform) Error() string { return "mmap not implemented on this platform" }

package storage

import (
	"fmt"
	"os"
	"sync"
)

// Pager owns the single database file: fixed-size page I/O, allocation
// and fsync. It knows nothing about the WAL, the delta, or transactions;
// those live one layer up in wal.go/delta.go/transaction.go, and the
// file-level bookkeeping lives in the fixed Header (page 0), not in
// Pager state.
type Pager struct {
	mu       sync.RWMutex
	file     StorageFile
	path     string
	lock     *fileLock
	pageSize int
	numPages uint32 // total pages currently in the file, including page 0
	readOnly bool
	cache    *pageCache
}

// openFilePager opens (or creates) path as a file-backed pager. A freshly
// created file has exactly one page (page 0, zero-filled) so the caller can
// write the header; an existing file's page count is derived from its size.
func openFilePager(path string, pageSize, cachePages int, readOnly bool) (*Pager, error) {
	exclusive := !readOnly
	lock, err := lockFile(path, exclusive)
	if err != nil {
		return nil, ErrLockBusy
	}

	flags := os.O_RDWR | os.O_CREATE
	if readOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		lock.unlock()
		return nil, errIO("pager.Open", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		lock.unlock()
		return nil, errIO("pager.Open", err)
	}

	p := &Pager{
		file:     f,
		path:     path,
		lock:     lock,
		pageSize: pageSize,
		readOnly: readOnly,
		cache:    newPageCache(cachePages),
	}

	if info.Size() == 0 {
		if readOnly {
			f.Close()
			lock.unlock()
			return nil, errNotFound("pager.Open", fmt.Errorf("database %q does not exist", path))
		}
		if err := p.growTo(1); err != nil {
			f.Close()
			lock.unlock()
			return nil, err
		}
	} else {
		p.numPages = uint32(info.Size() / int64(pageSize))
	}

	return p, nil
}

// openFilePagerAutoCreate is db.Open's entry point: it stats path first so
// the caller knows whether it just created a fresh file (and must lay down
// a header/WAL/snapshot) or opened an existing one (and must run recovery).
func openFilePagerAutoCreate(path string, opts Options) (*Pager, bool, error) {
	info, statErr := os.Stat(path)
	exists := statErr == nil && info.Size() > 0
	if !exists && (opts.ReadOnly || !opts.CreateIfMissing) {
		return nil, false, errNotFound("pager.Open", fmt.Errorf("database %q does not exist", path))
	}
	p, err := openFilePager(path, opts.PageSize, opts.PageCacheSize, opts.ReadOnly)
	if err != nil {
		return nil, false, err
	}
	return p, !exists, nil
}

// openMemoryPager opens a pager backed by an in-memory StorageFile, used for
// ":memory:" databases (no file lock, no persistence across process exit).
func openMemoryPager(pageSize, cachePages int) (*Pager, error) {
	p := &Pager{
		file:     NewMemFile(),
		path:     ":memory:",
		pageSize: pageSize,
		cache:    newPageCache(cachePages),
	}
	if err := p.growTo(1); err != nil {
		return nil, err
	}
	return p, nil
}

// Close flushes and releases the file handle and advisory lock. It does not
// fsync — callers that need a durable close should Sync first.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.file.Close()
	if p.lock != nil {
		if uerr := p.lock.unlock(); err == nil {
			err = uerr
		}
	}
	return err
}

// PageSize returns the fixed page size for this database.
func (p *Pager) PageSize() int { return p.pageSize }

// IsReadOnly reports whether writes are rejected.
func (p *Pager) IsReadOnly() bool { return p.readOnly }

// SizePages returns the current file length in pages.
func (p *Pager) SizePages() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return uint64(p.numPages)
}

// ReadPage returns a copy of page pageID's contents.
func (p *Pager) ReadPage(pageID uint32) (*Page, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.readPageLocked(pageID)
}

func (p *Pager) readPageLocked(pageID uint32) (*Page, error) {
	if pageID >= p.numPages {
		return nil, errCorrupt("pager.ReadPage", fmt.Errorf("page %d out of range (have %d)", pageID, p.numPages))
	}
	if data, ok := p.cache.get(pageID); ok {
		cp := make([]byte, len(data))
		copy(cp, data)
		return &Page{ID: pageID, Data: cp}, nil
	}
	buf := make([]byte, p.pageSize)
	if _, err := p.file.ReadAt(buf, int64(pageID)*int64(p.pageSize)); err != nil {
		return nil, errIO("pager.ReadPage", err)
	}
	p.cache.put(pageID, buf)
	return &Page{ID: pageID, Data: buf}, nil
}

// WritePage buffers page to the file at its own PageID; not durable until
// Sync. Pages may be rewritten any number of times before a Sync.
func (p *Pager) WritePage(page *Page) error {
	if p.readOnly {
		return ErrReadOnly
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writePageLocked(page)
}

func (p *Pager) writePageLocked(page *Page) error {
	pid := page.PageID()
	if pid >= p.numPages {
		return errCorrupt("pager.WritePage", fmt.Errorf("page %d out of range (have %d)", pid, p.numPages))
	}
	if _, err := p.file.WriteAt(page.Data, int64(pid)*int64(p.pageSize)); err != nil {
		return errIO("pager.WritePage", err)
	}
	cp := make([]byte, len(page.Data))
	copy(cp, page.Data)
	p.cache.put(pid, cp)
	return nil
}

// AllocatePages extends the file by count zero-filled pages and returns the
// first new page's id.
func (p *Pager) AllocatePages(count int) (uint32, error) {
	if p.readOnly {
		return 0, ErrReadOnly
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	first := p.numPages
	if err := p.growTo(p.numPages + uint32(count)); err != nil {
		return 0, err
	}
	return first, nil
}

// growTo extends the backing file so it holds at least n pages, zero-filling
// the new range. Must be called under p.mu.
func (p *Pager) growTo(n uint32) error {
	if n <= p.numPages {
		return nil
	}
	zero := make([]byte, p.pageSize)
	for pid := p.numPages; pid < n; pid++ {
		if _, err := p.file.WriteAt(zero, int64(pid)*int64(p.pageSize)); err != nil {
			return errIO("pager.AllocatePages", err)
		}
	}
	p.numPages = n
	return nil
}

// Sync flushes buffered writes to stable media. Must be called before
// any header update that references newly written pages.
func (p *Pager) Sync() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.readOnly {
		return nil
	}
	if err := p.file.Sync(); err != nil {
		return errIO("pager.Sync", err)
	}
	return nil
}

// InvalidateCache drops every cached page. No engine path calls it:
// rollback writes no pages, and recovery replays into the delta only.
func (p *Pager) InvalidateCache() {
	p.cache.clear()
}

// CacheStats exposes the page cache's hit/miss counters for metrics/inspect.
func (p *Pager) CacheStats() (hits, misses uint64, size, capacity int) {
	return p.cache.stats()
}

// SetPageSize re-derives the pager's page accounting once the header has
// revealed the file's true page size, which may differ from the caller's
// requested default. Page 0's header layout is page-size independent, so
// reading it under the wrong size is safe; everything after it is not.
func (p *Pager) SetPageSize(size int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if size == p.pageSize {
		return
	}
	p.pageSize = size
	if info, err := p.file.Stat(); err == nil {
		p.numPages = uint32(info.Size() / int64(size))
	}
	p.cache.clear()
}

// MapRegion memory-maps length bytes starting at startPage, read-only.
// Only file-backed pagers can
// map; an in-memory database or a platform without mmap support returns
// an error and the caller falls back to buffered reads.
func (p *Pager) MapRegion(startPage uint32, length int) (*mappedRegion, error) {
	f, ok := p.file.(*os.File)
	if !ok {
		return nil, &mmapError{Op: "MapRegion", Err: fmt.Errorf("pager is not file-backed")}
	}
	offset := int64(startPage) * int64(p.pageSize)
	return mapRegion(int(f.Fd()), offset, length)
}

package index

import (
	"fmt"
	"testing"

	"github.com/rayford/raydb/graph"
)

// memPageStore is a minimal in-memory PageStore for exercising KeyIndex
// without pulling in the storage package (which itself depends on index,
// see keyindex.go's package doc on the dependency inversion).
type memPageStore struct {
	pageSize int
	pages    map[uint32][]byte
	next     uint32
}

func newMemPageStore(pageSize int) *memPageStore {
	return &memPageStore{pageSize: pageSize, pages: make(map[uint32][]byte)}
}

func (s *memPageStore) PageSize() int { return s.pageSize }

func (s *memPageStore) ReadPage(id uint32) ([]byte, error) {
	buf, ok := s.pages[id]
	if !ok {
		return nil, fmt.Errorf("page %d not allocated", id)
	}
	return buf, nil
}

func (s *memPageStore) WritePage(id uint32, data []byte) error {
	if _, ok := s.pages[id]; !ok {
		return fmt.Errorf("page %d not allocated", id)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.pages[id] = cp
	return nil
}

func (s *memPageStore) AllocatePages(count int) (uint32, error) {
	first := s.next + 1
	for i := 0; i < count; i++ {
		s.next++
		s.pages[s.next] = make([]byte, s.pageSize)
	}
	return first, nil
}

func TestKeyIndexInsertLookupRemove(t *testing.T) {
	store := newMemPageStore(256)
	idx, err := NewKeyIndex(store)
	if err != nil {
		t.Fatalf("NewKeyIndex: %v", err)
	}

	if err := idx.Insert("alice", 1); err != nil {
		t.Fatalf("Insert alice: %v", err)
	}
	if err := idx.Insert("bob", 2); err != nil {
		t.Fatalf("Insert bob: %v", err)
	}

	id, ok, err := idx.LookupOne("alice")
	if err != nil {
		t.Fatalf("LookupOne: %v", err)
	}
	if !ok || id != 1 {
		t.Fatalf("LookupOne(alice) = (%d, %v), want (1, true)", id, ok)
	}

	if err := idx.Remove("alice", 1); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, err := idx.LookupOne("alice"); err != nil || ok {
		t.Fatalf("expected alice removed, got ok=%v err=%v", ok, err)
	}
}

func TestKeyIndexSplitsAcrossManyInserts(t *testing.T) {
	store := newMemPageStore(256)
	idx, err := NewKeyIndex(store)
	if err != nil {
		t.Fatalf("NewKeyIndex: %v", err)
	}

	const n = 200
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%04d", i)
		if err := idx.Insert(key, graph.NodeID(i)); err != nil {
			t.Fatalf("Insert %s: %v", key, err)
		}
	}

	all, err := idx.AllEntries()
	if err != nil {
		t.Fatalf("AllEntries: %v", err)
	}
	if len(all) != n {
		t.Fatalf("AllEntries returned %d keys, want %d", len(all), n)
	}

	for i := 0; i < n; i += 37 {
		key := fmt.Sprintf("key-%04d", i)
		id, ok, err := idx.LookupOne(key)
		if err != nil || !ok {
			t.Fatalf("LookupOne(%s) failed: ok=%v err=%v", key, ok, err)
		}
		if id != graph.NodeID(i) {
			t.Fatalf("LookupOne(%s) = %d, want %d", key, id, i)
		}
	}
}

func TestKeyIndexRangeScan(t *testing.T) {
	store := newMemPageStore(256)
	idx, err := NewKeyIndex(store)
	if err != nil {
		t.Fatalf("NewKeyIndex: %v", err)
	}
	for i, k := range []string{"a", "b", "c", "d", "e"} {
		if err := idx.Insert(k, graph.NodeID(i)); err != nil {
			t.Fatalf("Insert %s: %v", k, err)
		}
	}
	ids, err := idx.RangeScan("b", "d")
	if err != nil {
		t.Fatalf("RangeScan: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("RangeScan(b,d) returned %d ids, want 3", len(ids))
	}
}

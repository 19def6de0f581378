package storage

import (
	"github.com/rayford/raydb/graph"
	"github.com/rayford/raydb/index"
)

// keyIndexStore adapts *Pager to index.PageStore. It lives on the storage
// side of the boundary so that index never imports storage: the key index
// is a consumer of the pager, not the other way around, and this is the one
// file allowed to know both vocabularies.
type keyIndexStore struct{ pager *Pager }

func (s keyIndexStore) PageSize() int { return s.pager.PageSize() }

func (s keyIndexStore) ReadPage(id uint32) ([]byte, error) {
	p, err := s.pager.ReadPage(id)
	if err != nil {
		return nil, err
	}
	return p.Data, nil
}

func (s keyIndexStore) WritePage(id uint32, data []byte) error {
	return s.pager.WritePage(&Page{ID: id, Data: data})
}

func (s keyIndexStore) AllocatePages(count int) (uint32, error) {
	return s.pager.AllocatePages(count)
}

var _ index.PageStore = keyIndexStore{}

// newKeyIndex builds a fresh KeyIndex over every live (key, NodeID) pair
// visible in snap, consulting deletedOverlay so a tombstoned node never
// gets indexed. Called on Open (before WAL replay, so only snapshot keys
// are indexed; delta keys are resolved from the overlay), after
// InstallSnapshot and after every Compact: the index is rebuilt wholesale
// into each new generation rather than incrementally maintained across
// them. A read-only handle cannot extend its file, so there the index is
// built in a private in-memory pager.
func newKeyIndex(pager *Pager, snap *Snapshot, deletedOverlay map[graph.NodeID]bool) (*index.KeyIndex, error) {
	store := keyIndexStore{pager: pager}
	if pager.IsReadOnly() {
		mem, err := openMemoryPager(pager.PageSize(), 0)
		if err != nil {
			return nil, err
		}
		store = keyIndexStore{pager: mem}
	}
	idx, err := index.NewKeyIndex(store)
	if err != nil {
		return nil, err
	}
	for id, key := range snap.Keys {
		if deletedOverlay[id] {
			continue
		}
		if err := idx.Insert(key, id); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

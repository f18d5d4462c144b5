package index

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/duskdb/duskdb/dberr"
	"github.com/duskdb/duskdb/storage"
)

// Index is one secondary index over a (collection, field) pair, backed by
// an in-memory skip list and flushed to a dedicated Index page chain.
type Index struct {
	Collection string
	Field      string
	Unique     bool
	Multikey   bool

	mu         sync.RWMutex
	list       *skipList
	pager      *storage.Pager
	rootPageID uint32
}

// NewIndex creates a brand-new, empty index.
func NewIndex(collection, field string, unique, multikey bool, pager *storage.Pager) *Index {
	return &Index{
		Collection: collection,
		Field:      field,
		Unique:     unique,
		Multikey:   multikey,
		list:       newSkipList(),
		pager:      pager,
	}
}

// OpenIndex reloads an index previously flushed at rootPageID.
func OpenIndex(collection, field string, unique, multikey bool, pager *storage.Pager, rootPageID uint32) (*Index, error) {
	idx := &Index{
		Collection: collection,
		Field:      field,
		Unique:     unique,
		Multikey:   multikey,
		list:       newSkipList(),
		pager:      pager,
		rootPageID: rootPageID,
	}
	if rootPageID == 0 {
		return idx, nil
	}
	if err := idx.load(); err != nil {
		return nil, err
	}
	return idx, nil
}

// RootPageID is the page the index's flushed snapshot chain starts at, 0
// if it has never been flushed.
func (idx *Index) RootPageID() uint32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.rootPageID
}

// Add indexes recordID under key.
func (idx *Index) Add(key string, recordID uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.list.insert(key, recordID, idx.Unique)
}

// Remove un-indexes recordID from key.
func (idx *Index) Remove(key string, recordID uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.list.remove(key, recordID)
}

// RemoveAll un-indexes every record id under key.
func (idx *Index) RemoveAll(key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.list.removeAll(key)
}

// Lookup returns the record ids stored under key.
func (idx *Index) Lookup(key string) ([]uint64, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.list.find(key)
}

// RangeScan returns every record id whose key lies in [minKey, maxKey], in
// ascending key order.
func (idx *Index) RangeScan(minKey, maxKey string) []uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []uint64
	idx.list.findRange(minKey, maxKey, func(_ string, ids []uint64) bool {
		out = append(out, ids...)
		return true
	})
	return out
}

// AllEntries returns every indexed key and its record ids (debug/test).
func (idx *Index) AllEntries() map[string][]uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.list.allEntries()
}

// Flush serializes the index's sorted key/record-id pairs to a fresh Index
// page chain and frees the previous one, recording the new root page.
func (idx *Index) Flush() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	buf := make([]byte, 0, 1024)
	tmp := make([]byte, 8)
	binary.LittleEndian.PutUint32(tmp, uint32(idx.list.size))
	buf = append(buf, tmp[:4]...)
	idx.list.findRange("", "", func(key string, ids []uint64) bool {
		binary.LittleEndian.PutUint16(tmp, uint16(len(key)))
		buf = append(buf, tmp[:2]...)
		buf = append(buf, key...)
		binary.LittleEndian.PutUint32(tmp, uint32(len(ids)))
		buf = append(buf, tmp[:4]...)
		for _, id := range ids {
			binary.LittleEndian.PutUint64(tmp, id)
			buf = append(buf, tmp[:8]...)
		}
		return true
	})

	addr, err := idx.pager.InsertRecordBytes(0, storage.PageTypeIndex, buf, 0)
	if err != nil {
		return err
	}
	oldRoot := idx.rootPageID
	idx.rootPageID = addr.PageID
	if oldRoot != 0 {
		idx.pager.DeleteRecord(storage.Address{PageID: oldRoot, Slot: 0}, 0)
	}
	return nil
}

func (idx *Index) load() error {
	raw, err := idx.pager.ReadRecordBytes(storage.Address{PageID: idx.rootPageID, Slot: 0}, 0)
	if err != nil {
		return err
	}
	if len(raw) < 4 {
		return fmt.Errorf("%w: truncated index snapshot", dberr.ErrCorruption)
	}
	off := 0
	count := int(binary.LittleEndian.Uint32(raw[off:]))
	off += 4
	for i := 0; i < count; i++ {
		if off+2 > len(raw) {
			return fmt.Errorf("%w: truncated index snapshot", dberr.ErrCorruption)
		}
		klen := int(binary.LittleEndian.Uint16(raw[off:]))
		off += 2
		if off+klen > len(raw) {
			return fmt.Errorf("%w: truncated index snapshot", dberr.ErrCorruption)
		}
		key := string(raw[off : off+klen])
		off += klen
		if off+4 > len(raw) {
			return fmt.Errorf("%w: truncated index snapshot", dberr.ErrCorruption)
		}
		n := int(binary.LittleEndian.Uint32(raw[off:]))
		off += 4
		for j := 0; j < n; j++ {
			if off+8 > len(raw) {
				return fmt.Errorf("%w: truncated index snapshot", dberr.ErrCorruption)
			}
			id := binary.LittleEndian.Uint64(raw[off:])
			off += 8
			if err := idx.list.insert(key, id, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// Manager owns every live index across every collection.
type Manager struct {
	mu      sync.RWMutex
	indexes map[indexKey]*Index
	pager   *storage.Pager
}

type indexKey struct{ collection, field string }

// NewManager creates an empty index manager over pager.
func NewManager(pager *storage.Pager) *Manager {
	return &Manager{indexes: make(map[indexKey]*Index), pager: pager}
}

// CreateIndex builds and registers a new index.
func (m *Manager) CreateIndex(collection, field string, unique, multikey bool) (*Index, error) {
	key := indexKey{collection, field}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.indexes[key]; exists {
		return nil, fmt.Errorf("%w: index on %s.%s already exists", dberr.ErrUsage, collection, field)
	}
	idx := NewIndex(collection, field, unique, multikey, m.pager)
	m.indexes[key] = idx
	return idx, nil
}

// LoadIndex registers a previously flushed index found in the catalog.
func (m *Manager) LoadIndex(collection, field string, unique, multikey bool, rootPageID uint32) (*Index, error) {
	idx, err := OpenIndex(collection, field, unique, multikey, m.pager, rootPageID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.indexes[indexKey{collection, field}] = idx
	m.mu.Unlock()
	return idx, nil
}

// DropIndex unregisters an index (the caller is responsible for freeing
// its page chain via the pager catalog).
func (m *Manager) DropIndex(collection, field string) error {
	key := indexKey{collection, field}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.indexes[key]; !exists {
		return fmt.Errorf("%w: index on %s.%s not found", dberr.ErrUsage, collection, field)
	}
	delete(m.indexes, key)
	return nil
}

// GetIndex returns the live index for (collection, field), or nil.
func (m *Manager) GetIndex(collection, field string) *Index {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.indexes[indexKey{collection, field}]
}

// DropAllForCollection unregisters every index on collection (called when
// the collection itself is dropped).
func (m *Manager) DropAllForCollection(collection string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.indexes {
		if k.collection == collection {
			delete(m.indexes, k)
		}
	}
}

// GetIndexesForCollection returns every live index on collection.
func (m *Manager) GetIndexesForCollection(collection string) []*Index {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Index
	for k, idx := range m.indexes {
		if k.collection == collection {
			out = append(out, idx)
		}
	}
	return out
}

// ValueToKey encodes a field value into a sortable string key: a one-byte
// type tag prefix keeps different kinds from comparing against each
// other's payload, with MinValue/MaxValue sorting below/above everything.
func ValueToKey(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "\x01"
	case storage.ObjectID:
		return "\x07" + string(val[:])
	case bool:
		if val {
			return "\x02t"
		}
		return "\x02f"
	case int32:
		return fmt.Sprintf("\x03%016x", uint64(int64(val))^(1<<63))
	case int64:
		return fmt.Sprintf("\x03%016x", uint64(val)^(1<<63))
	case float64:
		bits := math.Float64bits(val)
		if bits>>63 == 1 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		return fmt.Sprintf("\x04%016x", bits)
	case string:
		return "\x05" + val
	default:
		if val == storage.MinValue {
			return "\x00"
		}
		if val == storage.MaxValue {
			return "\xFF"
		}
		return fmt.Sprintf("\x06%v", val)
	}
}

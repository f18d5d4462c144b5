// Package index implements duskdb's secondary indexes: a skip-list index
// over scalar/multikey values (C10) and a binary metric tree for
// approximate nearest-neighbor vector search (C11).
package index

import (
	"crypto/rand"
	"fmt"

	"github.com/duskdb/duskdb/dberr"
)

// MaxLevel is the tallest a skip-list tower may grow (spec §4.8).
const MaxLevel = 32

// skipNode is one key's tower. Keys are the index's sortable encoding
// (see ValueToKey); recordIDs holds every record sharing this key when the
// index is non-unique or multikey.
type skipNode struct {
	key       string
	recordIDs []uint64
	forward   []*skipNode
}

// skipList is an in-memory ordered multimap, keyed by the sortable string
// encoding of an indexed value. Persistence is handled one level up by
// Index.Flush/load, which serialize the bottom level (a sorted run of
// key/record-id pairs) to a page chain and rebuild the towers on load —
// the same "resident index, periodically flushed" model the teacher uses
// for its in-memory B-Tree page cache.
type skipList struct {
	head  *skipNode
	level int
	size  int
}

func newSkipList() *skipList {
	return &skipList{head: &skipNode{forward: make([]*skipNode, MaxLevel)}, level: 1}
}

func randomLevel() int {
	level := 1
	for level < MaxLevel {
		var b [1]byte
		if _, err := rand.Read(b[:]); err != nil {
			break
		}
		if b[0] >= 128 { // heads-or-tails, p=0.5
			break
		}
		level++
	}
	return level
}

// insert adds recordID under key. When the index is not unique, repeated
// keys accumulate every associated record id (multikey support); when it
// is unique, a second distinct record id under an existing key is a
// validation error.
func (s *skipList) insert(key string, recordID uint64, unique bool) error {
	update := make([]*skipNode, MaxLevel)
	cur := s.head
	for i := s.level - 1; i >= 0; i-- {
		for cur.forward[i] != nil && cur.forward[i].key < key {
			cur = cur.forward[i]
		}
		update[i] = cur
	}
	cur = cur.forward[0]

	if cur != nil && cur.key == key {
		if unique && len(cur.recordIDs) > 0 && !containsID(cur.recordIDs, recordID) {
			return fmt.Errorf("%w: duplicate key on unique index", dberr.ErrValidation)
		}
		if !containsID(cur.recordIDs, recordID) {
			cur.recordIDs = append(cur.recordIDs, recordID)
		}
		return nil
	}

	level := randomLevel()
	if level > s.level {
		for i := s.level; i < level; i++ {
			update[i] = s.head
		}
		s.level = level
	}
	node := &skipNode{key: key, recordIDs: []uint64{recordID}, forward: make([]*skipNode, level)}
	for i := 0; i < level; i++ {
		node.forward[i] = update[i].forward[i]
		update[i].forward[i] = node
	}
	s.size++
	return nil
}

func containsID(ids []uint64, id uint64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// remove drops recordID from key's tower; when that was the last id under
// the key the tower itself is unlinked.
func (s *skipList) remove(key string, recordID uint64) bool {
	update := make([]*skipNode, MaxLevel)
	cur := s.head
	for i := s.level - 1; i >= 0; i-- {
		for cur.forward[i] != nil && cur.forward[i].key < key {
			cur = cur.forward[i]
		}
		update[i] = cur
	}
	cur = cur.forward[0]
	if cur == nil || cur.key != key {
		return false
	}

	removed := false
	kept := cur.recordIDs[:0:0]
	for _, id := range cur.recordIDs {
		if id == recordID {
			removed = true
			continue
		}
		kept = append(kept, id)
	}
	cur.recordIDs = kept
	if !removed {
		return false
	}
	if len(cur.recordIDs) > 0 {
		return true
	}

	for i := 0; i < s.level; i++ {
		if update[i].forward[i] != cur {
			break
		}
		update[i].forward[i] = cur.forward[i]
	}
	s.size--
	return true
}

// removeAll drops every record id indexed under key, used when a document
// is deleted and every field it contributed to a multikey index must go.
func (s *skipList) removeAll(key string) {
	update := make([]*skipNode, MaxLevel)
	cur := s.head
	for i := s.level - 1; i >= 0; i-- {
		for cur.forward[i] != nil && cur.forward[i].key < key {
			cur = cur.forward[i]
		}
		update[i] = cur
	}
	cur = cur.forward[0]
	if cur == nil || cur.key != key {
		return
	}
	for i := 0; i < s.level; i++ {
		if update[i].forward[i] != cur {
			break
		}
		update[i].forward[i] = cur.forward[i]
	}
	s.size--
}

// find returns the record ids stored under key.
func (s *skipList) find(key string) ([]uint64, bool) {
	cur := s.head
	for i := s.level - 1; i >= 0; i-- {
		for cur.forward[i] != nil && cur.forward[i].key < key {
			cur = cur.forward[i]
		}
	}
	cur = cur.forward[0]
	if cur != nil && cur.key == key {
		return cur.recordIDs, true
	}
	return nil, false
}

// findRange visits, in ascending key order, every node whose key lies in
// [minKey, maxKey] (either bound may be empty to mean unbounded), calling
// visit(key, recordIDs) for each. A cycle guard bounds iteration in case a
// corrupted tower ever points backward.
func (s *skipList) findRange(minKey, maxKey string, visit func(key string, ids []uint64) bool) {
	cur := s.head
	if minKey != "" {
		for i := s.level - 1; i >= 0; i-- {
			for cur.forward[i] != nil && cur.forward[i].key < minKey {
				cur = cur.forward[i]
			}
		}
	}
	cur = cur.forward[0]

	guard := s.size + 1
	for cur != nil && guard > 0 {
		if maxKey != "" && cur.key > maxKey {
			break
		}
		if !visit(cur.key, cur.recordIDs) {
			break
		}
		cur = cur.forward[0]
		guard--
	}
}

// allEntries returns every key and its record ids, in ascending order.
func (s *skipList) allEntries() map[string][]uint64 {
	out := make(map[string][]uint64, s.size)
	s.findRange("", "", func(key string, ids []uint64) bool {
		out[key] = append([]uint64(nil), ids...)
		return true
	})
	return out
}

package memtable

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/tolkichat/lsm-tree/internal/entry"
)

// skipListNode holds every live version of one key, oldest first. A
// merge operand never overwrites: it stacks on top of whatever is
// already there, because the operand chain is what merge resolution
// consumes.
type skipListNode struct {
	key      []byte
	versions []*entry.Entry
	forward  []*skipListNode
}

// SkipList is a probabilistic ordered map from key to version chain,
// giving O(log n) inserts and ordered iteration for flushes.
type SkipList struct {
	head     *skipListNode
	maxLevel int
	level    int
	size     int64
	count    int64
	mu       sync.RWMutex
	rng      uint64
}

const maxSkipListLevel = 16

// NewSkipList creates an empty skip list.
func NewSkipList() *SkipList {
	return &SkipList{
		head: &skipListNode{
			forward: make([]*skipListNode, maxSkipListLevel),
		},
		maxLevel: maxSkipListLevel,
		rng:      1,
	}
}

// randomLevel draws a node height from a geometric distribution using a
// xorshift64 generator.
func (s *SkipList) randomLevel() int {
	level := 0
	for level < s.maxLevel-1 {
		s.rng ^= s.rng << 13
		s.rng ^= s.rng >> 7
		s.rng ^= s.rng << 17
		if s.rng&0xFFFF >= 0xFFFF/4 {
			break
		}
		level++
	}
	return level
}

// Add appends a version to the key's chain, creating the node if the key
// is new. Versions arrive in write order, so within a node the slice is
// oldest to newest.
func (s *SkipList) Add(e *entry.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	update := make([]*skipListNode, s.maxLevel)
	current := s.head
	for i := s.level; i >= 0; i-- {
		for current.forward[i] != nil && bytes.Compare(current.forward[i].key, e.Key) < 0 {
			current = current.forward[i]
		}
		update[i] = current
	}

	if next := current.forward[0]; next != nil && bytes.Equal(next.key, e.Key) {
		next.versions = append(next.versions, e)
		atomic.AddInt64(&s.size, int64(e.Size()))
		atomic.AddInt64(&s.count, 1)
		return
	}

	level := s.randomLevel()
	if level > s.level {
		for i := s.level + 1; i <= level; i++ {
			update[i] = s.head
		}
		s.level = level
	}

	node := &skipListNode{
		key:      e.Key,
		versions: []*entry.Entry{e},
		forward:  make([]*skipListNode, level+1),
	}
	for i := 0; i <= level; i++ {
		node.forward[i] = update[i].forward[i]
		update[i].forward[i] = node
	}
	atomic.AddInt64(&s.size, int64(e.Size()))
	atomic.AddInt64(&s.count, 1)
}

// Collect returns the key's version chain newest first, truncated just
// past the first shadowing record (a Put or Tombstone): anything older
// is invisible to reads. Returns nil if the key is unknown.
func (s *SkipList) Collect(key []byte) []*entry.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.head
	for i := s.level; i >= 0; i-- {
		for current.forward[i] != nil && bytes.Compare(current.forward[i].key, key) < 0 {
			current = current.forward[i]
		}
	}
	node := current.forward[0]
	if node == nil || !bytes.Equal(node.key, key) {
		return nil
	}

	chain := make([]*entry.Entry, 0, len(node.versions))
	for i := len(node.versions) - 1; i >= 0; i-- {
		v := node.versions[i]
		chain = append(chain, v)
		if v.Kind != entry.KindMerge {
			break
		}
	}
	return chain
}

// Size returns the approximate memory usage in bytes.
func (s *SkipList) Size() int64 {
	return atomic.LoadInt64(&s.size)
}

// Count returns the number of stored versions.
func (s *SkipList) Count() int64 {
	return atomic.LoadInt64(&s.count)
}

// Iterator walks every version in segment order: key ascending, newest
// version first within a key.
type Iterator struct {
	sl      *SkipList
	node    *skipListNode
	version int
}

// NewIterator returns an iterator positioned before the first version.
// The caller must Close it to release the read lock.
func (s *SkipList) NewIterator() *Iterator {
	s.mu.RLock()
	return &Iterator{sl: s, node: s.head, version: -1}
}

// Next advances to the next version. Returns false when exhausted.
func (it *Iterator) Next() bool {
	if it.node == nil {
		return false
	}
	if it.node != it.sl.head && it.version > 0 {
		it.version--
		return true
	}
	it.node = it.node.forward[0]
	if it.node == nil {
		return false
	}
	it.version = len(it.node.versions) - 1
	return true
}

// Entry returns the current version.
func (it *Iterator) Entry() *entry.Entry {
	if it.node == nil || it.node == it.sl.head {
		return nil
	}
	return it.node.versions[it.version]
}

// Close releases the read lock taken by NewIterator.
func (it *Iterator) Close() {
	it.sl.mu.RUnlock()
}

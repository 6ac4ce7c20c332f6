package memtable

import (
	"errors"
	"sync/atomic"

	"github.com/tolkichat/lsm-tree/internal/entry"
)

// ErrFrozen is returned when writing to a frozen memtable.
var ErrFrozen = errors.New("memtable is frozen")

var idCounter uint64

// MemTable buffers versioned records in memory until the tree flushes it
// to a segment. Unlike a plain map it keeps every version of a key: a
// merge operand stacks on the chain instead of replacing the value.
type MemTable struct {
	sl     *SkipList
	id     uint64
	frozen atomic.Bool
}

// New creates an empty memtable.
func New() *MemTable {
	return &MemTable{
		sl: NewSkipList(),
		id: atomic.AddUint64(&idCounter, 1),
	}
}

// Add appends a version. Returns ErrFrozen once the memtable has been
// sealed for flushing.
func (m *MemTable) Add(e *entry.Entry) error {
	if m.frozen.Load() {
		return ErrFrozen
	}
	m.sl.Add(e)
	return nil
}

// Collect returns the visible version chain for key, newest first,
// ending at the first Put or Tombstone. Nil means the memtable has no
// record of the key at all.
func (m *MemTable) Collect(key []byte) []*entry.Entry {
	return m.sl.Collect(key)
}

// Freeze seals the memtable; subsequent Adds fail.
func (m *MemTable) Freeze() {
	m.frozen.Store(true)
}

// IsFrozen reports whether the memtable is sealed.
func (m *MemTable) IsFrozen() bool {
	return m.frozen.Load()
}

// ID returns the memtable's unique identifier.
func (m *MemTable) ID() uint64 {
	return m.id
}

// Size returns the approximate memory usage in bytes.
func (m *MemTable) Size() int64 {
	return m.sl.Size()
}

// Count returns the number of buffered versions.
func (m *MemTable) Count() int64 {
	return m.sl.Count()
}

// Entries returns every version in segment order (key ascending, newest
// first within a key), for flushing. Freeze first.
func (m *MemTable) Entries() []*entry.Entry {
	entries := make([]*entry.Entry, 0, m.sl.Count())
	it := m.sl.NewIterator()
	defer it.Close()
	for it.Next() {
		entries = append(entries, it.Entry())
	}
	return entries
}

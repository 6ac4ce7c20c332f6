package lsmtree

import (
	"github.com/tolkichat/lsm-tree/internal/entry"
	"github.com/tolkichat/lsm-tree/internal/memtable"
	"github.com/tolkichat/lsm-tree/internal/wal"
)

// Put writes a full base value for key, shadowing any older versions and
// operands.
func (t *Tree) Put(key, value []byte) error {
	return t.write(&entry.Entry{
		Key:   append([]byte(nil), key...),
		Value: append([]byte(nil), value...),
		Kind:  entry.KindPut,
	})
}

// Merge appends a partial-update operand to key without reading its
// current value. The operand is combined with the base value and any
// other operands by the registered merge operator, at read time or
// during compaction. Fails with ErrNoMergeOperator if the tree was
// opened without one: accepting operands that can never be resolved
// would only defer the error to every future read of the key.
func (t *Tree) Merge(key, operand []byte) error {
	if t.op == nil {
		return ErrNoMergeOperator
	}
	return t.write(&entry.Entry{
		Key:   append([]byte(nil), key...),
		Value: append([]byte(nil), operand...),
		Kind:  entry.KindMerge,
	})
}

// Delete writes a tombstone for key. Operands written after a Delete
// merge against an absent base.
func (t *Tree) Delete(key []byte) error {
	return t.write(&entry.Entry{
		Key:  append([]byte(nil), key...),
		Kind: entry.KindTombstone,
	})
}

func (t *Tree) write(e *entry.Entry) error {
	if t.closed.Load() {
		return ErrTreeClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e.Seq = t.nextSeq()

	// WAL first: a record is only acknowledged once it is durable.
	if err := t.active.wal.Append(e); err != nil {
		return err
	}
	if err := t.active.mt.Add(e); err != nil {
		return err
	}

	if t.active.mt.Size() >= t.cfg.MemTableSize {
		t.freezeActiveLocked()
	}
	return nil
}

// freezeActiveLocked seals the active memtable, rotates the WAL, and
// signals the flush worker. Caller holds t.mu.
func (t *Tree) freezeActiveLocked() {
	newWAL, err := t.openNextWAL()
	if err != nil {
		// Keep accepting writes on the current WAL; the flush retries on
		// the next threshold crossing.
		return
	}

	t.active.mt.Freeze()
	t.immutable = append(t.immutable, t.active)
	t.active = newWAL

	select {
	case t.flushChan <- struct{}{}:
	default:
	}
}

func (t *Tree) openNextWAL() (*flushable, error) {
	id := t.walSeq.Add(1)
	w, err := wal.Open(t.walPath(id), t.cfg.SyncMode.walMode())
	if err != nil {
		return nil, err
	}
	return &flushable{
		mt:      memtable.New(),
		wal:     w,
		walPath: t.walPath(id),
	}, nil
}

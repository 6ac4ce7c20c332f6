package lsmtree

import (
	"context"
	"os"

	"github.com/tolkichat/lsm-tree/internal/segment"
	"github.com/tolkichat/lsm-tree/internal/trace"
)

func (t *Tree) flushWorker() {
	defer t.wg.Done()
	for {
		select {
		case <-t.closeChan:
			return
		case <-t.flushChan:
			for t.hasImmutable() {
				if err := t.doFlush(context.Background()); err != nil {
					// Leave the memtable queued; the next flush signal
					// or Close retries it. Nothing is lost: its WAL is
					// still on disk.
					break
				}
			}
		}
	}
}

func (t *Tree) hasImmutable() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.immutable) > 0
}

// doFlush persists the oldest immutable memtable as a level-0 segment.
// The memtable handle and the new segment handle are swapped under one
// lock so a concurrent read never sees the records twice or not at all.
func (t *Tree) doFlush(ctx context.Context) error {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	tr := trace.FromContext(ctx)

	t.mu.RLock()
	if len(t.immutable) == 0 {
		t.mu.RUnlock()
		return nil
	}
	fl := t.immutable[0]
	t.mu.RUnlock()

	entries := fl.mt.Entries()
	if len(entries) == 0 {
		t.mu.Lock()
		t.immutable = t.immutable[1:]
		t.mu.Unlock()
		fl.wal.Close()
		os.Remove(fl.walPath)
		return nil
	}

	id := t.segmentSeq.Add(1)
	s := segment.New(id, 0, entries)
	data, err := s.Encode()
	if err != nil {
		return err
	}
	if err := t.storage.Put(ctx, segment.ObjectKey(0, id), data); err != nil {
		return err
	}
	tr.RecordSpan("Flush", map[string]any{
		"segment": segment.ObjectKey(0, id),
		"records": len(entries),
		"bytes":   len(data),
	})

	var l0 int
	t.mu.Lock()
	t.levels[0] = append(t.levels[0], handleOf(s))
	sortHandles(t.levels[0])
	t.immutable = t.immutable[1:]
	l0 = len(t.levels[0])
	t.mu.Unlock()

	// The segment is durable; the WAL has served its purpose.
	fl.wal.Close()
	os.Remove(fl.walPath)

	if l0 >= t.cfg.LevelZeroCompactionTrigger {
		// Best effort; a failed compaction leaves every input segment in
		// place and the next flush triggers another attempt.
		t.compactLevel(ctx, 0)
	}
	return nil
}

// Flush forces the active memtable to disk. Mostly useful in tests and
// before snapshotting the storage directory.
func (t *Tree) Flush(ctx context.Context) error {
	if t.closed.Load() {
		return ErrTreeClosed
	}
	t.mu.Lock()
	if t.active.mt.Count() > 0 {
		t.freezeActiveLocked()
	}
	t.mu.Unlock()

	for t.hasImmutable() {
		if err := t.doFlush(ctx); err != nil {
			return err
		}
	}
	return nil
}

package lsmtree

import (
	"context"
	"errors"

	"github.com/tolkichat/lsm-tree/internal/blob"
	"github.com/tolkichat/lsm-tree/internal/entry"
	"github.com/tolkichat/lsm-tree/internal/trace"
)

// Get retrieves the value for key. When the newest records for the key
// are merge operands, the chain is resolved through the registered
// operator: the base value (if any) plus every operand, oldest to
// newest, in one FullMerge call. A failing operator surfaces as
// ErrMergeFailed, never as a missing key and never as stale data.
func (t *Tree) Get(ctx context.Context, key []byte) ([]byte, error) {
	if t.closed.Load() {
		return nil, ErrTreeClosed
	}
	tr := trace.FromContext(ctx)

	chain, err := t.collect(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, ErrKeyNotFound
	}

	// Split the newest-first chain into operands and an optional base.
	var base UserValue
	ops := chain
	switch last := chain[len(chain)-1]; last.Kind {
	case entry.KindPut:
		base = last.Value
		if base == nil {
			base = UserValue{}
		}
		ops = chain[:len(chain)-1]
	case entry.KindTombstone:
		ops = chain[:len(chain)-1]
		if len(ops) == 0 {
			return nil, ErrKeyNotFound
		}
	}

	if len(ops) == 0 {
		// Base value only: passed through unchanged, operator not invoked.
		// A present-but-empty base stays a non-nil empty slice.
		out := make([]byte, len(base))
		copy(out, base)
		return out, nil
	}

	if t.op == nil {
		return nil, ErrNoMergeOperator
	}

	// Reverse to the oldest-to-newest order FullMerge requires.
	operands := make([]UserValue, len(ops))
	for i, e := range ops {
		operands[len(ops)-1-i] = e.Value
	}

	tr.RecordSpan("Get.Resolve", map[string]any{
		"operator": t.op.Name(),
		"operands": len(operands),
		"hasBase":  base != nil,
	})
	value, err := ResolveFull(t.op, UserKey(key), base, operands)
	if err != nil {
		tr.RecordSpan("Get.ResolveFailed", map[string]any{"error": err.Error()})
		return nil, err
	}
	return value, nil
}

// collect gathers the visible version chain for key, newest first. A
// snapshot taken just before a compaction commit can hold handles whose
// blobs compaction has since deleted; a missing blob is retried with a
// fresh snapshot, which no longer references the deleted inputs.
func (t *Tree) collect(ctx context.Context, key []byte) ([]*entry.Entry, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		chain, err := t.collectOnce(ctx, key)
		if err == nil {
			return chain, nil
		}
		if !errors.Is(err, blob.ErrNotFound) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// collectOnce scans one consistent snapshot: the active memtable,
// immutable memtables, and every segment level. Collection stops at the
// first Put or Tombstone; anything older is shadowed.
func (t *Tree) collectOnce(ctx context.Context, key []byte) ([]*entry.Entry, error) {
	t.mu.RLock()
	active := t.active.mt
	immutables := make([]*flushable, len(t.immutable))
	copy(immutables, t.immutable)
	levels := make([][]*segmentHandle, len(t.levels))
	for i, level := range t.levels {
		levels[i] = append([]*segmentHandle(nil), level...)
	}
	t.mu.RUnlock()

	var chain []*entry.Entry
	shadowed := func() bool {
		return len(chain) > 0 && chain[len(chain)-1].Kind != entry.KindMerge
	}

	chain = append(chain, active.Collect(key)...)
	if shadowed() {
		return chain, nil
	}

	// Immutable memtables, newest first.
	for i := len(immutables) - 1; i >= 0; i-- {
		chain = append(chain, immutables[i].mt.Collect(key)...)
		if shadowed() {
			return chain, nil
		}
	}

	// Segment levels, shallowest first; handles within a level are
	// ordered newest first.
	for _, level := range levels {
		for _, h := range level {
			if !h.contains(key) {
				continue
			}
			s, err := t.loadSegment(ctx, h)
			if err != nil {
				return nil, err
			}
			chain = append(chain, s.Collect(key)...)
			if shadowed() {
				return chain, nil
			}
		}
	}
	return chain, nil
}

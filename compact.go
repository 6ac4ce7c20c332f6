package lsmtree

import (
	"bytes"
	"context"
	"sort"

	"github.com/tolkichat/lsm-tree/internal/entry"
	"github.com/tolkichat/lsm-tree/internal/segment"
	"github.com/tolkichat/lsm-tree/internal/trace"
)

// Compact merges every populated level into the one below it, collapsing
// operand chains along the way. Partial merges fold adjacent operands
// wherever the operator allows; a full merge finalizes a chain once a
// base value is reached, or without one at the bottom level. A key whose
// merge fails is carried forward verbatim: compaction never drops data
// on failure.
func (t *Tree) Compact(ctx context.Context) error {
	if t.closed.Load() {
		return ErrTreeClosed
	}
	for level := 0; level < len(t.levels)-1; level++ {
		if err := t.compactLevel(ctx, level); err != nil {
			return err
		}
	}
	return nil
}

// compactLevel merges all segments of the given level, plus the level
// below, into one new segment on the level below.
func (t *Tree) compactLevel(ctx context.Context, level int) error {
	t.compactMu.Lock()
	defer t.compactMu.Unlock()

	tr := trace.FromContext(ctx)
	target := level + 1
	bottom := target == len(t.levels)-1

	t.mu.RLock()
	inputs := append([]*segmentHandle(nil), t.levels[level]...)
	inputs = append(inputs, t.levels[target]...)
	t.mu.RUnlock()

	if len(inputs) == 0 {
		return nil
	}

	// Gather every record from the inputs into segment order: key
	// ascending, newest first within a key. Each input is itself sorted,
	// but a flat sort keeps the merge simple at these segment counts.
	var entries []*entry.Entry
	inputIDs := make(map[uint64]bool, len(inputs))
	for _, h := range inputs {
		s, err := t.loadSegment(ctx, h)
		if err != nil {
			return err
		}
		entries = append(entries, s.Entries()...)
		inputIDs[h.id] = true
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Compare(entries[j]) < 0
	})

	var output []*entry.Entry
	for i := 0; i < len(entries); {
		j := i
		for j < len(entries) && bytes.Equal(entries[j].Key, entries[i].Key) {
			j++
		}
		output = append(output, t.collapseKey(entries[i:j], bottom)...)
		i = j
	}

	var newHandle *segmentHandle
	if len(output) > 0 {
		id := t.segmentSeq.Add(1)
		s := segment.New(id, target, output)
		data, err := s.Encode()
		if err != nil {
			return err
		}
		if err := t.storage.Put(ctx, segment.ObjectKey(target, id), data); err != nil {
			return err
		}
		newHandle = handleOf(s)
	}
	tr.RecordSpan("Compact", map[string]any{
		"level":   level,
		"inputs":  len(inputs),
		"in":      len(entries),
		"out":     len(output),
		"dropped": len(entries) - len(output),
	})

	// Swap handles atomically: a concurrent read sees either the inputs
	// or the merged segment, never both and never neither.
	t.mu.Lock()
	keep := func(handles []*segmentHandle) []*segmentHandle {
		out := handles[:0]
		for _, h := range handles {
			if !inputIDs[h.id] {
				out = append(out, h)
			}
		}
		return out
	}
	t.levels[level] = keep(t.levels[level])
	t.levels[target] = keep(t.levels[target])
	if newHandle != nil {
		t.levels[target] = append(t.levels[target], newHandle)
		sortHandles(t.levels[target])
	}
	t.mu.Unlock()

	// Input blobs are unreachable through current handles; removal is
	// best effort. A read whose snapshot predates the swap may still
	// chase a deleted blob and retries with fresh handles (see collect).
	for _, h := range inputs {
		t.storage.Delete(ctx, h.object)
		t.cache.Invalidate(ctx, h.object)
	}
	return nil
}

// collapseKey rewrites one key's record group (newest first). It applies
// the resolution policy of the merge contract:
//
//   - records older than the first Put or Tombstone are garbage and drop;
//   - a chain that reaches a base value is fully merged into a new Put;
//   - a chain with no base finalizes only at the bottom level, where the
//     operator synthesizes its identity base;
//   - otherwise operands are folded pairwise where the operator permits
//     and re-emitted in order;
//   - on merge failure the group's visible records are emitted verbatim,
//     so the chain is retried on a later pass instead of lost.
func (t *Tree) collapseKey(group []*entry.Entry, bottom bool) []*entry.Entry {
	// Locate the shadow record (first Put or Tombstone, newest first).
	shadow := -1
	for i, e := range group {
		if e.Kind != entry.KindMerge {
			shadow = i
			break
		}
	}

	visible := group
	if shadow >= 0 {
		visible = group[:shadow+1]
	}
	var ops []*entry.Entry
	if shadow >= 0 {
		ops = visible[:shadow]
	} else {
		ops = visible
	}

	if len(ops) == 0 {
		e := visible[0]
		if e.Kind == entry.KindTombstone && bottom {
			// Nothing older can exist below the bottom level.
			return nil
		}
		return visible
	}

	if t.op == nil {
		// No operator to consult; carry the chain forward untouched.
		return visible
	}

	key := UserKey(visible[0].Key)

	// Full merge once a base is reached, or at the bottom level where no
	// older data can exist.
	var base UserValue
	finalize := bottom
	if shadow >= 0 && visible[shadow].Kind == entry.KindPut {
		base = visible[shadow].Value
		if base == nil {
			base = UserValue{}
		}
		finalize = true
	}

	if finalize {
		operands := make([]UserValue, len(ops))
		for i, e := range ops {
			operands[len(ops)-1-i] = e.Value
		}
		value, err := ResolveFull(t.op, key, base, operands)
		if err != nil {
			// Preserve the base and every operand for a later retry.
			return visible
		}
		return []*entry.Entry{{
			Key:   visible[0].Key,
			Value: value,
			Seq:   visible[0].Seq,
			Kind:  entry.KindPut,
		}}
	}

	// No base in sight and not at the bottom: shrink the chain with
	// partial merges only. Adjacency order is preserved and the fold
	// never crosses the tombstone boundary.
	folded := t.foldEntries(key, ops)
	if shadow >= 0 {
		folded = append(folded, visible[shadow])
	}
	return folded
}

// foldEntries folds adjacent operand records pairwise, oldest first,
// mirroring FoldOperands but tracking sequence numbers: a folded operand
// takes the newer constituent's Seq, keeping its chronological position.
// Input is newest first and so is the output.
func (t *Tree) foldEntries(key UserKey, ops []*entry.Entry) []*entry.Entry {
	if len(ops) < 2 {
		return ops
	}

	// Work oldest first.
	oldest := make([]*entry.Entry, len(ops))
	for i, e := range ops {
		oldest[len(ops)-1-i] = e
	}

	folded := []*entry.Entry{oldest[0]}
	for _, next := range oldest[1:] {
		left := folded[len(folded)-1]
		if merged, ok := t.op.PartialMerge(key, left.Value, next.Value); ok {
			folded[len(folded)-1] = &entry.Entry{
				Key:   next.Key,
				Value: merged,
				Seq:   next.Seq,
				Kind:  entry.KindMerge,
			}
			continue
		}
		folded = append(folded, next)
	}

	// Back to newest first.
	for i, j := 0, len(folded)-1; i < j; i, j = i+1, j-1 {
		folded[i], folded[j] = folded[j], folded[i]
	}
	return folded
}

package lsmtree

import "fmt"

// ResolveFull is the reference full-merge driving loop shared by the read
// path and final compaction collapse.
//
// existing is the base value (nil = absent) and operands are ordered
// oldest to newest. The base-only case is passed through without invoking
// the operator; otherwise the operator's FullMerge runs exactly once with
// the complete sequence. On failure the inputs are left untouched and
// ErrMergeFailed is returned, wrapped with the operator name for
// diagnostics.
func ResolveFull(op MergeOperator, key UserKey, existing UserValue, operands []UserValue) (UserValue, error) {
	if existing == nil && len(operands) == 0 {
		return nil, ErrEmptyMergeInput
	}

	// Base value only: not a merge case, the operator is not consulted.
	if len(operands) == 0 {
		return existing, nil
	}

	res := op.FullMerge(key, existing, operands)
	if !res.OK() {
		return nil, fmt.Errorf("%s: %w", op.Name(), ErrMergeFailed)
	}
	return res.Value(), nil
}

// FoldOperands opportunistically shrinks an operand sequence by folding
// adjacent pairs through the operator's PartialMerge, scanning oldest
// first. A folded pair is replaced in place, keeping its chronological
// position, and the fold result is immediately offered the next operand
// so runs of combinable operands collapse in one pass. A declined fold
// leaves the pair separate and moves on; it is never treated as failure.
//
// The input slice is not mutated. Operands are never reordered, never
// skipped, and never deduplicated beyond explicit folds, so for any
// operator satisfying the associativity requirement a later FullMerge
// over the folded sequence is observably identical to one over the
// original.
func FoldOperands(op MergeOperator, key UserKey, operands []UserValue) []UserValue {
	if len(operands) < 2 {
		return operands
	}

	folded := make([]UserValue, 0, len(operands))
	folded = append(folded, operands[0])
	for _, next := range operands[1:] {
		left := folded[len(folded)-1]
		if merged, ok := op.PartialMerge(key, left, next); ok {
			folded[len(folded)-1] = merged
			continue
		}
		folded = append(folded, next)
	}
	return folded
}

package mergeops

import (
	lsmtree "github.com/tolkichat/lsm-tree"
)

// Append builds a separator-joined list by appending each operand to the
// existing value. Append order is the write order, which makes this the
// canonical order-sensitive operator: permuting operands permutes the
// list.
//
// Concatenation is associative, so Append implements partial merge.
type Append struct {
	sep byte
}

// NewAppend creates an append operator with the given separator.
func NewAppend(sep byte) *Append {
	return &Append{sep: sep}
}

// Name implements lsmtree.MergeOperator.
func (*Append) Name() string {
	return "mergeops.append"
}

// FullMerge joins the base list and every operand, oldest to newest.
func (a *Append) FullMerge(key lsmtree.UserKey, existing lsmtree.UserValue, operands []lsmtree.UserValue) lsmtree.MergeResult {
	size := len(existing)
	for _, op := range operands {
		size += len(op) + 1
	}
	out := make([]byte, 0, size)
	out = append(out, existing...)
	for _, op := range operands {
		if len(out) > 0 {
			out = append(out, a.sep)
		}
		out = append(out, op...)
	}
	return lsmtree.MergeSuccess(out)
}

// PartialMerge joins two adjacent operands, preserving their order. An
// empty operand is declined: the full merge emits no separator at an
// empty list position, so folding one in here would change the result.
func (a *Append) PartialMerge(key lsmtree.UserKey, left, right lsmtree.UserValue) (lsmtree.UserValue, bool) {
	if len(left) == 0 || len(right) == 0 {
		return nil, false
	}
	out := make([]byte, 0, len(left)+1+len(right))
	out = append(out, left...)
	out = append(out, a.sep)
	out = append(out, right...)
	return out, true
}

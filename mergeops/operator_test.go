package mergeops

import (
	"bytes"
	"testing"

	lsmtree "github.com/tolkichat/lsm-tree"
)

// assertAssociative verifies the partial-merge contract: folding any
// adjacent operand pair must leave the eventual full merge unchanged,
// whatever the base.
func assertAssociative(t *testing.T, op lsmtree.MergeOperator, existing lsmtree.UserValue, operands []lsmtree.UserValue, equal func(a, b []byte) bool) {
	t.Helper()
	if equal == nil {
		equal = bytes.Equal
	}

	reference := op.FullMerge(lsmtree.UserKey("k"), existing, operands)
	if !reference.OK() {
		t.Fatalf("reference FullMerge failed for operands %q", operands)
	}

	for i := 0; i+1 < len(operands); i++ {
		folded, ok := op.PartialMerge(lsmtree.UserKey("k"), operands[i], operands[i+1])
		if !ok {
			continue
		}
		substituted := make([]lsmtree.UserValue, 0, len(operands)-1)
		substituted = append(substituted, operands[:i]...)
		substituted = append(substituted, folded)
		substituted = append(substituted, operands[i+2:]...)

		res := op.FullMerge(lsmtree.UserKey("k"), existing, substituted)
		if !res.OK() {
			t.Fatalf("FullMerge failed after folding pair %d", i)
		}
		if !equal(res.Value(), reference.Value()) {
			t.Fatalf("folding pair %d changed the result: %q != %q",
				i, res.Value(), reference.Value())
		}
	}
}

func ops(ss ...string) []lsmtree.UserValue {
	out := make([]lsmtree.UserValue, len(ss))
	for i, s := range ss {
		out[i] = lsmtree.UserValue(s)
	}
	return out
}

package lsmtree

// UserKey is an opaque byte sequence identifying a logical record.
// Merge resolution never mutates a key; it is only handed to operator
// callbacks as a lookup token.
type UserKey []byte

// UserValue is an opaque byte sequence holding either a base (Put) value
// or a single merge operand. A nil UserValue means "absent"; an empty
// value is []byte{}.
type UserValue []byte

// MergeResult is the all-or-nothing outcome of a full merge. There is no
// partial-success variant: either the operator produced a resolved value,
// or the caller must preserve the base value and every operand verbatim.
type MergeResult struct {
	value   UserValue
	success bool
}

// MergeSuccess wraps a resolved value. The caller treats it as the new
// canonical value for the key, equivalent to a fresh Put.
func MergeSuccess(value UserValue) MergeResult {
	return MergeResult{value: value, success: true}
}

// MergeFailure signals that the merge could not be performed. Callers must
// retain the base value and all operands; nothing is deleted on failure.
func MergeFailure() MergeResult {
	return MergeResult{}
}

// OK reports whether the merge succeeded.
func (r MergeResult) OK() bool {
	return r.success
}

// Value returns the resolved value. Only meaningful when OK() is true.
func (r MergeResult) Value() UserValue {
	return r.value
}

// MergeOperator encapsulates domain-specific merge logic: counters,
// append-only lists, structured field updates, and so on. A single
// operator instance is shared by the read path and any number of
// concurrent compaction workers, so implementations must hold no
// unsynchronized mutable state.
//
// FullMerge is mandatory. PartialMerge is an optional optimization;
// embed NoPartialMerge to opt out.
type MergeOperator interface {
	// Name returns a fixed identifier for this operator. It is used in
	// traces and error messages only, never for dispatch.
	Name() string

	// FullMerge collapses an optional base value plus an ordered operand
	// sequence into a single value.
	//
	// existing is the base value from the most recent Put, or nil if the
	// key has no base (operands written to a fresh or deleted key). When
	// existing is nil the operator must synthesize its own identity base,
	// e.g. counters start at zero.
	//
	// operands are ordered oldest to newest and must be applied strictly
	// in that order: later operands override or compose with earlier
	// results, never the reverse. operands is non-empty whenever existing
	// is nil.
	//
	// FullMerge must be deterministic: the same resolution may be
	// recomputed across compaction levels or replayed after crash
	// recovery and must not diverge.
	FullMerge(key UserKey, existing UserValue, operands []UserValue) MergeResult

	// PartialMerge folds two adjacent operands into one, with left
	// strictly older than right and no base value in sight. Returning
	// ok=false means "no optimization available here", not failure.
	//
	// An implementation must satisfy the associativity requirement:
	// replacing (left, right) with the folded operand anywhere inside a
	// longer sequence must leave the eventual FullMerge result, with any
	// base, observably unchanged. Violating this corrupts reads silently,
	// because compaction folds operands whenever it sees an adjacent pair
	// and the read path has no way to know folding occurred.
	PartialMerge(key UserKey, left, right UserValue) (merged UserValue, ok bool)
}

// NoPartialMerge provides the default PartialMerge that never folds.
// Operators without a sound pairwise combination embed it:
//
//	type myOperator struct {
//		lsmtree.NoPartialMerge
//	}
type NoPartialMerge struct{}

// PartialMerge always declines to fold.
func (NoPartialMerge) PartialMerge(_ UserKey, _, _ UserValue) (UserValue, bool) {
	return nil, false
}

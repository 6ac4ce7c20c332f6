package mergeops

import (
	"strconv"

	lsmtree "github.com/tolkichat/lsm-tree"
)

// Counter accumulates signed decimal deltas. Operands look like "+3",
// "-1", or "7"; the base value is the current total. A key with no base
// starts at zero.
//
// Addition is associative, so Counter implements partial merge: two
// adjacent deltas fold into their sum.
type Counter struct{}

// NewCounter creates a counter operator.
func NewCounter() *Counter {
	return &Counter{}
}

// Name implements lsmtree.MergeOperator.
func (*Counter) Name() string {
	return "mergeops.counter"
}

// FullMerge sums the base total and every delta in order. A value that
// does not parse fails the whole merge: a silent skip would corrupt the
// total, and failure preserves the operands for inspection.
func (*Counter) FullMerge(key lsmtree.UserKey, existing lsmtree.UserValue, operands []lsmtree.UserValue) lsmtree.MergeResult {
	var total int64
	if existing != nil {
		v, err := strconv.ParseInt(string(existing), 10, 64)
		if err != nil {
			return lsmtree.MergeFailure()
		}
		total = v
	}
	for _, operand := range operands {
		delta, err := strconv.ParseInt(string(operand), 10, 64)
		if err != nil {
			return lsmtree.MergeFailure()
		}
		total += delta
	}
	return lsmtree.MergeSuccess([]byte(strconv.FormatInt(total, 10)))
}

// PartialMerge folds two adjacent deltas into their sum. The folded
// operand keeps an explicit sign so it remains a delta, not a total.
func (*Counter) PartialMerge(key lsmtree.UserKey, left, right lsmtree.UserValue) (lsmtree.UserValue, bool) {
	l, err := strconv.ParseInt(string(left), 10, 64)
	if err != nil {
		return nil, false
	}
	r, err := strconv.ParseInt(string(right), 10, 64)
	if err != nil {
		return nil, false
	}
	sum := l + r
	s := strconv.FormatInt(sum, 10)
	if sum >= 0 {
		s = "+" + s
	}
	return []byte(s), true
}

package mergeops

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	lsmtree "github.com/tolkichat/lsm-tree"
)

// FieldSet updates individual fields of a JSON document without reading
// it first. Each operand is an envelope:
//
//	{"p": "user.profile.name", "v": "Alice"}
//
// where p is a gjson/sjson path and v is the raw JSON value to set.
// A key with no base starts from the empty object.
//
// FieldSet deliberately opts out of partial merge: folding two set
// operations into one operand would need a composite document format,
// and a wrong composition corrupts reads silently. NoPartialMerge keeps
// the chain intact until a full merge.
type FieldSet struct {
	lsmtree.NoPartialMerge
}

// NewFieldSet creates a field-update operator.
func NewFieldSet() *FieldSet {
	return &FieldSet{}
}

// Name implements lsmtree.MergeOperator.
func (*FieldSet) Name() string {
	return "mergeops.field-set"
}

// FullMerge applies each field update in order. Later writes to the same
// path win, which is exactly the oldest-to-newest contract.
func (*FieldSet) FullMerge(key lsmtree.UserKey, existing lsmtree.UserValue, operands []lsmtree.UserValue) lsmtree.MergeResult {
	doc := []byte(existing)
	if doc == nil {
		doc = []byte("{}")
	}
	for _, operand := range operands {
		if !gjson.ValidBytes(operand) {
			return lsmtree.MergeFailure()
		}
		path := gjson.GetBytes(operand, "p")
		value := gjson.GetBytes(operand, "v")
		if !path.Exists() || !value.Exists() {
			return lsmtree.MergeFailure()
		}
		next, err := sjson.SetRawBytes(doc, path.String(), []byte(value.Raw))
		if err != nil {
			return lsmtree.MergeFailure()
		}
		doc = next
	}
	return lsmtree.MergeSuccess(doc)
}

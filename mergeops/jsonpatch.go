package mergeops

import (
	jsonpatch "github.com/evanphx/json-patch/v5"

	lsmtree "github.com/tolkichat/lsm-tree"
)

// JSONMergePatch treats the base value as a JSON document and each
// operand as an RFC 7396 JSON Merge Patch, applied oldest to newest.
// https://datatracker.ietf.org/doc/html/rfc7396
//
// A key with no base starts from the empty object, so a first write can
// be a patch. Merge patches compose, which gives a sound partial merge:
// two adjacent patches fold into one combined patch.
type JSONMergePatch struct{}

// NewJSONMergePatch creates an RFC 7396 merge-patch operator.
func NewJSONMergePatch() *JSONMergePatch {
	return &JSONMergePatch{}
}

// Name implements lsmtree.MergeOperator.
func (*JSONMergePatch) Name() string {
	return "mergeops.json-merge-patch"
}

// FullMerge applies each patch in order. Any invalid document or patch
// fails the merge; the unapplied patches are preserved by the caller.
func (*JSONMergePatch) FullMerge(key lsmtree.UserKey, existing lsmtree.UserValue, operands []lsmtree.UserValue) lsmtree.MergeResult {
	doc := []byte(existing)
	if doc == nil {
		doc = []byte("{}")
	}
	for _, patch := range operands {
		merged, err := jsonpatch.MergePatch(doc, patch)
		if err != nil {
			return lsmtree.MergeFailure()
		}
		doc = merged
	}
	return lsmtree.MergeSuccess(doc)
}

// PartialMerge combines two adjacent merge patches into one whose
// application equals applying left then right.
func (*JSONMergePatch) PartialMerge(key lsmtree.UserKey, left, right lsmtree.UserValue) (lsmtree.UserValue, bool) {
	combined, err := jsonpatch.MergeMergePatches(left, right)
	if err != nil {
		return nil, false
	}
	return combined, true
}

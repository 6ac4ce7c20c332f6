package mergeops

import (
	"testing"

	jsonpatch "github.com/evanphx/json-patch/v5"

	lsmtree "github.com/tolkichat/lsm-tree"
)

func TestJSONMergePatchFullMerge(t *testing.T) {
	op := NewJSONMergePatch()

	tests := []struct {
		name     string
		existing lsmtree.UserValue
		operands []string
		want     string
	}{
		{
			"no base starts from empty object",
			nil,
			[]string{`{"name":"alice"}`},
			`{"name":"alice"}`,
		},
		{
			"later patch wins",
			lsmtree.UserValue(`{"name":"alice","age":30}`),
			[]string{`{"age":31}`, `{"age":32}`},
			`{"name":"alice","age":32}`,
		},
		{
			"null removes a field",
			lsmtree.UserValue(`{"name":"alice","tmp":1}`),
			[]string{`{"tmp":null}`},
			`{"name":"alice"}`,
		},
		{
			"nested objects merge",
			lsmtree.UserValue(`{"user":{"name":"alice"}}`),
			[]string{`{"user":{"age":30}}`},
			`{"user":{"name":"alice","age":30}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := op.FullMerge(lsmtree.UserKey("k"), tt.existing, ops(tt.operands...))
			if !res.OK() {
				t.Fatal("merge failed")
			}
			if !jsonpatch.Equal(res.Value(), []byte(tt.want)) {
				t.Fatalf("got %s, want %s", res.Value(), tt.want)
			}
		})
	}
}

func TestJSONMergePatchFullMergeFailure(t *testing.T) {
	op := NewJSONMergePatch()

	res := op.FullMerge(lsmtree.UserKey("k"), nil, ops(`{"a":1}`, `not json`))
	if res.OK() {
		t.Fatalf("expected failure, got %s", res.Value())
	}
}

func TestJSONMergePatchPartialMerge(t *testing.T) {
	op := NewJSONMergePatch()

	folded, ok := op.PartialMerge(lsmtree.UserKey("k"),
		[]byte(`{"a":1,"b":1}`), []byte(`{"b":2,"c":3}`))
	if !ok {
		t.Fatal("fold declined")
	}

	// Applying the folded patch equals applying both in order.
	doc := []byte(`{"a":0,"z":9}`)
	direct, err := jsonpatch.MergePatch(doc, []byte(`{"a":1,"b":1}`))
	if err != nil {
		t.Fatal(err)
	}
	direct, err = jsonpatch.MergePatch(direct, []byte(`{"b":2,"c":3}`))
	if err != nil {
		t.Fatal(err)
	}
	viaFold, err := jsonpatch.MergePatch(doc, folded)
	if err != nil {
		t.Fatal(err)
	}
	if !jsonpatch.Equal(direct, viaFold) {
		t.Fatalf("folded patch diverged: %s != %s", viaFold, direct)
	}
}

func TestJSONMergePatchPartialMergeDeclinesGarbage(t *testing.T) {
	op := NewJSONMergePatch()
	if _, ok := op.PartialMerge(lsmtree.UserKey("k"), []byte(`not json`), []byte(`{"a":1}`)); ok {
		t.Fatal("folded an invalid patch")
	}
	// An empty operand is not a JSON document and fails the full merge;
	// the fold must decline rather than absorb it.
	if _, ok := op.PartialMerge(lsmtree.UserKey("k"), []byte(``), []byte(`{"a":1}`)); ok {
		t.Fatal("folded an empty patch")
	}
	if _, ok := op.PartialMerge(lsmtree.UserKey("k"), []byte(`{"a":1}`), []byte(``)); ok {
		t.Fatal("folded an empty patch")
	}
}

func TestJSONMergePatchAssociativity(t *testing.T) {
	op := NewJSONMergePatch()
	assertAssociative(t, op,
		lsmtree.UserValue(`{"name":"alice","age":30,"tags":["x"]}`),
		ops(`{"age":31}`, `{"city":"oslo"}`, `{"age":null}`, `{"tags":["y"]}`),
		jsonpatch.Equal,
	)
	assertAssociative(t, op, nil,
		ops(`{"a":1}`, `{"b":2}`, `{"a":3}`),
		jsonpatch.Equal,
	)
}

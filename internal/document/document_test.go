package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/repocard/internal/model"
)

func mustDecode(t *testing.T, s string) any {
	t.Helper()
	v, err := Decode([]byte(s))
	require.NoError(t, err)
	return v
}

func TestGet(t *testing.T) {
	t.Parallel()

	doc := mustDecode(t, `{"a":{"b":[1,{"c":null}]}}`)

	v, ok := Get(doc, []string{"a", "b", "0"})
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	v, ok = Get(doc, []string{"a", "b", "1", "c"})
	assert.True(t, ok)
	assert.Nil(t, v)

	_, ok = Get(doc, []string{"a", "b", "5"})
	assert.False(t, ok)
	_, ok = Get(doc, []string{"a", "x"})
	assert.False(t, ok)

	_, ok = GetPointer(doc, "/a/b/1/c")
	assert.True(t, ok)
}

func TestClone_Independent(t *testing.T) {
	t.Parallel()

	doc := mustDecode(t, `{"a":{"b":[1,2]}}`)
	cp := Clone(doc).(map[string]any)
	cp["a"].(map[string]any)["b"].([]any)[0] = 99.0

	v, _ := Get(doc, []string{"a", "b", "0"})
	assert.Equal(t, 1.0, v)
}

func TestGeneric(t *testing.T) {
	t.Parallel()

	v, err := Generic(map[string]any{"langs": []string{"go"}, "n": 3})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"langs": []any{"go"}, "n": 3.0}, v)
}

func TestApplyPatch(t *testing.T) {
	t.Parallel()

	doc := mustDecode(t, `{"meta":{},"list":[1,2]}`)
	out, err := ApplyPatch(doc, []model.JSONPatchOp{
		{Op: OpAdd, Path: "/meta/title", Value: "Widget Service"},
		{Op: OpAdd, Path: "/list/2", Value: 3.0},
		{Op: OpAdd, Path: "/list/0", Value: 0.0},
		{Op: OpReplace, Path: "/list/1", Value: 10.0},
		{Op: OpAdd, Path: "/business", Value: map[string]any{}},
		{Op: OpAdd, Path: "/business/goals", Value: []any{}},
		{Op: OpAdd, Path: "/business/goals/0", Value: "ship"},
		{Op: OpRemove, Path: "/list/3"},
	})
	require.NoError(t, err)

	assert.Equal(t, mustDecode(t, `{
		"meta":{"title":"Widget Service"},
		"list":[0,10,2],
		"business":{"goals":["ship"]}
	}`), out)
}

func TestApplyPatch_Structural(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		op   model.JSONPatchOp
	}{
		{"missing parent", model.JSONPatchOp{Op: OpAdd, Path: "/x/y", Value: 1.0}},
		{"index past end", model.JSONPatchOp{Op: OpAdd, Path: "/list/5", Value: 1.0}},
		{"replace missing", model.JSONPatchOp{Op: OpReplace, Path: "/nope", Value: 1.0}},
		{"scalar parent", model.JSONPatchOp{Op: OpAdd, Path: "/s/x", Value: 1.0}},
		{"bad op", model.JSONPatchOp{Op: "move", Path: "/s"}},
		{"bad pointer", model.JSONPatchOp{Op: OpAdd, Path: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			doc := mustDecode(t, `{"list":[1],"s":"str"}`)
			_, err := ApplyPatch(doc, []model.JSONPatchOp{tt.op})
			assert.Error(t, err)
		})
	}
}

func TestApplyPatch_Root(t *testing.T) {
	t.Parallel()

	out, err := ApplyPatch(nil, []model.JSONPatchOp{{Op: OpAdd, Path: "", Value: map[string]any{}}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, out)
}

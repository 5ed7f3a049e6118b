package canonical

import (
	"math"
	"math/rand/v2"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/repocard/internal/document"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	v, err := document.Decode([]byte(s))
	require.NoError(t, err)
	return v
}

func TestCanonicalize_SortsKeys(t *testing.T) {
	t.Parallel()

	out, err := New().Canonicalize(decode(t, `{"b":1,"a":{"d":true,"c":null}}`))
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": {\n    \"c\": null,\n    \"d\": true\n  },\n  \"b\": 1\n}\n", string(out))
}

func TestNormalize_Numbers(t *testing.T) {
	t.Parallel()

	n := New()
	tests := []struct {
		in   float64
		want any
	}{
		{0.1 + 0.2, 0.3},
		{math.Copysign(0, -1), 0.0},
		{math.NaN(), nil},
		{math.Inf(-1), nil},
		{123456789.123456789, 123456789.123},
	}
	for _, tt := range tests {
		got, err := n.Normalize(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %v", tt.in)
	}

	z, err := n.Normalize(math.Copysign(0, -1))
	require.NoError(t, err)
	assert.False(t, math.Signbit(z.(float64)))
}

func TestNormalize_Timestamps(t *testing.T) {
	t.Parallel()

	n := New()
	tests := []struct {
		in, want string
	}{
		{"2024-03-01T10:00:00Z", "2024-03-01T10:00:00.000Z"},
		{"2024-03-01T12:00:00+02:00", "2024-03-01T10:00:00.000Z"},
		{"2024-03-01 10:00", "2024-03-01T10:00:00.000Z"},
		{"2024-03-01T10:00:00.123456Z", "2024-03-01T10:00:00.123Z"},
		{"2024-03-01T10:00:00.000Z", "2024-03-01T10:00:00.000Z"},
		{"2024-03-01", "2024-03-01"},
		{"version 2024-03-01T10:00:00Z", "version 2024-03-01T10:00:00Z"},
	}
	for _, tt := range tests {
		got, err := n.Normalize(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNormalize_UnicodeNFC(t *testing.T) {
	t.Parallel()

	got, err := New().Normalize("café")
	require.NoError(t, err)
	assert.Equal(t, "café", got)
}

func TestNormalize_CollidingKeysAreDeterministic(t *testing.T) {
	t.Parallel()

	n := New()
	for range 50 {
		got, err := n.Normalize(map[string]any{
			"cafe\u0301": "decomposed",
			"caf\u00e9":  "composed",
			"\u212b":     "angstrom sign",
			"A\u030a":    "decomposed ring",
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"caf\u00e9": "composed",
			"\u00c5":    "decomposed ring",
		}, got)
	}
}

func TestNormalize_RiskOrdering(t *testing.T) {
	t.Parallel()

	doc := decode(t, `{"risks":[
		{"name":"b","likelihood":"low","impact":"high"},
		{"name":"a","likelihood":"high","impact":"low"},
		{"name":"c","likelihood":"high","impact":"high"},
		{"name":"d","likelihood":"high","impact":"high"}
	]}`)

	out, err := New().Normalize(doc)
	require.NoError(t, err)

	var names []string
	for _, r := range out.(map[string]any)["risks"].([]any) {
		names = append(names, r.(map[string]any)["name"].(string))
	}
	assert.Equal(t, []string{"c", "d", "a", "b"}, names)
}

func TestNormalize_ChangelogByDate(t *testing.T) {
	t.Parallel()

	doc := decode(t, `{"changelog":[
		{"date":"2024-05-01T00:00:00Z","title":"later"},
		{"date":"2024-01-01T00:00:00Z","title":"earlier"}
	]}`)

	out, err := New().Normalize(doc)
	require.NoError(t, err)

	entries := out.(map[string]any)["changelog"].([]any)
	assert.Equal(t, "earlier", entries[0].(map[string]any)["title"])
}

func TestNormalize_UnregisteredArrayKeepsOrder(t *testing.T) {
	t.Parallel()

	out, err := New().Normalize(decode(t, `{"business":{"goals":["z","a","m"]}}`))
	require.NoError(t, err)
	assert.Equal(t, []any{"z", "a", "m"}, out.(map[string]any)["business"].(map[string]any)["goals"])
}

func TestNormalize_AnchorsIndexWildcard(t *testing.T) {
	t.Parallel()

	out, err := New().Normalize(decode(t, `{"anchorsByPath":{"$.meta.title":[
		{"path":"b.md","startLine":1,"endLine":1,"commit":"c","kind":"docs"},
		{"path":"a.md","startLine":9,"endLine":9,"commit":"c","kind":"docs"},
		{"path":"a.md","startLine":2,"endLine":3,"commit":"c","kind":"docs"}
	]}}`))
	require.NoError(t, err)

	list := out.(map[string]any)["anchorsByPath"].(map[string]any)["$.meta.title"].([]any)
	assert.Equal(t, "a.md", list[0].(map[string]any)["path"])
	assert.Equal(t, 2.0, list[0].(map[string]any)["startLine"])
	assert.Equal(t, "b.md", list[2].(map[string]any)["path"])
}

func TestNormalize_GoValues(t *testing.T) {
	t.Parallel()

	type entry struct {
		Name string `json:"name"`
	}
	out, err := New().Normalize(map[string]any{"list": []entry{{Name: "x"}}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"list": []any{map[string]any{"name": "x"}}}, out)
}

func randomTree(r *rand.Rand, depth int) any {
	if depth == 0 {
		switch r.IntN(6) {
		case 0:
			return r.NormFloat64() * 1e6
		case 1:
			return "2024-0" + strconv.Itoa(1+r.IntN(9)) + "-1" + strconv.Itoa(r.IntN(9)) + "T0" + strconv.Itoa(r.IntN(9)) + ":00:00+01:00"
		case 2:
			return "s" + strconv.Itoa(r.IntN(100))
		case 3:
			return r.IntN(2) == 0
		case 4:
			return nil
		default:
			return float64(r.IntN(1000)) / 7
		}
	}
	if r.IntN(2) == 0 {
		m := map[string]any{}
		keys := []string{"risks", "changelog", "name", "likelihood", "impact", "date", "title", "x"}
		for i := 0; i < 1+r.IntN(4); i++ {
			m[keys[r.IntN(len(keys))]] = randomTree(r, depth-1)
		}
		return m
	}
	arr := make([]any, r.IntN(5))
	for i := range arr {
		arr[i] = randomTree(r, depth-1)
	}
	return arr
}

func TestCanonicalize_Idempotent(t *testing.T) {
	t.Parallel()

	n := New()
	r := rand.New(rand.NewPCG(42, 7))
	for i := 0; i < 200; i++ {
		tree := randomTree(r, 4)
		once, err := n.Canonicalize(tree)
		require.NoError(t, err)

		ok, err := n.IsCanonical(once)
		require.NoError(t, err)
		require.True(t, ok, "not idempotent:\n%s", once)
	}
}

func TestIsCanonical_DetectsDrift(t *testing.T) {
	t.Parallel()

	ok, err := New().IsCanonical([]byte(`{"b":1,"a":2}`))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHash(t *testing.T) {
	t.Parallel()

	h := Hash([]byte("{}\n"))
	assert.Len(t, h, len("sha256:")+64)
	assert.Equal(t, h, Hash([]byte("{}\n")))
	assert.NotEqual(t, h, Hash([]byte("[]\n")))
}

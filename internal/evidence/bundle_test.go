package evidence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/repocard/internal/model"
)

const sampleBundle = `{
  "repository": {"name": "widget", "commit": "abc123",
    "title": {"value": "Widget Service", "anchors": [{"path": "README.md", "startLine": 1, "endLine": 1, "commit": "abc123", "kind": "docs"}]}},
  "files": [
    {"path": "README.md", "hash": "h1", "lines": ["# Widget Service", "", "Serves widgets."]},
    {"path": "src/main.go", "hash": "h2", "startLine": 10, "lines": ["func main() {", "  run()", "}"]}
  ]
}`

func TestParseAndSourceText(t *testing.T) {
	t.Parallel()

	b, err := Parse([]byte(sampleBundle))
	require.NoError(t, err)
	assert.Equal(t, "abc123", b.Commit())
	assert.Equal(t, "Widget Service", b.Repository.Title.Value)

	text, ok := b.SourceText(model.Anchor{Path: "README.md", StartLine: 1, EndLine: 3})
	require.True(t, ok)
	assert.Equal(t, "# Widget Service\n\nServes widgets.", text)

	text, ok = b.SourceText(model.Anchor{Path: "src/main.go", StartLine: 11, EndLine: 40})
	require.True(t, ok)
	assert.Equal(t, "  run()\n}", text)

	_, ok = b.SourceText(model.Anchor{Path: "src/main.go", StartLine: 1, EndLine: 5})
	assert.False(t, ok)

	_, ok = b.SourceText(model.Anchor{Path: "missing.go", StartLine: 1, EndLine: 1})
	assert.False(t, ok)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bundle.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleBundle), 0o644))

	b, raw, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, b.Files, 2)
	assert.Equal(t, Hash([]byte(sampleBundle)), Hash(raw))

	_, _, err = Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`{"files": 3}`))
	assert.Error(t, err)
}

package baseline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/repocard/internal/evidence"
	"github.com/sells-group/repocard/internal/model"
)

func readmeBundle() *evidence.Bundle {
	return &evidence.Bundle{
		Repository: evidence.Repository{Name: "widget", Commit: "abc123"},
		Files: []evidence.File{
			{Path: "README.md", Hash: "h1", Lines: []string{"", "# Widget Service", "Serves widgets."}},
		},
	}
}

func TestBuild_ReadmeTitle(t *testing.T) {
	t.Parallel()

	res := New(nil, 0.7).Build(readmeBundle(), map[string]any{})
	require.Len(t, res.Facts, 1)

	f := res.Facts[0]
	assert.Equal(t, "$.meta.title", f.Path)
	assert.Equal(t, "/meta/title", f.Pointer)
	assert.Equal(t, "Widget Service", f.ProposedValue)
	assert.Nil(t, f.CurrentValue)
	assert.Equal(t, model.GateOK, f.Gate)
	require.Len(t, f.Anchors, 1)
	assert.Equal(t, model.Anchor{Path: "README.md", StartLine: 2, EndLine: 2, Commit: "abc123", Kind: model.AnchorDocs}, f.Anchors[0])
	assert.InDelta(t, 0.2, res.CoverageNonNull, 1e-9)
	assert.Empty(t, res.LowConfidence)
}

func TestBuild_SkipsUnanchoredSignals(t *testing.T) {
	t.Parallel()

	b := readmeBundle()
	b.Repository.UseCase = evidence.TextSignal{Value: "Sells widgets"}
	b.Repository.Languages = evidence.ListSignal{
		Values:  []string{"Go", "Go", " "},
		Anchors: []model.Anchor{{Path: "go.mod", StartLine: 1, EndLine: 1, Commit: "abc123", Kind: model.AnchorConfig}},
	}
	b.Repository.NonGoals = evidence.ListSignal{
		Values:  []string{"billing"},
		Anchors: []model.Anchor{{Path: "", StartLine: 0, EndLine: 0}},
	}

	res := New(nil, 0.7).Build(b, map[string]any{"technology": map[string]any{"languages": []any{"Rust"}}})
	paths := make([]string, 0, len(res.Facts))
	for _, f := range res.Facts {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"$.meta.title", "$.technology.languages"}, paths)
	assert.Equal(t, []any{"Go"}, res.Facts[1].ProposedValue)
	assert.Equal(t, []any{"Rust"}, res.Facts[1].CurrentValue)
}

func TestBuild_DeclaredTitleAndDependencies(t *testing.T) {
	t.Parallel()

	anchor := model.Anchor{Path: "package.json", StartLine: 3, EndLine: 9, Commit: "abc123", Kind: model.AnchorConfig}
	b := readmeBundle()
	b.Repository.Title = evidence.TextSignal{Value: "Widgets", Anchors: []model.Anchor{anchor}}
	b.Repository.DependencyHighlights = evidence.ListSignal{Values: []string{"express", "pg"}, Anchors: []model.Anchor{anchor}}

	res := New(nil, 0.85).Build(b, nil)
	require.Len(t, res.Facts, 2)
	assert.Equal(t, "Widgets", res.Facts[0].ProposedValue)
	assert.Equal(t, "$.technology.dependencies", res.Facts[1].Path)
	assert.Equal(t, []any{map[string]any{"name": "express"}, map[string]any{"name": "pg"}}, res.Facts[1].ProposedValue)
	assert.Equal(t, model.GateOK, res.Facts[1].Gate)
	assert.Equal(t, []string{"$.technology.dependencies"}, res.LowConfidence)
}

func TestBuild_NoEvidence(t *testing.T) {
	t.Parallel()

	res := New(nil, 0.7).Build(&evidence.Bundle{}, nil)
	assert.Empty(t, res.Facts)
	assert.Zero(t, res.CoverageNonNull)
}

package pipeline

import (
	"context"
	"strings"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/repocard/internal/evidence"
	"github.com/sells-group/repocard/internal/model"
	"github.com/sells-group/repocard/internal/reasoner"
)

type mockInvoker struct {
	mock.Mock
}

func (m *mockInvoker) Invoke(ctx context.Context, req reasoner.Request) (*reasoner.Response, reasoner.Effort, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*reasoner.Response)
	return resp, req.Effort, args.Error(1)
}

func phase(name string) any {
	return mock.MatchedBy(func(r reasoner.Request) bool { return r.Phase == name })
}

func retrying(name string) any {
	return mock.MatchedBy(func(r reasoner.Request) bool {
		return r.Phase == name && strings.Contains(r.Messages[len(r.Messages)-1].Content, retryGuidanceHeading)
	})
}

func firstTry(name string) any {
	return mock.MatchedBy(func(r reasoner.Request) bool {
		return r.Phase == name && !strings.Contains(r.Messages[len(r.Messages)-1].Content, retryGuidanceHeading)
	})
}

func reply(content string) *reasoner.Response {
	return &reasoner.Response{Content: content, Model: "test-model"}
}

type mockTracker struct {
	mock.Mock
}

func (m *mockTracker) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus) error {
	return m.Called(ctx, id, status).Error(0)
}

type mockNotes struct {
	mock.Mock
}

func (m *mockNotes) WriteNotes(ctx context.Context, b *evidence.Bundle, facts []model.Fact) (string, error) {
	args := m.Called(ctx, b, facts)
	return args.String(0), args.Error(1)
}

func readme(line int) model.Anchor {
	return model.Anchor{Path: "README.md", StartLine: line, EndLine: line, Commit: "c0ffee", Kind: model.AnchorDocs}
}

func testBundle() *evidence.Bundle {
	return &evidence.Bundle{
		Repository: evidence.Repository{
			Name:   "widgets",
			Commit: "c0ffee",
			Languages: evidence.ListSignal{
				Values:  []string{"Go"},
				Anchors: []model.Anchor{{Path: "go.mod", StartLine: 1, EndLine: 3, Commit: "c0ffee", Kind: model.AnchorConfig}},
			},
		},
		Files: []evidence.File{
			{Path: "README.md", Hash: "h1", Lines: []string{"# Widget Service", "Serves widgets to the storefront.", "Owned by team-a."}},
			{Path: "go.mod", Hash: "h2", Kind: model.AnchorConfig, Lines: []string{"module widgets", "", "go 1.23"}},
		},
	}
}

func ptr[T any](v T) *T { return &v }

func testFact(path string, value any, conf float64, anchors ...model.Anchor) model.Fact {
	return model.Fact{
		Path:          path,
		ProposedValue: value,
		Source:        model.FactSource{Kind: model.SourceExtracted},
		Anchors:       anchors,
		Confidence:    conf,
	}.Normalize()
}

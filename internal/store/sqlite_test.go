package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/repocard/internal/model"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSQLiteStore(t *testing.T) (*SQLiteStore, *fakeClock) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	st.now = clock.now
	return st, clock
}

// --- Runs ---

func TestSQLite_RunLifecycle(t *testing.T) {
	st, clock := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, model.Run{ID: "run-1", Repository: "widgets", EvidenceHash: "sha256:aa"})
	require.NoError(t, err)
	assert.Equal(t, model.RunKindGenerate, run.Kind)
	assert.Equal(t, model.RunStatusQueued, run.Status)

	clock.advance(time.Second)
	require.NoError(t, st.UpdateRunStatus(ctx, "run-1", model.RunStatusExtracting))
	require.NoError(t, st.CompleteRun(ctx, "run-1", &model.RunSummary{Facts: 4, Valid: true, CoverageNonNull: 0.8}))

	got, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	assert.Equal(t, "widgets", got.Repository)
	assert.Equal(t, "sha256:aa", got.EvidenceHash)
	require.NotNil(t, got.Summary)
	assert.Equal(t, 4, got.Summary.Facts)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))
}

func TestSQLite_CreateRunGeneratesID(t *testing.T) {
	st, _ := newTestSQLiteStore(t)
	run, err := st.CreateRun(context.Background(), model.Run{Kind: model.RunKindApply})
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)
	assert.Equal(t, model.RunKindApply, run.Kind)
}

func TestSQLite_FailRun(t *testing.T) {
	st, _ := newTestSQLiteStore(t)
	ctx := context.Background()
	_, err := st.CreateRun(ctx, model.Run{ID: "r"})
	require.NoError(t, err)

	require.NoError(t, st.FailRun(ctx, "r", errors.New("schema missing")))
	got, err := st.GetRun(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "schema missing", got.Error)
	assert.Nil(t, got.Summary)
}

func TestSQLite_MissingRun(t *testing.T) {
	st, _ := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetRun(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, st.UpdateRunStatus(ctx, "nope", model.RunStatusComplete), ErrNotFound)
}

func TestSQLite_ListRuns(t *testing.T) {
	st, clock := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, r := range []model.Run{
		{ID: "a", Repository: "widgets"},
		{ID: "b", Repository: "widgets", Kind: model.RunKindApply},
		{ID: "c", Repository: "gadgets"},
	} {
		_, err := st.CreateRun(ctx, r)
		require.NoError(t, err)
		clock.advance(time.Minute)
	}
	require.NoError(t, st.UpdateRunStatus(ctx, "c", model.RunStatusComplete))

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)

	widgets, err := st.ListRuns(ctx, RunFilter{Repository: "widgets", Kind: model.RunKindGenerate})
	require.NoError(t, err)
	require.Len(t, widgets, 1)
	assert.Equal(t, "a", widgets[0].ID)

	done, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	require.Len(t, done, 1)

	page, err := st.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)
}

// --- Evidence cache ---

func TestSQLite_EvidenceCache_PutGet(t *testing.T) {
	st, clock := newTestSQLiteStore(t)
	ctx := context.Background()

	miss, err := st.GetCachedEvidence(ctx, "sha256:none")
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, st.PutCachedEvidence(ctx, "sha256:aa", []byte(`{"files":[]}`)))
	clock.advance(time.Hour)

	hit, err := st.GetCachedEvidence(ctx, "sha256:aa")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, `{"files":[]}`, string(hit.Data))
	assert.Equal(t, clock.t, hit.LastAccessedAt)
	assert.Equal(t, clock.t.Add(-time.Hour), hit.CachedAt)
}

func TestSQLite_EvidenceCache_EvictByAge(t *testing.T) {
	st, clock := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutCachedEvidence(ctx, "old", []byte("1")))
	clock.advance(48 * time.Hour)
	require.NoError(t, st.PutCachedEvidence(ctx, "new", []byte("2")))

	n, err := st.EvictEvidence(ctx, EvictPolicy{MaxAge: 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	gone, err := st.GetCachedEvidence(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSQLite_EvidenceCache_EvictLeastRecentlyUsed(t *testing.T) {
	st, clock := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, h := range []string{"a", "b", "c"} {
		require.NoError(t, st.PutCachedEvidence(ctx, h, []byte(h)))
		clock.advance(time.Minute)
	}
	// Touch a so b becomes the least recently used.
	_, err := st.GetCachedEvidence(ctx, "a")
	require.NoError(t, err)

	n, err := st.EvictEvidence(ctx, EvictPolicy{MaxEntries: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for h, present := range map[string]bool{"a": true, "b": false, "c": true} {
		e, err := st.GetCachedEvidence(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, present, e != nil, h)
	}
}

// --- Decisions ---

func TestSQLite_DecisionsHistory(t *testing.T) {
	st, clock := newTestSQLiteStore(t)
	ctx := context.Background()

	empty, err := st.LatestDecisions(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, st.SaveDecisions(ctx, "run-1", []model.Decision{
		{Path: "$.meta.title", Decision: model.DecisionAccept},
		{Path: "$.meta.owners", Decision: model.DecisionReject, SkipGeneration: true},
	}))
	clock.advance(time.Hour)
	require.NoError(t, st.SaveDecisions(ctx, "run-2", []model.Decision{
		{
			Path:        "$.meta.title",
			Decision:    model.DecisionEdit,
			EditedValue: "Widget Service",
			Anchors:     []model.Anchor{{Path: "README.md", StartLine: 1, EndLine: 1, Commit: "c0", Kind: model.AnchorDocs}},
			Lock:        true,
		},
	}))
	require.NoError(t, st.SaveDecisions(ctx, "run-3", nil))

	latest, err := st.LatestDecisions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Decision{
		{Path: "$.meta.owners", Decision: model.DecisionReject, SkipGeneration: true},
		{
			Path:        "$.meta.title",
			Decision:    model.DecisionEdit,
			EditedValue: "Widget Service",
			Anchors:     []model.Anchor{{Path: "README.md", StartLine: 1, EndLine: 1, Commit: "c0", Kind: model.AnchorDocs}},
			Lock:        true,
		},
	}, latest)
}

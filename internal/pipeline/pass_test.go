package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/repocard/internal/model"
	"github.com/sells-group/repocard/internal/resilience"
)

func passSpec(seed ...model.Fact) PassSpec {
	return PassSpec{
		Name:          "extraction",
		System:        extractionSystem,
		Prompt:        "# Extraction input",
		Seed:          seed,
		Reconciler:    NewReconciler(DefaultDeterministicOnly, model.SourceExtracted, nil, nil),
		MaxAttempts:   3,
		MinConfidence: 0.7,
	}
}

const lowSummary = `{"facts":[{"path":"$.meta.summary","proposedValue":"Serves widgets","confidence":0.5,
  "anchors":[{"path":"README.md","startLine":2,"endLine":2,"commit":"c0ffee","kind":"docs"}]}]}`

const goodSummary = "```json\n" + `{"facts":[{"path":"$.meta.summary","confidence":"0.92"}]}` + "\n```"

func TestRunPass_RetriesWithGuidanceUntilClean(t *testing.T) {
	inv := new(mockInvoker)
	inv.On("Invoke", mock.Anything, firstTry("extraction")).Return(reply(lowSummary), nil).Once()
	inv.On("Invoke", mock.Anything, retrying("extraction")).Return(reply(goodSummary), nil).Once()

	res := RunPass(context.Background(), inv, passSpec(testFact("$.meta.title", "Widgets", 0.95, readme(1))), nil)

	inv.AssertExpectations(t)
	assert.Equal(t, 2, res.Summary.Attempts)
	assert.False(t, res.Summary.Fallback)
	assert.Empty(t, res.Summary.RetryReasons)
	require.Len(t, res.Facts, 2)
	assert.Equal(t, "$.meta.summary", res.Facts[0].Path)
	assert.Equal(t, 0.92, res.Facts[0].Confidence)
	assert.Equal(t, "Serves widgets", res.Facts[0].ProposedValue)
	assert.Equal(t, model.GateOK, res.Facts[0].Gate)
	assert.Equal(t, "$.meta.title", res.Facts[1].Path)
}

func TestRunPass_StopsAtMaxAttempts(t *testing.T) {
	inv := new(mockInvoker)
	inv.On("Invoke", mock.Anything, phase("extraction")).Return(reply(lowSummary), nil)

	res := RunPass(context.Background(), inv, passSpec(), nil)

	inv.AssertNumberOfCalls(t, "Invoke", 3)
	assert.Equal(t, 3, res.Summary.Attempts)
	assert.NotEmpty(t, res.Summary.RetryReasons)
}

func TestRunPass_NoRetryAfterFallback(t *testing.T) {
	seed := testFact("$.meta.summary", "weak", 0.4, readme(2))
	cases := map[string]func(inv *mockInvoker){
		"service failure": func(inv *mockInvoker) {
			inv.On("Invoke", mock.Anything, mock.Anything).Return(nil, resilience.NewTransientError(errors.New("overloaded"), 529))
		},
		"malformed reply": func(inv *mockInvoker) {
			inv.On("Invoke", mock.Anything, mock.Anything).Return(reply("I cannot help with that."), nil)
		},
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			inv := new(mockInvoker)
			setup(inv)

			res := RunPass(context.Background(), inv, passSpec(seed), nil)

			inv.AssertNumberOfCalls(t, "Invoke", 1)
			assert.True(t, res.Summary.Fallback)
			assert.Equal(t, 1, res.Summary.Attempts)
			assert.NotEmpty(t, res.Summary.RetryReasons)
			assert.Equal(t, []model.Fact{seed}, res.Facts)
		})
	}
}

func TestRunPass_NilInvokerReturnsSeed(t *testing.T) {
	seed := []model.Fact{testFact("$.b", 1, 0.9, readme(1)), testFact("$.a", 1, 0.9, readme(1))}
	res := RunPass(context.Background(), nil, passSpec(seed...), nil)
	assert.True(t, res.Summary.Fallback)
	assert.Equal(t, 0, res.Summary.Attempts)
	assert.Equal(t, "$.a", res.Facts[0].Path)
	assert.Equal(t, "$.b", seed[0].Path)
}

func TestAppendRetryGuidance(t *testing.T) {
	assert.Equal(t, "p", appendRetryGuidance("p", nil))
	out := appendRetryGuidance("p", []string{"$.a: gate is Require"})
	assert.Contains(t, out, "## Retry Guidance")
	assert.Contains(t, out, "- $.a: gate is Require\n")
}

package reasoner

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/repocard/internal/model"
)

func TestDecodeFacts(t *testing.T) {
	t.Parallel()

	content := "Here you go:\n```json\n" + `{
  "facts": [
    {"path": "$.meta.title", "proposedValue": "Widget Service", "confidence": 1.7,
     "anchors": [{"path": "README.md", "startLine": 1, "endLine": 1, "commit": "abc", "kind": "docs"},
                 {"path": "", "startLine": 0, "endLine": 0}]},
    {"path": "$.business.useCase", "value": {"summary": "x"}, "confidence": "0.5", "gate": "Warn", "notes": "weak"},
    {"path": "$.business.nonGoals", "confidence": "very", "source": {"kind": "inferred"}},
    {"value": "no path"},
    {"path": 7},
    "junk"
  ]
}` + "\n```"

	got, err := DecodeFacts(content)
	require.NoError(t, err)
	require.Len(t, got, 3)

	title := got[0]
	assert.Equal(t, "$.meta.title", title.Path)
	assert.True(t, title.HasValue)
	assert.Equal(t, "Widget Service", title.ProposedValue)
	require.NotNil(t, title.Confidence)
	assert.Equal(t, 1.7, *title.Confidence)
	assert.Equal(t, []model.Anchor{{Path: "README.md", StartLine: 1, EndLine: 1, Commit: "abc", Kind: model.AnchorDocs}}, title.Anchors)
	assert.Nil(t, title.Gate)

	useCase := got[1]
	assert.Equal(t, map[string]any{"summary": "x"}, useCase.ProposedValue)
	require.NotNil(t, useCase.Confidence)
	assert.Equal(t, 0.5, *useCase.Confidence)
	require.NotNil(t, useCase.Gate)
	assert.Equal(t, model.GateWarn, *useCase.Gate)
	require.NotNil(t, useCase.Notes)
	assert.Equal(t, "weak", *useCase.Notes)

	nonGoals := got[2]
	assert.False(t, nonGoals.HasValue)
	assert.Nil(t, nonGoals.Confidence)
	assert.True(t, nonGoals.ConfidenceInvalid)
	assert.Equal(t, model.SourceInferred, nonGoals.Source)
}

func TestDecodeFacts_BareBraces(t *testing.T) {
	t.Parallel()

	got, err := DecodeFacts(`Sure! {"facts": [{"path": "$.a", "value": null}]} Thanks.`)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].HasValue)
	assert.Nil(t, got[0].ProposedValue)
	assert.Nil(t, got[0].Confidence)
	assert.False(t, got[0].ConfidenceInvalid)
}

func TestDecodeFacts_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		kind    ParseKind
	}{
		{"empty", "  ", ParseEmpty},
		{"prose", "I cannot help with that.", ParseNotJSON},
		{"array", `[{"path": "$.a"}]`, ParseShape},
		{"unbalanced", `{"facts": [`, ParseNotJSON},
		{"wrong shape", `{"items": []}`, ParseShape},
		{"facts not array", `{"facts": {"path": "$.a"}}`, ParseShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeFacts(tt.content)
			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.kind, perr.Kind)
		})
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 600)
	_, err := DecodeFacts(long)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Len(t, perr.Preview, previewLimit+3)
	assert.Equal(t, "short", Preview("short"))
}

func TestDecodeVerdicts(t *testing.T) {
	t.Parallel()

	got, err := DecodeVerdicts(`{"verdicts": [
	  {"path": "$.a", "valid": true, "confidence": 0.4, "comment": "this is incorrect"},
	  {"path": "$.b", "valid": "TRUE"},
	  {"path": "$.c", "confidence": "n/a", "reason": "no evidence"},
	  {"valid": true}
	]}`)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.True(t, got[0].Valid)
	require.NotNil(t, got[0].Confidence)
	assert.Equal(t, 0.4, *got[0].Confidence)
	assert.Equal(t, "this is incorrect", got[0].Comment)

	assert.True(t, got[1].Valid)
	assert.Nil(t, got[1].Confidence)

	assert.False(t, got[2].Valid)
	assert.Nil(t, got[2].Confidence)
	assert.Equal(t, "no evidence", got[2].Comment)

	got, err = DecodeVerdicts(`{"results": [{"path": "$.z", "valid": false}]}`)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = DecodeVerdicts(`{"facts": []}`)
	assert.Error(t, err)
}

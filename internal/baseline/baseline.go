// Package baseline derives low-risk facts directly from evidence without
// calling the reasoning service.
package baseline

import (
	"sort"
	"strings"

	"github.com/sells-group/repocard/internal/docpath"
	"github.com/sells-group/repocard/internal/document"
	"github.com/sells-group/repocard/internal/evidence"
	"github.com/sells-group/repocard/internal/model"
)

// Rule inspects one evidence field and yields a value with its anchors.
type Rule struct {
	Path       string
	Confidence float64
	Extract    func(b *evidence.Bundle) (any, []model.Anchor)
}

// Result is the output of a baseline build.
type Result struct {
	Facts           []model.Fact
	CoverageNonNull float64
	LowConfidence   []string
}

// DefaultRules returns the built-in rule set.
func DefaultRules() []Rule {
	return []Rule{
		{Path: "$.meta.title", Confidence: 0.95, Extract: title},
		{Path: "$.business.useCase", Confidence: 0.85, Extract: text(func(r evidence.Repository) evidence.TextSignal { return r.UseCase })},
		{Path: "$.technology.languages", Confidence: 0.9, Extract: list(func(r evidence.Repository) evidence.ListSignal { return r.Languages })},
		{Path: "$.business.nonGoals", Confidence: 0.8, Extract: list(func(r evidence.Repository) evidence.ListSignal { return r.NonGoals })},
		{Path: "$.technology.dependencies", Confidence: 0.8, Extract: dependencies},
	}
}

// Builder applies rules to an evidence bundle.
type Builder struct {
	rules         []Rule
	minConfidence float64
}

// New creates a Builder. A nil rule slice selects DefaultRules.
func New(rules []Rule, minConfidence float64) *Builder {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Builder{rules: rules, minConfidence: minConfidence}
}

// Build runs every rule. A rule with no value or no valid anchor produces
// nothing.
func (b *Builder) Build(bundle *evidence.Bundle, doc any) Result {
	var res Result
	for _, r := range b.rules {
		value, anchors := r.Extract(bundle)
		anchors = model.ValidAnchors(anchors)
		if empty(value) || len(anchors) == 0 {
			continue
		}
		tokens, err := docpath.Parse(r.Path)
		if err != nil {
			continue
		}
		current, _ := document.Get(doc, tokens)
		f := model.Fact{
			Path:          docpath.Format(tokens),
			Pointer:       docpath.Pointer(tokens),
			CurrentValue:  current,
			ProposedValue: value,
			Source:        model.FactSource{Kind: model.SourceExtracted},
			Anchors:       anchors,
			Confidence:    r.Confidence,
		}.Normalize()
		res.Facts = append(res.Facts, f)
		if f.Confidence < b.minConfidence {
			res.LowConfidence = append(res.LowConfidence, f.Path)
		}
	}
	sort.Slice(res.Facts, func(i, j int) bool { return res.Facts[i].Path < res.Facts[j].Path })
	sort.Strings(res.LowConfidence)
	if len(b.rules) > 0 {
		res.CoverageNonNull = float64(len(res.Facts)) / float64(len(b.rules))
	}
	return res
}

func empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

func text(get func(evidence.Repository) evidence.TextSignal) func(*evidence.Bundle) (any, []model.Anchor) {
	return func(b *evidence.Bundle) (any, []model.Anchor) {
		s := get(b.Repository)
		return strings.TrimSpace(s.Value), s.Anchors
	}
}

func list(get func(evidence.Repository) evidence.ListSignal) func(*evidence.Bundle) (any, []model.Anchor) {
	return func(b *evidence.Bundle) (any, []model.Anchor) {
		s := get(b.Repository)
		values := uniqueStrings(s.Values)
		if len(values) == 0 {
			return nil, s.Anchors
		}
		out := make([]any, len(values))
		for i, v := range values {
			out[i] = v
		}
		return out, s.Anchors
	}
}

// title prefers the declared title and falls back to the first level-one
// heading of a README preview.
func title(b *evidence.Bundle) (any, []model.Anchor) {
	if v := strings.TrimSpace(b.Repository.Title.Value); v != "" {
		return v, b.Repository.Title.Anchors
	}
	for _, f := range b.Files {
		if !isReadme(f.Path) {
			continue
		}
		for i, line := range f.Lines {
			heading, ok := strings.CutPrefix(strings.TrimSpace(line), "# ")
			if !ok || strings.TrimSpace(heading) == "" {
				continue
			}
			n := f.FirstLine() + i
			return strings.TrimSpace(heading), []model.Anchor{{
				Path:      f.Path,
				StartLine: n,
				EndLine:   n,
				Commit:    b.Commit(),
				Kind:      model.AnchorDocs,
			}}
		}
	}
	return nil, nil
}

func dependencies(b *evidence.Bundle) (any, []model.Anchor) {
	names := uniqueStrings(b.Repository.DependencyHighlights.Values)
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]any, 0, len(names))
	for _, n := range names {
		out = append(out, map[string]any{"name": n})
	}
	return out, b.Repository.DependencyHighlights.Anchors
}

func isReadme(path string) bool {
	base := path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		base = path[i+1:]
	}
	return strings.HasPrefix(strings.ToLower(base), "readme")
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

package pipeline

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/repocard/internal/docpath"
	"github.com/sells-group/repocard/internal/document"
	"github.com/sells-group/repocard/internal/model"
	"github.com/sells-group/repocard/internal/reasoner"
)

// DefaultDeterministicOnly are system-managed paths the reasoning service
// may never set.
var DefaultDeterministicOnly = []string{
	"$.changeHistory",
	"$.meta.generatedAt",
	"$.meta.updatedAt",
	"$.meta.runId",
}

// Reconciler merges candidates into a fact set by path.
type Reconciler struct {
	protected [][]string
	source    model.SourceKind
	doc       any
	log       *zap.Logger
}

// NewReconciler builds a Reconciler. Candidates that overlap a protected
// path are discarded; new facts default to source.
func NewReconciler(protected []string, source model.SourceKind, doc any, log *zap.Logger) *Reconciler {
	r := &Reconciler{source: source, doc: doc, log: log}
	for _, p := range protected {
		if tokens, err := docpath.Parse(p); err == nil {
			r.protected = append(r.protected, tokens)
		}
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	return r
}

// Protected reports whether writing tokens would touch a deterministic-only
// path, either at or below it or by replacing one of its ancestors.
func (r *Reconciler) Protected(tokens []string) bool {
	for _, p := range r.protected {
		if docpath.HasPrefix(tokens, p) || docpath.HasPrefix(p, tokens) {
			return true
		}
	}
	return false
}

// Reconcile returns a new fact set; prior is never mutated. The result is
// sorted by path.
func (r *Reconciler) Reconcile(prior []model.Fact, candidates []reasoner.Candidate) []model.Fact {
	byPath := make(map[string]model.Fact, len(prior)+len(candidates))
	for _, f := range prior {
		byPath[f.Path] = f.Clone()
	}

	for _, c := range candidates {
		tokens, err := docpath.Parse(c.Path)
		if err != nil {
			r.log.Debug("reconcile: dropping candidate with bad path", zap.String("path", c.Path), zap.Error(err))
			continue
		}
		if len(tokens) == 0 {
			r.log.Debug("reconcile: dropping candidate for the document root", zap.String("path", c.Path))
			continue
		}
		if r.Protected(tokens) {
			r.log.Debug("reconcile: dropping candidate for deterministic-only path", zap.String("path", c.Path))
			continue
		}
		path := docpath.Format(tokens)

		existing, ok := byPath[path]
		if !ok {
			f, keep := r.insert(path, tokens, c)
			if keep {
				byPath[path] = f
			}
			continue
		}
		byPath[path] = r.update(existing, c)
	}

	out := make([]model.Fact, 0, len(byPath))
	for path, f := range byPath {
		tokens, err := docpath.Parse(path)
		if err != nil || !r.reachable(tokens, byPath) {
			r.log.Debug("reconcile: dropping fact nested under a scalar", zap.String("path", path))
			continue
		}
		out = append(out, f)
	}
	SortFacts(out)
	return out
}

// reachable reports whether every ancestor of tokens can hold a child once
// the proposed values of ancestor facts are laid over the document. Absent
// and null ancestors are created on apply.
func (r *Reconciler) reachable(tokens []string, byPath map[string]model.Fact) bool {
	cur, present := r.doc, r.doc != nil
	for depth := 1; depth < len(tokens); depth++ {
		if present {
			cur, present = document.Get(cur, tokens[depth-1:depth])
		}
		if f, ok := byPath[docpath.Format(tokens[:depth])]; ok {
			cur, present = f.ProposedValue, true
		}
		if !present || cur == nil {
			present = false
			continue
		}
		switch cur.(type) {
		case map[string]any:
		case []any:
			if !docpath.IsIndex(tokens[depth]) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (r *Reconciler) insert(path string, tokens []string, c reasoner.Candidate) (model.Fact, bool) {
	anchors := model.ValidAnchors(c.Anchors)
	switch {
	case len(anchors) == 0:
		r.log.Debug("reconcile: dropping unanchored candidate", zap.String("path", path))
		return model.Fact{}, false
	case c.Confidence == nil:
		r.log.Debug("reconcile: dropping candidate without usable confidence", zap.String("path", path))
		return model.Fact{}, false
	case !c.HasValue:
		r.log.Debug("reconcile: dropping candidate without value", zap.String("path", path))
		return model.Fact{}, false
	}

	current, _ := document.Get(r.doc, tokens)
	f := model.Fact{
		Path:          path,
		Pointer:       docpath.Pointer(tokens),
		CurrentValue:  current,
		ProposedValue: c.ProposedValue,
		Source:        model.FactSource{Kind: r.source},
		Anchors:       anchors,
		Confidence:    *c.Confidence,
	}
	if c.Source != "" {
		f.Source.Kind = c.Source
	}
	if c.Gate != nil {
		f.Gate = *c.Gate
		f.GateOverride = true
	}
	if c.Notes != nil {
		f.Notes = *c.Notes
	}
	return f.Normalize(), true
}

func (r *Reconciler) update(existing model.Fact, c reasoner.Candidate) model.Fact {
	f := existing.Clone()
	if c.HasValue {
		f.ProposedValue = c.ProposedValue
	}
	if anchors := model.ValidAnchors(c.Anchors); len(anchors) > 0 {
		f.Anchors = anchors
	}
	if c.Source != "" {
		f.Source.Kind = c.Source
	}
	f.Confidence = model.ClampConfidence(f.Confidence)
	if c.Confidence != nil {
		f.Confidence = model.ClampConfidence(*c.Confidence)
		f.GateOverride = false
	}
	if c.Gate != nil {
		f.Gate = *c.Gate
		f.GateOverride = true
	}
	if c.Notes != nil {
		f.Notes = *c.Notes
	}
	return f.Normalize()
}

// SortFacts orders facts by path.
func SortFacts(facts []model.Fact) {
	sort.Slice(facts, func(i, j int) bool { return facts[i].Path < facts[j].Path })
}

// RetryReasons lists why a fact set is not yet acceptable.
func RetryReasons(facts []model.Fact, minConfidence float64) []string {
	var reasons []string
	for _, f := range facts {
		if f.Confidence < minConfidence {
			reasons = append(reasons, fmt.Sprintf("%s: confidence %.2f is below the minimum %.2f", f.Path, f.Confidence, minConfidence))
		}
		if !f.HasAnchors() {
			reasons = append(reasons, fmt.Sprintf("%s: no anchors cite supporting evidence", f.Path))
		}
		if f.Gate == model.GateRequire {
			reasons = append(reasons, fmt.Sprintf("%s: gate is Require", f.Path))
		}
	}
	return reasons
}

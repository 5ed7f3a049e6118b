// Package apply merges accepted facts into the record under schema
// validation, pruning facts that make the document invalid.
package apply

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/repocard/internal/canonical"
	"github.com/sells-group/repocard/internal/docpath"
	"github.com/sells-group/repocard/internal/document"
	"github.com/sells-group/repocard/internal/model"
	"github.com/sells-group/repocard/internal/provenance"
	"github.com/sells-group/repocard/internal/schema"
)

// DefaultMaxIterations bounds the validate and prune loop.
const DefaultMaxIterations = 5

// Validator checks a candidate document.
type Validator interface {
	Validate(doc any) []schema.Issue
}

// Input is one apply request.
type Input struct {
	Document  any
	Proposal  *model.Proposal
	Decisions []model.Decision
}

// Result is the outcome of an apply.
type Result struct {
	Document      any
	DocumentBytes []byte
	DocumentHash  string
	Patch         []model.JSONPatchOp
	Merged        []model.Fact
	Dropped       []model.Fact
	// Pending is the proposal to put back in front of reviewers.
	Pending    *model.Proposal
	Decisions  []model.Decision
	Iterations int
	Valid      bool
	Issues     []schema.Issue
	Index      *model.AnchorsIndex
	IndexBytes []byte
}

// Engine runs the speculative apply loop.
type Engine struct {
	validator     Validator
	index         *provenance.Builder
	normalizer    *canonical.Normalizer
	maxIterations int
	minConfidence float64
	log           *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxIterations overrides DefaultMaxIterations.
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithMinConfidence sets the threshold reported in pending diagnostics.
func WithMinConfidence(c float64) Option {
	return func(e *Engine) { e.minConfidence = c }
}

// WithLogger sets the run logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine creates an Engine.
func NewEngine(v Validator, index *provenance.Builder, n *canonical.Normalizer, opts ...Option) *Engine {
	e := &Engine{
		validator:     v,
		index:         index,
		normalizer:    n,
		maxIterations: DefaultMaxIterations,
		minConfidence: model.GateWarnThreshold,
		log:           zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Apply resolves decisions, then loops: build patch, apply to a clone,
// validate, and prune the facts owning each error. A structural failure
// aborts with ErrStructural. Unattributable errors stop the loop and
// leave Valid false.
func (e *Engine) Apply(ctx context.Context, in Input) (*Result, error) {
	if in.Proposal == nil {
		return nil, eris.New("apply: proposal is required")
	}
	base := in.Document
	if base == nil {
		base = map[string]any{}
	}
	base, err := document.Generic(base)
	if err != nil {
		return nil, eris.Wrap(err, "apply: decode document")
	}

	res := Resolve(in.Proposal.Facts, in.Decisions)
	surviving := res.Accepted
	out := &Result{Document: base}
	stale := false

	for iter := 1; iter <= e.maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "apply: cancelled")
		}
		out.Iterations = iter

		plan, err := e.candidate(base, surviving, out)
		if err != nil {
			return nil, err
		}
		stale = false
		if len(out.Issues) == 0 {
			out.Valid = true
			break
		}

		offending := attribute(surviving, plan, out.Issues)
		if len(offending) == 0 {
			e.log.Warn("apply: validation errors not attributable to any fact",
				zap.Int("iteration", iter),
				zap.Int("issues", len(out.Issues)),
			)
			break
		}
		var kept []model.Fact
		for _, f := range surviving {
			if _, bad := offending[f.Path]; bad {
				out.Dropped = append(out.Dropped, requireReview(f))
				continue
			}
			kept = append(kept, f)
		}
		e.log.Info("apply: pruned facts failing validation",
			zap.Int("iteration", iter),
			zap.Int("dropped", len(offending)),
			zap.Int("remaining", len(kept)),
		)
		surviving = kept
		stale = true
	}

	if stale {
		// The bound was hit right after a prune; the last candidate still
		// carries the dropped values.
		if _, err := e.candidate(base, surviving, out); err != nil {
			return nil, err
		}
		out.Valid = len(out.Issues) == 0
		if !out.Valid {
			e.log.Warn("apply: iteration bound reached with residual issues", zap.Int("issues", len(out.Issues)))
		}
	}

	out.Merged = surviving
	if out.DocumentBytes, err = e.normalizer.Canonicalize(out.Document); err != nil {
		return nil, eris.Wrap(err, "apply: canonicalize document")
	}
	if out.Document, err = document.Decode(out.DocumentBytes); err != nil {
		return nil, eris.Wrap(err, "apply: reload canonical document")
	}
	out.DocumentHash = canonical.Hash(out.DocumentBytes)

	out.Index = e.index.Build(out.Merged, out.DocumentHash, in.Proposal.Meta.RunID, in.Proposal.Meta.GeneratedAt)
	if out.IndexBytes, err = e.index.Canonical(out.Index); err != nil {
		return nil, eris.Wrap(err, "apply: canonicalize index")
	}

	out.Decisions = clearDecisions(in.Decisions, out.Dropped)
	out.Pending = e.pending(in.Proposal, out.Document, append(res.Pending, out.Dropped...))
	return out, nil
}

// candidate applies the plan for facts to a clone of base and validates
// the result into out.
func (e *Engine) candidate(base any, facts []model.Fact, out *Result) (*Plan, error) {
	plan, err := BuildPlan(base, facts)
	if err != nil {
		return nil, err
	}
	doc, err := document.ApplyPatch(document.Clone(base), plan.Ops)
	if err != nil {
		return nil, eris.Wrapf(ErrStructural, "apply: %v", err)
	}
	out.Document = doc
	out.Patch = plan.Ops
	out.Issues = e.validator.Validate(doc)
	return plan, nil
}

// attribute maps issues to owning facts. An issue belongs to a fact when
// its pointer equals or is nested under the fact's pointer. Issues no fact
// claims fall back to the facts that needed the deepest container created
// above the issue.
func attribute(facts []model.Fact, plan *Plan, issues []schema.Issue) map[string]struct{} {
	factTokens := make(map[string][]string, len(facts))
	for _, f := range facts {
		if tokens, err := docpath.Parse(f.Path); err == nil {
			factTokens[f.Path] = tokens
		}
	}

	owners := make(map[string]struct{})
	for _, is := range issues {
		issueTokens, err := docpath.ParsePointer(is.Pointer)
		if err != nil {
			continue
		}
		claimed := false
		for path, tokens := range factTokens {
			if docpath.HasPrefix(issueTokens, tokens) {
				owners[path] = struct{}{}
				claimed = true
			}
		}
		if claimed {
			continue
		}

		var deepest []string
		var deepestOwners []string
		for ptr, paths := range plan.Created {
			created, err := docpath.ParsePointer(ptr)
			if err != nil || len(created) == 0 || len(created) <= len(deepest) {
				continue
			}
			if docpath.HasPrefix(issueTokens, created) {
				deepest, deepestOwners = created, paths
			}
		}
		for _, p := range deepestOwners {
			owners[p] = struct{}{}
		}
	}
	return owners
}

func requireReview(f model.Fact) model.Fact {
	out := f.Clone()
	out.Gate = model.GateRequire
	out.GateOverride = out.Gate != model.DeriveGate(out.Confidence)
	if out.Notes != "" {
		out.Notes += "; "
	}
	out.Notes += "dropped at apply: schema validation failed"
	return out
}

func clearDecisions(decisions []model.Decision, dropped []model.Fact) []model.Decision {
	cleared := make(map[string]struct{}, len(dropped))
	for _, f := range dropped {
		cleared[f.Path] = struct{}{}
	}
	out := []model.Decision{}
	for _, d := range decisions {
		key := d.Path
		if c, err := docpath.Canonical(d.Path); err == nil {
			key = c
		}
		if _, ok := cleared[key]; ok {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (e *Engine) pending(src *model.Proposal, doc any, facts []model.Fact) *model.Proposal {
	sortByPath(facts)
	for i := range facts {
		if tokens, err := docpath.Parse(facts[i].Path); err == nil {
			facts[i].CurrentValue, _ = document.Get(doc, tokens)
		}
	}
	p := &model.Proposal{
		Meta:             src.Meta,
		Facts:            facts,
		Patch:            []model.JSONPatchOp{},
		Notes:            src.Notes,
		Diagnostics:      model.Diagnostics{CoverageNonNull: src.Diagnostics.CoverageNonNull, LowConfidence: model.LowConfidencePaths(facts, e.minConfidence)},
		ConfidenceReport: model.BuildConfidenceReport(facts),
		Sources:          model.SourcePaths(facts),
	}
	if p.Facts == nil {
		p.Facts = []model.Fact{}
	}
	if ops, err := BuildPatch(doc, facts); err == nil {
		p.Patch = ops
	} else {
		e.log.Debug("apply: pending patch preview unavailable", zap.Error(err))
	}
	return p
}

// Package pipeline turns an evidence bundle and the current record into a
// reviewable proposal: baseline, extraction, reasoning and verification.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/repocard/internal/apply"
	"github.com/sells-group/repocard/internal/baseline"
	"github.com/sells-group/repocard/internal/docpath"
	"github.com/sells-group/repocard/internal/document"
	"github.com/sells-group/repocard/internal/evidence"
	"github.com/sells-group/repocard/internal/model"
	"github.com/sells-group/repocard/internal/reasoner"
)

// Config holds the run-wide pipeline settings.
type Config struct {
	MinConfidence     float64
	PassAttempts      int
	DeterministicOnly []string
	Effort            reasoner.Effort
	MaxOutputTokens   int64
	Verify            VerifyConfig
}

// NotesWriter produces free-text reviewer notes for a finished fact set.
type NotesWriter interface {
	WriteNotes(ctx context.Context, bundle *evidence.Bundle, facts []model.Fact) (string, error)
}

// RunTracker records run progress.
type RunTracker interface {
	UpdateRunStatus(ctx context.Context, id string, status model.RunStatus) error
}

// usageSource is implemented by invokers that track token spend.
type usageSource interface {
	Usage() model.UsageSummary
	Provider() string
}

// RunInput is everything one generate run reads.
type RunInput struct {
	RunID        string
	GeneratedAt  time.Time
	Bundle       *evidence.Bundle
	EvidenceHash string
	Document     any
	Decisions    []model.Decision
}

// Pipeline orchestrates the passes of a generate run.
type Pipeline struct {
	cfg      Config
	inv      Invoker
	baseline *baseline.Builder
	notes    NotesWriter
	tracker  RunTracker
	sleep    func(context.Context, time.Duration) error
	log      *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBaseline replaces the default rule set.
func WithBaseline(b *baseline.Builder) Option {
	return func(p *Pipeline) { p.baseline = b }
}

// WithNotes sets the notes collaborator.
func WithNotes(n NotesWriter) Option {
	return func(p *Pipeline) { p.notes = n }
}

// WithTracker sets the run tracker.
func WithTracker(t RunTracker) Option {
	return func(p *Pipeline) { p.tracker = t }
}

// WithSleep overrides the inter-batch sleeper used by verification.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = fn }
}

// WithLogger sets the base logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// New creates a Pipeline. A nil invoker runs the deterministic path only.
func New(cfg Config, inv Invoker, opts ...Option) *Pipeline {
	if cfg.PassAttempts <= 0 {
		cfg.PassAttempts = 2
	}
	if cfg.DeterministicOnly == nil {
		cfg.DeterministicOnly = DefaultDeterministicOnly
	}
	if !cfg.Effort.Valid() {
		cfg.Effort = reasoner.EffortMedium
	}
	if cfg.Verify.MinConfidence == 0 {
		cfg.Verify.MinConfidence = cfg.MinConfidence
	}
	p := &Pipeline{cfg: cfg, inv: inv, log: zap.L()}
	for _, o := range opts {
		o(p)
	}
	if p.baseline == nil {
		p.baseline = baseline.New(nil, cfg.MinConfidence)
	}
	return p
}

// Run produces a proposal. Reasoning-service failures degrade to the
// deterministic baseline; only missing input is an error.
func (p *Pipeline) Run(ctx context.Context, in RunInput) (*model.Proposal, error) {
	if in.Bundle == nil {
		return nil, eris.New("pipeline: evidence bundle is required")
	}
	if in.RunID == "" {
		return nil, eris.New("pipeline: run id is required")
	}
	doc, err := document.Generic(in.Document)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: decode document")
	}
	if doc == nil {
		doc = map[string]any{}
	}
	log := p.log.With(zap.String("run_id", in.RunID))
	start := time.Now()

	skipped, locked := decisionScopes(in.Decisions)
	protected := append(append([]string{}, p.cfg.DeterministicOnly...), locked...)
	seedProtected := append(append([]string{}, locked...), skipped...)

	p.setStatus(ctx, log, in.RunID, model.RunStatusBaseline)
	base := p.baseline.Build(in.Bundle, doc)
	seed := excludeWithin(base.Facts, seedProtected)
	log.Info("pipeline: baseline built",
		zap.Int("facts", len(seed)),
		zap.Float64("coverage_non_null", base.CoverageNonNull),
	)

	meta := runMeta(in)

	p.setStatus(ctx, log, in.RunID, model.RunStatusExtracting)
	extraction := RunPass(ctx, p.inv, PassSpec{
		Name:            "extraction",
		System:          extractionSystem,
		Prompt:          p.render(log, "Extraction input", map[string]any{"run": meta, "document": doc, "evidence": in.Bundle, "baseline": seed}),
		Seed:            seed,
		Reconciler:      NewReconciler(protected, model.SourceExtracted, doc, log),
		Effort:          p.cfg.Effort,
		MaxOutputTokens: p.cfg.MaxOutputTokens,
		MaxAttempts:     p.cfg.PassAttempts,
		MinConfidence:   p.cfg.MinConfidence,
	}, log)

	p.setStatus(ctx, log, in.RunID, model.RunStatusReasoning)
	reasoning := RunPass(ctx, p.inv, PassSpec{
		Name:            "reasoning",
		System:          reasoningSystem,
		Prompt:          p.render(log, "Reasoning input", map[string]any{"run": meta, "document": doc, "facts": extraction.Facts}),
		Seed:            extraction.Facts,
		Reconciler:      NewReconciler(protected, model.SourceInferred, doc, log),
		Effort:          p.cfg.Effort,
		MaxOutputTokens: p.cfg.MaxOutputTokens,
		MaxAttempts:     p.cfg.PassAttempts,
		MinConfidence:   p.cfg.MinConfidence,
	}, log)

	p.setStatus(ctx, log, in.RunID, model.RunStatusVerifying)
	verifier := NewVerifier(p.inv, in.Bundle, p.cfg.Verify, p.sleep, log)
	verified, vsum := verifier.Verify(ctx, reasoning.Facts)
	log.Info("pipeline: verification finished",
		zap.Int("sampled", vsum.Sampled),
		zap.Int("batches", vsum.Batches),
		zap.Int("downgraded", vsum.Downgraded),
		zap.Int("failed", vsum.Failed),
		zap.Int("unanchored", vsum.Unanchored),
	)

	facts := p.finalize(verified, doc, skipped)
	prop := &model.Proposal{
		Meta: model.ProposalMeta{
			RunID:        in.RunID,
			GeneratedAt:  in.GeneratedAt.UTC(),
			Commit:       in.Bundle.Commit(),
			Repository:   in.Bundle.Repository.Name,
			EvidenceHash: in.EvidenceHash,
			Passes:       []model.PassSummary{extraction.Summary, reasoning.Summary},
		},
		Facts:            facts,
		Patch:            []model.JSONPatchOp{},
		ConfidenceReport: model.BuildConfidenceReport(facts),
		Sources:          model.SourcePaths(facts),
		Diagnostics: model.Diagnostics{
			CoverageNonNull: coverageNonNull(facts),
			LowConfidence:   model.LowConfidencePaths(facts, p.cfg.MinConfidence),
		},
	}
	if us, ok := p.inv.(usageSource); ok {
		prop.Meta.Usage = us.Usage()
		prop.Meta.Provider = us.Provider()
	}

	if p.notes != nil {
		notes, err := p.notes.WriteNotes(ctx, in.Bundle, facts)
		if err != nil {
			log.Warn("pipeline: notes writer failed", zap.Error(err))
		} else {
			prop.Notes = notes
		}
	}

	if ops, err := apply.BuildPatch(doc, facts); err != nil {
		log.Warn("pipeline: patch preview unavailable", zap.Error(err))
	} else {
		prop.Patch = ops
	}

	log.Info("pipeline: proposal ready",
		zap.Int("facts", len(facts)),
		zap.Int("ok", prop.ConfidenceReport.ByGate[model.GateOK]),
		zap.Int("warn", prop.ConfidenceReport.ByGate[model.GateWarn]),
		zap.Int("require", prop.ConfidenceReport.ByGate[model.GateRequire]),
		zap.Int64("input_tokens", prop.Meta.Usage.InputTokens),
		zap.Int64("output_tokens", prop.Meta.Usage.OutputTokens),
		zap.Float64("estimated_cost_usd", prop.Meta.Usage.EstimatedCostUSD),
		zap.Duration("elapsed", time.Since(start)),
	)
	return prop, nil
}

// finalize drops anchorless and skipped facts, refreshes current values
// and returns a path-sorted fact set.
func (p *Pipeline) finalize(facts []model.Fact, doc any, skipped []string) []model.Fact {
	out := make([]model.Fact, 0, len(facts))
	for _, f := range excludeWithin(facts, skipped) {
		if !f.HasAnchors() {
			continue
		}
		if tokens, err := docpath.Parse(f.Path); err == nil {
			f.CurrentValue, _ = document.Get(doc, tokens)
		}
		out = append(out, f.Normalize())
	}
	SortFacts(out)
	return out
}

func (p *Pipeline) render(log *zap.Logger, title string, payload any) string {
	s, err := renderPayload(title, payload)
	if err != nil {
		log.Warn("pipeline: prompt render failed", zap.Error(err))
		return "# " + title
	}
	return s
}

func (p *Pipeline) setStatus(ctx context.Context, log *zap.Logger, runID string, status model.RunStatus) {
	if p.tracker == nil {
		return
	}
	if err := p.tracker.UpdateRunStatus(ctx, runID, status); err != nil {
		log.Warn("pipeline: failed to update run status", zap.String("status", string(status)), zap.Error(err))
	}
}

func runMeta(in RunInput) map[string]any {
	return map[string]any{
		"runId":       in.RunID,
		"generatedAt": in.GeneratedAt.UTC().Format(time.RFC3339),
		"commit":      in.Bundle.Commit(),
		"repository":  in.Bundle.Repository.Name,
	}
}

// decisionScopes splits standing decisions into skipped and locked paths.
func decisionScopes(decisions []model.Decision) (skipped, locked []string) {
	for _, d := range decisions {
		path, err := docpath.Canonical(d.Path)
		if err != nil {
			continue
		}
		if d.SkipGeneration {
			skipped = append(skipped, path)
		}
		if d.Lock {
			locked = append(locked, path)
		}
	}
	return skipped, locked
}

func excludeWithin(facts []model.Fact, bases []string) []model.Fact {
	if len(bases) == 0 {
		return facts
	}
	out := make([]model.Fact, 0, len(facts))
	for _, f := range facts {
		drop := false
		for _, b := range bases {
			if docpath.Within(f.Path, b) {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, f)
		}
	}
	return out
}

// coverageNonNull is the share of facts proposing a non-empty value.
func coverageNonNull(facts []model.Fact) float64 {
	if len(facts) == 0 {
		return 0
	}
	n := 0
	for _, f := range facts {
		if !isEmptyValue(f.ProposedValue) {
			n++
		}
	}
	return float64(n) / float64(len(facts))
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

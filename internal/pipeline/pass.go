package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/repocard/internal/model"
	"github.com/sells-group/repocard/internal/reasoner"
)

// Invoker calls the reasoning service.
type Invoker interface {
	Invoke(ctx context.Context, req reasoner.Request) (*reasoner.Response, reasoner.Effort, error)
}

// PassSpec configures one extraction or reasoning pass.
type PassSpec struct {
	Name   string
	System string
	// Prompt is the rendered user payload before any retry guidance.
	Prompt string
	// Seed is the prior fact set. It is also the deterministic fallback.
	Seed            []model.Fact
	Reconciler      *Reconciler
	Effort          reasoner.Effort
	MaxOutputTokens int64
	MaxAttempts     int
	MinConfidence   float64
}

// PassResult is the outcome of a pass.
type PassResult struct {
	Facts   []model.Fact
	Summary model.PassSummary
}

// RunPass drives the retrying reconciliation loop. It never fails: any
// invocation or decode failure falls back to the current seed.
func RunPass(ctx context.Context, inv Invoker, spec PassSpec, log *zap.Logger) PassResult {
	if log == nil {
		log = zap.NewNop()
	}
	maxAttempts := spec.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	seed := cloneFacts(spec.Seed)
	SortFacts(seed)
	res := PassResult{Facts: seed, Summary: model.PassSummary{Name: spec.Name}}
	if inv == nil {
		res.Summary.Fallback = true
		return res
	}

	var reasons []string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Summary.Attempts = attempt
		req := reasoner.Request{
			Phase: spec.Name,
			Messages: []reasoner.Message{
				{Role: reasoner.RoleSystem, Content: spec.System},
				{Role: reasoner.RoleUser, Content: appendRetryGuidance(spec.Prompt, reasons)},
			},
			MaxOutputTokens: spec.MaxOutputTokens,
			Effort:          spec.Effort,
			Structured:      true,
		}

		facts, networked := invokeAndReconcile(ctx, inv, req, res.Facts, spec.Reconciler, log)
		res.Facts = facts
		res.Summary.Fallback = !networked

		reasons = RetryReasons(facts, spec.MinConfidence)
		res.Summary.RetryReasons = reasons
		if len(reasons) == 0 || !networked {
			break
		}
		if attempt < maxAttempts {
			log.Info("pipeline: retrying pass",
				zap.String("pass", spec.Name),
				zap.Int("attempt", attempt+1),
				zap.Int("reasons", len(reasons)),
			)
		}
	}
	return res
}

// invokeAndReconcile returns the reconciled facts and whether they came
// from a successful service response. On failure the seed is returned.
func invokeAndReconcile(ctx context.Context, inv Invoker, req reasoner.Request, seed []model.Fact, rec *Reconciler, log *zap.Logger) ([]model.Fact, bool) {
	resp, effort, err := inv.Invoke(ctx, req)
	if err != nil {
		log.Warn("pipeline: reasoning call failed, using deterministic fallback",
			zap.String("pass", req.Phase),
			zap.Error(err),
		)
		return seed, false
	}

	candidates, err := reasoner.DecodeFacts(resp.Content)
	if err != nil {
		fields := []zap.Field{zap.String("pass", req.Phase), zap.String("effort", string(effort)), zap.Error(err)}
		var perr *reasoner.ParseError
		if errors.As(err, &perr) {
			fields = append(fields, zap.String("preview", perr.Preview))
		}
		log.Warn("pipeline: malformed reasoning response, using deterministic fallback", fields...)
		return seed, false
	}
	return rec.Reconcile(seed, candidates), true
}

func cloneFacts(in []model.Fact) []model.Fact {
	out := make([]model.Fact, len(in))
	for i, f := range in {
		out[i] = f.Clone()
	}
	return out
}

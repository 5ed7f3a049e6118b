package pipeline

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/repocard/internal/evidence"
	"github.com/sells-group/repocard/internal/model"
	"github.com/sells-group/repocard/internal/reasoner"
	"github.com/sells-group/repocard/internal/resilience"
)

// DefaultInvalidityKeywords mark a verification comment as negative even
// when the verdict flag says valid.
var DefaultInvalidityKeywords = []string{
	"incorrect",
	"inaccurate",
	"not supported",
	"unsupported",
	"contradict",
	"wrong",
	"invalid",
	"no evidence",
	"not found",
	"hallucinat",
}

// VerifyConfig bounds the verification pass.
type VerifyConfig struct {
	// SampleSize caps verified facts, lowest confidence first. Zero verifies
	// every anchored fact.
	SampleSize            int
	BatchTokenBudget      int
	TargetTokensPerMinute int
	AbsoluteFloor         float64
	MinConfidence         float64
	InvalidityKeywords    []string
	Effort                reasoner.Effort
	MaxOutputTokens       int64
}

// VerifySummary reports what the pass did.
type VerifySummary struct {
	Sampled    int
	Batches    int
	Downgraded int
	Failed     int
	Unanchored int
}

// Verifier checks facts against their cited source text.
type Verifier struct {
	inv    Invoker
	bundle *evidence.Bundle
	cfg    VerifyConfig
	sleep  func(ctx context.Context, d time.Duration) error
	log    *zap.Logger
}

// NewVerifier creates a Verifier. A nil sleep uses a real timer.
func NewVerifier(inv Invoker, bundle *evidence.Bundle, cfg VerifyConfig, sleep func(context.Context, time.Duration) error, log *zap.Logger) *Verifier {
	if sleep == nil {
		sleep = resilience.SleepContext
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.InvalidityKeywords == nil {
		cfg.InvalidityKeywords = DefaultInvalidityKeywords
	}
	return &Verifier{inv: inv, bundle: bundle, cfg: cfg, sleep: sleep, log: log}
}

type verifyItem struct {
	Path          string   `json:"path"`
	ProposedValue any      `json:"proposedValue"`
	Confidence    float64  `json:"confidence"`
	Sources       []source `json:"sources"`
}

type source struct {
	Anchor string `json:"anchor"`
	Text   string `json:"text"`
}

type batch struct {
	items  []verifyItem
	tokens int
}

// Verify returns new facts whose confidence and gate never exceed the
// input's.
func (v *Verifier) Verify(ctx context.Context, facts []model.Fact) ([]model.Fact, VerifySummary) {
	out := cloneFacts(facts)
	var sum VerifySummary

	index := make(map[string]int, len(out))
	for i := range out {
		index[out[i].Path] = i
		if !out[i].HasAnchors() {
			out[i] = v.downgrade(out[i], out[i].Confidence, "no anchors to verify")
			sum.Unanchored++
		}
	}
	if v.inv == nil {
		return out, sum
	}

	sample := v.sample(out)
	sum.Sampled = len(sample)
	batches := v.pack(sample)
	sum.Batches = len(batches)

	for i, b := range batches {
		if i > 0 {
			if err := v.sleep(ctx, v.delay(batches[i-1].tokens)); err != nil {
				v.log.Warn("pipeline: verification interrupted", zap.Error(err))
				break
			}
		}
		verdicts, ok := v.run(ctx, b)
		if !ok {
			sum.Failed += len(b.items)
			continue
		}
		for _, vd := range verdicts {
			idx, found := index[vd.Path]
			if !found || !inBatch(b, vd.Path) {
				continue
			}
			before := out[idx]
			out[idx] = v.apply(before, vd)
			if out[idx].Gate != before.Gate || out[idx].Confidence < before.Confidence {
				sum.Downgraded++
			}
		}
	}
	return out, sum
}

// sample picks anchored facts, lowest confidence first, ties by path.
func (v *Verifier) sample(facts []model.Fact) []model.Fact {
	var anchored []model.Fact
	for _, f := range facts {
		if f.HasAnchors() {
			anchored = append(anchored, f)
		}
	}
	sort.SliceStable(anchored, func(i, j int) bool {
		if anchored[i].Confidence != anchored[j].Confidence {
			return anchored[i].Confidence < anchored[j].Confidence
		}
		return anchored[i].Path < anchored[j].Path
	})
	if v.cfg.SampleSize > 0 && len(anchored) > v.cfg.SampleSize {
		anchored = anchored[:v.cfg.SampleSize]
	}
	return anchored
}

func (v *Verifier) pack(facts []model.Fact) []batch {
	var out []batch
	var cur batch
	for _, f := range facts {
		item := verifyItem{Path: f.Path, ProposedValue: f.ProposedValue, Confidence: f.Confidence}
		for _, a := range f.Anchors {
			text, ok := v.bundle.SourceText(a)
			if !ok {
				continue
			}
			item.Sources = append(item.Sources, source{Anchor: anchorLabel(a), Text: text})
		}
		raw, _ := json.Marshal(item)
		tokens := estimateTokens(string(raw))

		if len(cur.items) > 0 && v.cfg.BatchTokenBudget > 0 && cur.tokens+tokens > v.cfg.BatchTokenBudget {
			out = append(out, cur)
			cur = batch{}
		}
		cur.items = append(cur.items, item)
		cur.tokens += tokens
	}
	if len(cur.items) > 0 {
		out = append(out, cur)
	}
	return out
}

// delay spaces batches so that tokens are spent at the target rate.
func (v *Verifier) delay(tokens int) time.Duration {
	if v.cfg.TargetTokensPerMinute <= 0 {
		return 0
	}
	return time.Duration(float64(tokens) / float64(v.cfg.TargetTokensPerMinute) * float64(time.Minute))
}

func (v *Verifier) run(ctx context.Context, b batch) ([]reasoner.Verdict, bool) {
	prompt, err := renderPayload("Facts to verify", map[string]any{"facts": b.items})
	if err != nil {
		v.log.Warn("pipeline: render verification batch", zap.Error(err))
		return nil, false
	}
	resp, _, err := v.inv.Invoke(ctx, reasoner.Request{
		Phase: "verification",
		Messages: []reasoner.Message{
			{Role: reasoner.RoleSystem, Content: verificationSystem},
			{Role: reasoner.RoleUser, Content: prompt},
		},
		MaxOutputTokens: v.cfg.MaxOutputTokens,
		Effort:          v.cfg.Effort,
		Structured:      true,
	})
	if err != nil {
		v.log.Warn("pipeline: verification call failed, batch left unverified", zap.Int("facts", len(b.items)), zap.Error(err))
		return nil, false
	}
	verdicts, err := reasoner.DecodeVerdicts(resp.Content)
	if err != nil {
		v.log.Warn("pipeline: malformed verification response", zap.String("preview", reasoner.Preview(resp.Content)), zap.Error(err))
		return nil, false
	}
	return verdicts, true
}

// apply folds a verdict into a fact. Confidence only moves down; a negative
// verdict, an invalidity keyword or a collapse below the floor downgrades
// the gate.
func (v *Verifier) apply(f model.Fact, vd reasoner.Verdict) model.Fact {
	conf := f.Confidence
	if vd.Confidence != nil {
		if c := model.ClampConfidence(*vd.Confidence); c < conf {
			conf = c
		}
	}

	negative := !vd.Valid || v.hasInvalidityKeyword(vd.Comment) || conf < v.cfg.AbsoluteFloor
	if negative {
		return v.downgrade(f, conf, vd.Comment)
	}

	out := f.Clone()
	out.Confidence = conf
	if out.GateOverride {
		out.Gate = model.LowerGate(out.Gate, model.DeriveGate(conf))
	} else {
		out.Gate = model.DeriveGate(conf)
	}
	return out
}

func (v *Verifier) downgrade(f model.Fact, conf float64, note string) model.Fact {
	out := f.Clone()
	out.Confidence = conf
	target := model.GateWarn
	if conf < v.cfg.MinConfidence {
		target = model.GateRequire
	}
	out.Gate = model.LowerGate(model.LowerGate(f.Gate, target), model.DeriveGate(conf))
	out.GateOverride = out.Gate != model.DeriveGate(conf)
	if note = strings.TrimSpace(note); note != "" {
		if out.Notes != "" {
			out.Notes += "; "
		}
		out.Notes += "verification: " + note
	}
	return out
}

func (v *Verifier) hasInvalidityKeyword(comment string) bool {
	lc := strings.ToLower(comment)
	for _, k := range v.cfg.InvalidityKeywords {
		if k != "" && strings.Contains(lc, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func inBatch(b batch, path string) bool {
	for _, it := range b.items {
		if it.Path == path {
			return true
		}
	}
	return false
}

func anchorLabel(a model.Anchor) string {
	return a.Path + "#L" + strconv.Itoa(a.StartLine) + "-L" + strconv.Itoa(a.EndLine)
}

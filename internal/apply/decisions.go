package apply

import (
	"sort"

	"github.com/sells-group/repocard/internal/docpath"
	"github.com/sells-group/repocard/internal/model"
)

// Resolution splits proposal facts by human decision.
type Resolution struct {
	// Accepted facts go into the speculative apply loop.
	Accepted []model.Fact
	// Pending facts have no decision and are not auto-applicable.
	Pending []model.Fact
	// Rejected paths were explicitly declined.
	Rejected []string
}

// Resolve applies decisions to facts. reject drops, edit replaces the value
// (and anchors when given) and marks the fact manual, accept keeps, and a
// fact without a decision is auto-applied only when its gate is OK. An
// accepted fact without anchors is never applied.
func Resolve(facts []model.Fact, decisions []model.Decision) Resolution {
	byPath := DecisionsByPath(decisions)
	var res Resolution
	seen := make(map[string]struct{}, len(facts))

	for _, f := range facts {
		f = f.Clone()
		seen[f.Path] = struct{}{}
		d, ok := byPath[f.Path]
		if !ok {
			if f.Gate == model.GateOK && f.HasAnchors() {
				res.Accepted = append(res.Accepted, f)
			} else {
				res.Pending = append(res.Pending, f)
			}
			continue
		}
		switch d.Decision {
		case model.DecisionReject:
			res.Rejected = append(res.Rejected, f.Path)
		case model.DecisionEdit:
			f = edit(f, d)
			fallthrough
		case model.DecisionAccept:
			if f.HasAnchors() {
				res.Accepted = append(res.Accepted, f)
			} else {
				res.Pending = append(res.Pending, f)
			}
		default:
			res.Pending = append(res.Pending, f)
		}
	}

	// Edits may introduce facts the proposal did not contain.
	for _, d := range decisions {
		if d.Decision != model.DecisionEdit {
			continue
		}
		tokens, err := docpath.Parse(d.Path)
		if err != nil || len(tokens) == 0 {
			continue
		}
		path := docpath.Format(tokens)
		if _, ok := seen[path]; ok || byPath[path].Decision != model.DecisionEdit {
			continue
		}
		seen[path] = struct{}{}
		f := edit(model.Fact{Path: path, Pointer: docpath.Pointer(tokens), Confidence: 1}, byPath[path])
		if f.HasAnchors() {
			res.Accepted = append(res.Accepted, f)
		}
	}

	sortByPath(res.Accepted)
	sortByPath(res.Pending)
	sort.Strings(res.Rejected)
	return res
}

func edit(f model.Fact, d model.Decision) model.Fact {
	f.ProposedValue = d.EditedValue
	if anchors := model.ValidAnchors(d.Anchors); len(anchors) > 0 {
		f.Anchors = anchors
	}
	f.Source = model.FactSource{Kind: model.SourceManual}
	f.Gate = model.GateOK
	f.GateOverride = f.Gate != model.DeriveGate(f.Confidence)
	return f
}

// DecisionsByPath indexes decisions by canonical path. A later decision
// for the same path wins.
func DecisionsByPath(decisions []model.Decision) map[string]model.Decision {
	out := make(map[string]model.Decision, len(decisions))
	for _, d := range decisions {
		key := d.Path
		if c, err := docpath.Canonical(d.Path); err == nil {
			key = c
		}
		out[key] = d
	}
	return out
}

func sortByPath(facts []model.Fact) {
	sort.Slice(facts, func(i, j int) bool { return facts[i].Path < facts[j].Path })
}

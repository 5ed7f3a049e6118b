package model

import "math"

// Gate is the coarse trust tier controlling whether a fact may be auto-applied.
type Gate string

const (
	GateOK      Gate = "OK"
	GateWarn    Gate = "Warn"
	GateRequire Gate = "Require"
)

// Gate thresholds.
const (
	GateOKThreshold   = 0.80
	GateWarnThreshold = 0.65
)

// Valid reports whether g is a known gate.
func (g Gate) Valid() bool {
	switch g {
	case GateOK, GateWarn, GateRequire:
		return true
	default:
		return false
	}
}

func (g Gate) rank() int {
	switch g {
	case GateOK:
		return 2
	case GateWarn:
		return 1
	default:
		return 0
	}
}

// LowerGate returns the less trusted of two gates.
func LowerGate(a, b Gate) Gate {
	if a.rank() <= b.rank() {
		return a
	}
	return b
}

// DeriveGate maps a confidence to its gate.
func DeriveGate(confidence float64) Gate {
	switch {
	case confidence >= GateOKThreshold:
		return GateOK
	case confidence >= GateWarnThreshold:
		return GateWarn
	default:
		return GateRequire
	}
}

// ClampConfidence bounds c to [0,1]. Non-finite values become 0.
func ClampConfidence(c float64) float64 {
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// SourceKind records how a fact was produced.
type SourceKind string

const (
	SourceExtracted SourceKind = "extracted"
	SourceInferred  SourceKind = "inferred"
	SourceManual    SourceKind = "manual"
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceExtracted, SourceInferred, SourceManual:
		return true
	default:
		return false
	}
}

// FactSource describes the origin of a fact.
type FactSource struct {
	Kind SourceKind `json:"kind"`
}

// Fact is a single proposed document value with provenance and confidence.
// Facts are values: every transformation returns a new Fact.
type Fact struct {
	Path          string     `json:"path"`
	Pointer       string     `json:"pointer"`
	CurrentValue  any        `json:"currentValue"`
	ProposedValue any        `json:"proposedValue"`
	Source        FactSource `json:"source"`
	Anchors       []Anchor   `json:"anchors"`
	Confidence    float64    `json:"confidence"`
	Gate          Gate       `json:"gate"`
	GateOverride  bool       `json:"gateOverride,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

// Normalize returns a copy with confidence clamped, anchors deduped and
// the gate re-derived unless it was explicitly overridden.
func (f Fact) Normalize() Fact {
	out := f.Clone()
	out.Confidence = ClampConfidence(out.Confidence)
	out.Anchors = DedupeAnchors(out.Anchors)
	if !out.GateOverride || !out.Gate.Valid() {
		out.Gate = DeriveGate(out.Confidence)
		out.GateOverride = false
	}
	return out
}

// Clone copies the fact, including its anchor slice. Values are treated
// as immutable JSON trees and are shared.
func (f Fact) Clone() Fact {
	out := f
	if f.Anchors != nil {
		out.Anchors = append([]Anchor(nil), f.Anchors...)
	}
	return out
}

// HasAnchors reports whether the fact carries at least one anchor.
func (f Fact) HasAnchors() bool {
	return len(f.Anchors) > 0
}

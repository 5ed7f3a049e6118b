package reasoner

import "github.com/rotisserie/eris"

// Effort is a reasoning-effort tier.
type Effort string

const (
	EffortHigh   Effort = "high"
	EffortMedium Effort = "medium"
	EffortLow    Effort = "low"
)

// ParseEffort validates a configured effort name.
func ParseEffort(s string) (Effort, error) {
	e := Effort(s)
	if !e.Valid() {
		return "", eris.Errorf("reasoner: unknown effort %q", s)
	}
	return e, nil
}

// Valid reports whether e is a known tier.
func (e Effort) Valid() bool {
	switch e {
	case EffortHigh, EffortMedium, EffortLow:
		return true
	default:
		return false
	}
}

// Lower returns the next tier down. Low is the floor.
func (e Effort) Lower() Effort {
	switch e {
	case EffortHigh:
		return EffortMedium
	default:
		return EffortLow
	}
}

// Ladder is the ordered list of tiers tried for one invocation: the
// requested tier, then one step down.
func Ladder(start Effort) []Effort {
	if !start.Valid() {
		start = EffortMedium
	}
	next := start.Lower()
	if next == start {
		return []Effort{start}
	}
	return []Effort{start, next}
}

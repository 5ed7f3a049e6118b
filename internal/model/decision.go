package model

// DecisionKind is a human disposition for a fact.
type DecisionKind string

const (
	DecisionAccept DecisionKind = "accept"
	DecisionReject DecisionKind = "reject"
	DecisionEdit   DecisionKind = "edit"
)

// Valid reports whether k is a known decision.
func (k DecisionKind) Valid() bool {
	switch k {
	case DecisionAccept, DecisionReject, DecisionEdit:
		return true
	default:
		return false
	}
}

// Decision is human input keyed by fact path.
type Decision struct {
	Path           string       `json:"path" yaml:"path"`
	Decision       DecisionKind `json:"decision" yaml:"decision"`
	EditedValue    any          `json:"editedValue,omitempty" yaml:"editedValue,omitempty"`
	Anchors        []Anchor     `json:"anchors,omitempty" yaml:"anchors,omitempty"`
	Lock           bool         `json:"lock,omitempty" yaml:"lock,omitempty"`
	SkipGeneration bool         `json:"skipGeneration,omitempty" yaml:"skipGeneration,omitempty"`
}

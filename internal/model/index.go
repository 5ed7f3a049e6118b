package model

import "time"

// AnchorsIndexVersion is the current provenance index format.
const AnchorsIndexVersion = 1

// AnchorsIndex maps document paths to the evidence that justifies them.
// It is rebuilt on every apply and never edited by hand.
type AnchorsIndex struct {
	Version           int                 `json:"version"`
	DocumentHash      string              `json:"documentHash"`
	RunID             string              `json:"runId"`
	GeneratedAt       time.Time           `json:"generatedAt"`
	AnchorsByPath     map[string][]Anchor `json:"anchorsByPath"`
	UnanchoredReasons map[string]string   `json:"unanchoredReasons,omitempty"`
}

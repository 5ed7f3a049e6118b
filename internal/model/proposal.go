package model

import "time"

// JSONPatchOp is a single RFC 6902 operation.
type JSONPatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// PassSummary records how a pipeline pass ended.
type PassSummary struct {
	Name         string   `json:"name"`
	Attempts     int      `json:"attempts"`
	Fallback     bool     `json:"fallback"`
	RetryReasons []string `json:"retryReasons,omitempty"`
}

// UsageSummary aggregates reasoning-service token usage for a run.
type UsageSummary struct {
	Calls            int     `json:"calls"`
	InputTokens      int64   `json:"inputTokens"`
	OutputTokens     int64   `json:"outputTokens"`
	CacheReadTokens  int64   `json:"cacheReadTokens,omitempty"`
	CacheWriteTokens int64   `json:"cacheWriteTokens,omitempty"`
	EstimatedCostUSD float64 `json:"estimatedCostUsd"`
}

// ProposalMeta identifies the run that produced a proposal.
type ProposalMeta struct {
	RunID        string        `json:"runId"`
	GeneratedAt  time.Time     `json:"generatedAt"`
	Commit       string        `json:"commit,omitempty"`
	Repository   string        `json:"repository,omitempty"`
	EvidenceHash string        `json:"evidenceHash,omitempty"`
	Provider     string        `json:"provider,omitempty"`
	Passes       []PassSummary `json:"passes"`
	Usage        UsageSummary  `json:"usage"`
}

// Diagnostics summarizes coverage and weak spots of a proposal.
type Diagnostics struct {
	CoverageNonNull float64  `json:"coverageNonNull"`
	LowConfidence   []string `json:"lowConfidence"`
}

// ConfidenceReport aggregates fact confidence.
type ConfidenceReport struct {
	Total     int          `json:"total"`
	ByGate    map[Gate]int `json:"byGate"`
	Mean      float64      `json:"mean"`
	Min       float64      `json:"min"`
	Histogram []int        `json:"histogram"`
}

// Proposal is the immutable output of one pipeline run.
type Proposal struct {
	Meta             ProposalMeta     `json:"meta"`
	Facts            []Fact           `json:"facts"`
	Patch            []JSONPatchOp    `json:"patch"`
	Notes            string           `json:"notes"`
	Diagnostics      Diagnostics      `json:"diagnostics"`
	ConfidenceReport ConfidenceReport `json:"confidenceReport"`
	Sources          []string         `json:"sources"`
}

// FactByPath returns the fact stored under path.
func (p *Proposal) FactByPath(path string) (Fact, bool) {
	for _, f := range p.Facts {
		if f.Path == path {
			return f, true
		}
	}
	return Fact{}, false
}

package model

import "time"

// RunStatus represents the current state of a pipeline or apply run.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusBaseline   RunStatus = "baseline"
	RunStatusExtracting RunStatus = "extracting"
	RunStatusReasoning  RunStatus = "reasoning"
	RunStatusVerifying  RunStatus = "verifying"
	RunStatusApplying   RunStatus = "applying"
	RunStatusComplete   RunStatus = "complete"
	RunStatusFailed     RunStatus = "failed"
)

// RunKind distinguishes proposal generation from apply runs.
type RunKind string

const (
	RunKindGenerate RunKind = "generate"
	RunKindApply    RunKind = "apply"
)

// Run is a single generate or apply invocation keyed by run identifier.
type Run struct {
	ID           string      `json:"id"`
	Kind         RunKind     `json:"kind"`
	Repository   string      `json:"repository,omitempty"`
	EvidenceHash string      `json:"evidence_hash,omitempty"`
	Status       RunStatus   `json:"status"`
	Summary      *RunSummary `json:"summary,omitempty"`
	Error        string      `json:"error,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// RunSummary holds the final outcome of a run.
type RunSummary struct {
	Facts           int           `json:"facts"`
	Merged          int           `json:"merged,omitempty"`
	Dropped         int           `json:"dropped,omitempty"`
	Iterations      int           `json:"iterations,omitempty"`
	Valid           bool          `json:"valid"`
	CoverageNonNull float64       `json:"coverage_non_null"`
	DocumentHash    string        `json:"document_hash,omitempty"`
	Passes          []PassSummary `json:"passes,omitempty"`
	Usage           UsageSummary  `json:"usage"`
	DurationMs      int64         `json:"duration_ms"`
}

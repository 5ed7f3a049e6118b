package record

import (
	"time"

	"github.com/sells-group/repocard/internal/model"
	"github.com/sells-group/repocard/internal/schema"
)

// ApplyReport summarizes one apply run.
type ApplyReport struct {
	RunID         string              `json:"runId"`
	ProposalRunID string              `json:"proposalRunId"`
	AppliedAt     time.Time           `json:"appliedAt"`
	Valid         bool                `json:"valid"`
	Iterations    int                 `json:"iterations"`
	DocumentHash  string              `json:"documentHash"`
	Merged        []string            `json:"merged"`
	Dropped       []string            `json:"dropped"`
	Pending       []string            `json:"pending"`
	Issues        []schema.Issue      `json:"issues"`
	Patch         []model.JSONPatchOp `json:"patch"`
}

// FactPaths lists the paths of facts in order.
func FactPaths(facts []model.Fact) []string {
	out := make([]string, 0, len(facts))
	for _, f := range facts {
		out = append(out, f.Path)
	}
	return out
}

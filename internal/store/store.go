// Package store persists runs, the evidence cache and decision history.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/repocard/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status     model.RunStatus `json:"status,omitempty"`
	Kind       model.RunKind   `json:"kind,omitempty"`
	Repository string          `json:"repository,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Offset     int             `json:"offset,omitempty"`
}

// CacheEntry is one cached evidence bundle keyed by content hash.
type CacheEntry struct {
	Hash           string    `json:"hash"`
	Data           []byte    `json:"-"`
	CachedAt       time.Time `json:"cached_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// EvictPolicy bounds the evidence cache. Zero disables a bound.
type EvictPolicy struct {
	MaxAge     time.Duration
	MaxEntries int
}

// Store defines the persistence interface shared by generate and apply.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run model.Run) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error
	FailRun(ctx context.Context, runID string, cause error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Evidence cache
	GetCachedEvidence(ctx context.Context, hash string) (*CacheEntry, error)
	PutCachedEvidence(ctx context.Context, hash string, data []byte) error
	EvictEvidence(ctx context.Context, policy EvictPolicy) (int, error)

	// Decision history
	SaveDecisions(ctx context.Context, runID string, decisions []model.Decision) error
	LatestDecisions(ctx context.Context) ([]model.Decision, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func newRun(run model.Run, id string, now time.Time) *model.Run {
	out := run
	out.ID = id
	if out.Kind == "" {
		out.Kind = model.RunKindGenerate
	}
	out.Status = model.RunStatusQueued
	out.CreatedAt = now
	out.UpdatedAt = now
	return &out
}

func errorText(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}

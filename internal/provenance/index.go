// Package provenance builds the document-path → evidence-location index
// from the facts merged into a document.
package provenance

import (
	"time"

	"github.com/bmatcuk/doublestar"
	"github.com/rotisserie/eris"

	"github.com/sells-group/repocard/internal/canonical"
	"github.com/sells-group/repocard/internal/model"
)

// ReasonDenied is recorded when every anchor of an inferred or manual fact
// pointed at a forbidden path.
const ReasonDenied = "all anchors matched the provenance deny-list"

// DefaultDenyList names secret-like locations that must never appear in
// the index.
var DefaultDenyList = []string{
	"**/.env",
	"**/.env.*",
	"**/*.pem",
	"**/*.key",
	"**/*.p12",
	"**/id_rsa*",
	"**/id_ed25519*",
	"**/secrets/**",
	"**/*secret*",
	"**/*credential*",
	"**/.aws/**",
	"**/.ssh/**",
}

// Builder derives AnchorsIndex values.
type Builder struct {
	deny       []string
	normalizer *canonical.Normalizer
}

// NewBuilder validates the deny-list patterns.
func NewBuilder(deny []string, normalizer *canonical.Normalizer) (*Builder, error) {
	for _, p := range deny {
		if _, err := doublestar.Match(p, "x"); err != nil {
			return nil, eris.Wrapf(err, "provenance: bad deny pattern %q", p)
		}
	}
	if normalizer == nil {
		normalizer = canonical.New()
	}
	return &Builder{deny: append([]string(nil), deny...), normalizer: normalizer}, nil
}

// Denied reports whether an evidence path matches the deny-list.
func (b *Builder) Denied(path string) bool {
	for _, p := range b.deny {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}

// Filter drops anchors whose file matches the deny-list.
func (b *Builder) Filter(anchors []model.Anchor) []model.Anchor {
	var out []model.Anchor
	for _, a := range anchors {
		if !b.Denied(a.Path) {
			out = append(out, a)
		}
	}
	return out
}

// Build indexes the anchors of the given facts.
func (b *Builder) Build(facts []model.Fact, documentHash, runID string, generatedAt time.Time) *model.AnchorsIndex {
	idx := &model.AnchorsIndex{
		Version:       model.AnchorsIndexVersion,
		DocumentHash:  documentHash,
		RunID:         runID,
		GeneratedAt:   generatedAt.UTC(),
		AnchorsByPath: make(map[string][]model.Anchor),
	}
	for _, f := range facts {
		if len(f.Anchors) == 0 {
			continue
		}
		kept := b.Filter(f.Anchors)
		if len(kept) == 0 {
			if f.Source.Kind == model.SourceInferred || f.Source.Kind == model.SourceManual {
				if idx.UnanchoredReasons == nil {
					idx.UnanchoredReasons = make(map[string]string)
				}
				idx.UnanchoredReasons[f.Path] = ReasonDenied
			}
			continue
		}
		idx.AnchorsByPath[f.Path] = model.DedupeAnchors(append(idx.AnchorsByPath[f.Path], kept...))
	}
	return idx
}

// Canonical serializes the index through the canonicalizer so repeated
// runs with identical inputs produce identical bytes.
func (b *Builder) Canonical(idx *model.AnchorsIndex) ([]byte, error) {
	out, err := b.normalizer.Canonicalize(idx)
	if err != nil {
		return nil, eris.Wrap(err, "provenance: canonicalize index")
	}
	return out, nil
}

// Coverage reports the fraction of paths that carry at least one anchor.
func Coverage(idx *model.AnchorsIndex, paths []string) float64 {
	if len(paths) == 0 {
		return 0
	}
	n := 0
	for _, p := range paths {
		if len(idx.AnchorsByPath[p]) > 0 {
			n++
		}
	}
	return float64(n) / float64(len(paths))
}

// Package evidence defines the read-only Evidence Bundle produced by the
// repository-scanning collaborator.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/repocard/internal/model"
)

// TextSignal is a scalar repository fact with the evidence behind it.
type TextSignal struct {
	Value   string         `json:"value"`
	Anchors []model.Anchor `json:"anchors,omitempty"`
}

// ListSignal is a list-valued repository fact with the evidence behind it.
type ListSignal struct {
	Values  []string       `json:"values"`
	Anchors []model.Anchor `json:"anchors,omitempty"`
}

// Repository holds repository-level metadata.
type Repository struct {
	Name                 string     `json:"name"`
	Commit               string     `json:"commit"`
	Title                TextSignal `json:"title"`
	UseCase              TextSignal `json:"useCase"`
	Languages            ListSignal `json:"languages"`
	NonGoals             ListSignal `json:"nonGoals"`
	DependencyHighlights ListSignal `json:"dependencyHighlights"`
}

// SyntaxSummary is an optional outline of a source file.
type SyntaxSummary struct {
	Language string   `json:"language,omitempty"`
	Symbols  []string `json:"symbols,omitempty"`
	Imports  []string `json:"imports,omitempty"`
}

// File is a truncated view of one repository file.
type File struct {
	Path      string           `json:"path"`
	Hash      string           `json:"hash"`
	Kind      model.AnchorKind `json:"kind,omitempty"`
	StartLine int              `json:"startLine,omitempty"`
	Lines     []string         `json:"lines"`
	Truncated bool             `json:"truncated,omitempty"`
	Neighbors []string         `json:"neighbors,omitempty"`
	Summary   *SyntaxSummary   `json:"summary,omitempty"`
}

// FirstLine returns the 1-based line number of Lines[0].
func (f File) FirstLine() int {
	if f.StartLine < 1 {
		return 1
	}
	return f.StartLine
}

// DependencyEdge links two modules in the dependency graph.
type DependencyEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DependencyGraph is the repository's module graph.
type DependencyGraph struct {
	Nodes []string         `json:"nodes,omitempty"`
	Edges []DependencyEdge `json:"edges,omitempty"`
}

// Bundle is the evidence for a single run. It is never mutated.
type Bundle struct {
	RunID        string          `json:"runId,omitempty"`
	Repository   Repository      `json:"repository"`
	Files        []File          `json:"files"`
	Dependencies DependencyGraph `json:"dependencies"`
	Signals      map[string]any  `json:"signals,omitempty"`
}

// Parse decodes a bundle from JSON.
func Parse(raw []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, eris.Wrap(err, "evidence: decode bundle")
	}
	return &b, nil
}

// Load reads a bundle file and returns it with its content hash.
func Load(path string) (*Bundle, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "evidence: read %s", path)
	}
	b, err := Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	return b, raw, nil
}

// Hash returns the content hash used as the evidence cache key.
func Hash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// File looks up a file by path.
func (b *Bundle) File(path string) (File, bool) {
	for _, f := range b.Files {
		if f.Path == path {
			return f, true
		}
	}
	return File{}, false
}

// SourceText returns the preview lines an anchor covers. The boolean is
// false when the file is absent or the range lies outside the preview.
func (b *Bundle) SourceText(a model.Anchor) (string, bool) {
	f, ok := b.File(a.Path)
	if !ok {
		return "", false
	}
	first := f.FirstLine()
	start := a.StartLine - first
	end := a.EndLine - first + 1
	if start < 0 {
		start = 0
	}
	if end > len(f.Lines) {
		end = len(f.Lines)
	}
	if start >= end {
		return "", false
	}
	return strings.Join(f.Lines[start:end], "\n"), true
}

// Commit returns the repository commit recorded in the bundle.
func (b *Bundle) Commit() string {
	return b.Repository.Commit
}

package model

import (
	"sort"
	"strings"
)

// AnchorKind classifies the evidence an anchor points at.
type AnchorKind string

const (
	AnchorCode    AnchorKind = "code"
	AnchorOpenAPI AnchorKind = "openapi"
	AnchorMetrics AnchorKind = "metrics"
	AnchorDocs    AnchorKind = "docs"
	AnchorConfig  AnchorKind = "config"
	AnchorTest    AnchorKind = "test"
)

// Valid reports whether k is one of the known anchor kinds.
func (k AnchorKind) Valid() bool {
	switch k {
	case AnchorCode, AnchorOpenAPI, AnchorMetrics, AnchorDocs, AnchorConfig, AnchorTest:
		return true
	default:
		return false
	}
}

// Anchor ties a fact to a line range of a file at a given commit.
type Anchor struct {
	Path        string     `json:"path"`
	StartLine   int        `json:"startLine"`
	EndLine     int        `json:"endLine"`
	Commit      string     `json:"commit"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	Kind        AnchorKind `json:"kind"`
}

// Valid reports whether the anchor names a file and a well-formed line range.
func (a Anchor) Valid() bool {
	if strings.TrimSpace(a.Path) == "" {
		return false
	}
	if a.StartLine < 1 || a.EndLine < a.StartLine {
		return false
	}
	return a.Kind == "" || a.Kind.Valid()
}

// Equal compares every field, fingerprint and kind included.
func (a Anchor) Equal(b Anchor) bool {
	return a == b
}

func anchorLess(a, b Anchor) bool {
	if a.Path != b.Path {
		return a.Path < b.Path
	}
	if a.StartLine != b.StartLine {
		return a.StartLine < b.StartLine
	}
	if a.EndLine != b.EndLine {
		return a.EndLine < b.EndLine
	}
	if a.Commit != b.Commit {
		return a.Commit < b.Commit
	}
	// Tiebreakers keep output stable when only fingerprint or kind differ.
	if a.Fingerprint != b.Fingerprint {
		return a.Fingerprint < b.Fingerprint
	}
	return a.Kind < b.Kind
}

// SortAnchors orders anchors by (path, startLine, endLine, commit) in place.
func SortAnchors(anchors []Anchor) {
	sort.SliceStable(anchors, func(i, j int) bool { return anchorLess(anchors[i], anchors[j]) })
}

// DedupeAnchors returns a new sorted slice without exact duplicates.
// Anchors that differ only in fingerprint or kind are distinct.
func DedupeAnchors(anchors []Anchor) []Anchor {
	if len(anchors) == 0 {
		return nil
	}
	out := make([]Anchor, 0, len(anchors))
	seen := make(map[Anchor]struct{}, len(anchors))
	for _, a := range anchors {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	SortAnchors(out)
	return out
}

// ValidAnchors filters out malformed anchors and dedupes the rest.
func ValidAnchors(anchors []Anchor) []Anchor {
	var out []Anchor
	for _, a := range anchors {
		if a.Valid() {
			out = append(out, a)
		}
	}
	return DedupeAnchors(out)
}

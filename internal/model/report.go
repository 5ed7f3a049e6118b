package model

import (
	"math"
	"sort"
)

// histogramBuckets splits [0,1] into tenths; 1.0 lands in the last bucket.
const histogramBuckets = 10

// BuildConfidenceReport summarizes a fact set.
func BuildConfidenceReport(facts []Fact) ConfidenceReport {
	r := ConfidenceReport{
		Total:     len(facts),
		ByGate:    map[Gate]int{GateOK: 0, GateWarn: 0, GateRequire: 0},
		Histogram: make([]int, histogramBuckets),
	}
	if len(facts) == 0 {
		return r
	}
	r.Min = 1
	var sum float64
	for _, f := range facts {
		c := ClampConfidence(f.Confidence)
		sum += c
		r.Min = math.Min(r.Min, c)
		r.ByGate[f.Gate]++
		b := int(c * histogramBuckets)
		if b >= histogramBuckets {
			b = histogramBuckets - 1
		}
		r.Histogram[b]++
	}
	r.Mean = sum / float64(len(facts))
	return r
}

// SourcePaths returns the sorted unique file paths cited by facts.
func SourcePaths(facts []Fact) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, f := range facts {
		for _, a := range f.Anchors {
			if _, ok := seen[a.Path]; ok {
				continue
			}
			seen[a.Path] = struct{}{}
			out = append(out, a.Path)
		}
	}
	sort.Strings(out)
	return out
}

// LowConfidencePaths lists fact paths below min, sorted.
func LowConfidencePaths(facts []Fact, min float64) []string {
	out := []string{}
	for _, f := range facts {
		if f.Confidence < min {
			out = append(out, f.Path)
		}
	}
	sort.Strings(out)
	return out
}

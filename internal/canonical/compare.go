package canonical

import (
	"strings"
)

// Comparator orders two array elements: negative when a sorts first.
type Comparator func(a, b any) int

// DefaultComparators returns the per-path ordering table. Keys are array
// shapes (indices removed); a trailing ".*" matches any member of an
// object. Arrays without an entry keep insertion order.
func DefaultComparators() map[string]Comparator {
	byDate := Chain(FieldAsc("date"), FieldAsc("version"), FieldAsc("title"))
	byName := Chain(FieldAsc("name"), FieldAsc("version"))
	return map[string]Comparator{
		"risks":                       Chain(RankDesc("likelihood"), RankDesc("impact"), FieldAsc("name")),
		"changelog":                   byDate,
		"changeHistory":               byDate,
		"technology.dependencies":     byName,
		"architecture.components":     byName,
		"interfaces.apis":             Chain(FieldAsc("name"), FieldAsc("path")),
		"anchorsByPath.*":             Chain(FieldAsc("path"), NumberAsc("startLine"), NumberAsc("endLine"), FieldAsc("commit"), FieldAsc("fingerprint"), FieldAsc("kind")),
		"quality.knownIssues":         Chain(RankDesc("severity"), FieldAsc("title")),
		"operations.slos":             Chain(FieldAsc("name")),
		"business.stakeholders":       Chain(FieldAsc("role"), FieldAsc("name")),
		"technology.languages":        StringAsc(),
		"technology.runtimeTargets":   StringAsc(),
		"interfaces.events":           Chain(FieldAsc("name")),
		"operations.runbooks":         Chain(FieldAsc("title")),
		"quality.testSuites":          Chain(FieldAsc("name")),
		"security.dataClassification": Chain(RankDesc("level"), FieldAsc("name")),
	}
}

// Chain applies comparators in order until one distinguishes a and b.
func Chain(cmps ...Comparator) Comparator {
	return func(a, b any) int {
		for _, c := range cmps {
			if c == nil {
				continue
			}
			if r := c(a, b); r != 0 {
				return r
			}
		}
		return 0
	}
}

func field(v any, name string) any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m[name]
}

// FieldAsc orders objects by the string form of a field; missing sorts last.
func FieldAsc(name string) Comparator {
	return func(a, b any) int {
		av, aok := field(a, name).(string)
		bv, bok := field(b, name).(string)
		switch {
		case !aok && !bok:
			return 0
		case !aok:
			return 1
		case !bok:
			return -1
		}
		return strings.Compare(av, bv)
	}
}

// NumberAsc orders objects by a numeric field; missing sorts last.
func NumberAsc(name string) Comparator {
	return func(a, b any) int {
		av, aok := field(a, name).(float64)
		bv, bok := field(b, name).(float64)
		switch {
		case !aok && !bok:
			return 0
		case !aok:
			return 1
		case !bok:
			return -1
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	}
}

// StringAsc orders scalar string arrays; non-strings sort last.
func StringAsc() Comparator {
	return func(a, b any) int {
		as, aok := a.(string)
		bs, bok := b.(string)
		switch {
		case !aok && !bok:
			return 0
		case !aok:
			return 1
		case !bok:
			return -1
		}
		return strings.Compare(as, bs)
	}
}

var levelRanks = map[string]float64{
	"critical":  5,
	"very high": 5,
	"high":      4,
	"medium":    3,
	"moderate":  3,
	"low":       2,
	"very low":  1,
	"minimal":   1,
}

// Rank maps a numeric or level-named value to a comparable number.
// Unknown values rank 0.
func Rank(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		return levelRanks[strings.ToLower(strings.TrimSpace(t))]
	default:
		return 0
	}
}

// RankDesc orders objects by descending Rank of a field.
func RankDesc(name string) Comparator {
	return func(a, b any) int {
		ar, br := Rank(field(a, name)), Rank(field(b, name))
		switch {
		case ar > br:
			return -1
		case ar < br:
			return 1
		}
		return 0
	}
}

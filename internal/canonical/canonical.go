// Package canonical normalizes documents and provenance indexes into a
// stable, idempotent textual form.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/repocard/internal/docpath"
	"github.com/sells-group/repocard/internal/document"
)

// SignificantDigits bounds the precision numbers are rounded to.
const SignificantDigits = 12

// TimestampLayout is the canonical UTC timestamp form.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var isoRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(:\d{2}(\.\d{1,9})?)?(Z|z|[+-]\d{2}:?\d{2})?$`)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04Z0700",
	"2006-01-02T15:04",
}

// Normalizer applies the canonical rules. The zero value has no array
// comparators; use New for the default table.
type Normalizer struct {
	comparators map[string]Comparator
}

// New returns a Normalizer using DefaultComparators.
func New() *Normalizer {
	return &Normalizer{comparators: DefaultComparators()}
}

// WithComparators returns a Normalizer using the given table keyed by
// array shape (see docpath.Shape).
func WithComparators(table map[string]Comparator) *Normalizer {
	return &Normalizer{comparators: table}
}

// Normalize returns a canonical copy of v. v must be a generic tree
// (see document.Generic); other Go values are converted first.
func (n *Normalizer) Normalize(v any) (any, error) {
	g, err := toGeneric(v)
	if err != nil {
		return nil, err
	}
	return n.walk(g, nil), nil
}

func toGeneric(v any) (any, error) {
	switch v.(type) {
	case nil, map[string]any, []any, string, bool, float64:
		return v, nil
	default:
		return document.Generic(v)
	}
}

func (n *Normalizer) walk(v any, tokens []string) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			key := norm.NFC.String(k)
			// On an NFC collision the key already in NFC form wins, then
			// the lowest raw key.
			if _, dup := out[key]; dup && k != key {
				continue
			}
			out[key] = n.walk(t[k], appendToken(tokens, key))
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = n.walk(val, appendToken(tokens, strconv.Itoa(i)))
		}
		if cmp := n.comparator(tokens); cmp != nil {
			sort.SliceStable(out, func(i, j int) bool { return cmp(out[i], out[j]) < 0 })
		}
		return out
	case float64:
		return roundNumber(t)
	case string:
		return normalizeString(t)
	default:
		return v
	}
}

func (n *Normalizer) comparator(tokens []string) Comparator {
	if cmp, ok := n.comparators[docpath.Shape(tokens)]; ok {
		return cmp
	}
	if len(tokens) == 0 {
		return nil
	}
	return n.comparators[docpath.Shape(tokens[:len(tokens)-1])+".*"]
}

func appendToken(tokens []string, tok string) []string {
	out := make([]string, len(tokens)+1)
	copy(out, tokens)
	out[len(tokens)] = tok
	return out
}

// roundNumber rounds to SignificantDigits; non-finite values become nil
// and negative zero becomes zero.
func roundNumber(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	if f == 0 {
		return float64(0)
	}
	r, err := strconv.ParseFloat(strconv.FormatFloat(f, 'g', SignificantDigits, 64), 64)
	if err != nil {
		return f
	}
	if r == 0 {
		return float64(0)
	}
	return r
}

func normalizeString(s string) string {
	s = norm.NFC.String(s)
	if ts, ok := ParseTimestamp(s); ok {
		return ts.UTC().Format(TimestampLayout)
	}
	return s
}

// ParseTimestamp recognizes ISO-8601-like date-times. Strings without a
// zone are read as UTC. Plain dates are left untouched.
func ParseTimestamp(s string) (time.Time, bool) {
	if !isoRe.MatchString(s) {
		return time.Time{}, false
	}
	candidate := s
	if candidate[10] == ' ' {
		candidate = candidate[:10] + "T" + candidate[11:]
	}
	if last := candidate[len(candidate)-1]; last == 'z' {
		candidate = candidate[:len(candidate)-1] + "Z"
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, candidate); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Marshal serializes a canonical tree: sorted keys, two-space indent, no
// HTML escaping, trailing newline.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, eris.Wrap(err, "canonical: encode")
	}
	return buf.Bytes(), nil
}

// Canonicalize normalizes v and serializes the result.
func (n *Normalizer) Canonicalize(v any) ([]byte, error) {
	out, err := n.Normalize(v)
	if err != nil {
		return nil, err
	}
	return Marshal(out)
}

// Hash returns a sha256 digest of canonical bytes in "sha256:<hex>" form.
func Hash(canonicalBytes []byte) string {
	sum := sha256.Sum256(canonicalBytes)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// IsCanonical reports whether raw is byte-identical to the canonical form
// of its own parsed content.
func (n *Normalizer) IsCanonical(raw []byte) (bool, error) {
	v, err := document.Decode(raw)
	if err != nil {
		return false, err
	}
	out, err := n.Canonicalize(v)
	if err != nil {
		return false, err
	}
	return bytes.Equal(raw, out), nil
}

package reasoner

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/repocard/internal/model"
)

// ParseKind classifies a malformed response.
type ParseKind string

const (
	ParseEmpty   ParseKind = "empty"
	ParseNotJSON ParseKind = "not_json"
	ParseShape   ParseKind = "shape"
)

// previewLimit bounds the content preview kept on a ParseError.
const previewLimit = 500

// ParseError is a response that does not decode into the expected shape.
type ParseError struct {
	Kind    ParseKind
	Preview string
	Err     error
}

func (e *ParseError) Error() string {
	return "reasoner: malformed response (" + string(e.Kind) + "): " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func newParseError(kind ParseKind, content, msg string) *ParseError {
	return &ParseError{Kind: kind, Preview: Preview(content), Err: eris.New(msg)}
}

// Preview truncates content for logging.
func Preview(content string) string {
	if len(content) <= previewLimit {
		return content
	}
	return content[:previewLimit] + "..."
}

// Candidate is one fact proposed by the service, before reconciliation.
// Optional fields are nil when the response omitted them or supplied a
// value that could not be coerced.
type Candidate struct {
	Path          string
	ProposedValue any
	HasValue      bool
	Anchors       []model.Anchor
	Confidence    *float64
	// ConfidenceInvalid is set when a confidence was present but not a
	// finite number.
	ConfidenceInvalid bool
	Source            model.SourceKind
	Gate              *model.Gate
	Notes             *string
}

// Verdict is one verification judgement.
type Verdict struct {
	Path       string
	Valid      bool
	Confidence *float64
	Comment    string
}

var fenced = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// extractObject finds the first JSON object in content: the whole body,
// a fenced block, or the outermost brace span.
func extractObject(content string) (string, *ParseError) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", newParseError(ParseEmpty, content, "empty content")
	}
	if isObject(trimmed) {
		return trimmed, nil
	}
	for _, m := range fenced.FindAllStringSubmatch(trimmed, -1) {
		if body := strings.TrimSpace(m[1]); isObject(body) {
			return body, nil
		}
	}
	if start, end := strings.Index(trimmed, "{"), strings.LastIndex(trimmed, "}"); start >= 0 && end > start {
		if body := trimmed[start : end+1]; isObject(body) {
			return body, nil
		}
	}
	return "", newParseError(ParseNotJSON, content, "no JSON object found")
}

func isObject(s string) bool {
	return gjson.Valid(s) && gjson.Parse(s).IsObject()
}

// DecodeFacts decodes a `{facts: [...]}` envelope. Entries without a path
// are skipped; everything else is left for reconciliation to judge.
func DecodeFacts(content string) ([]Candidate, error) {
	body, perr := extractObject(content)
	if perr != nil {
		return nil, perr
	}
	facts := gjson.Get(body, "facts")
	if !facts.IsArray() {
		return nil, newParseError(ParseShape, content, "missing facts array")
	}

	var out []Candidate
	for _, item := range facts.Array() {
		if !item.IsObject() {
			continue
		}
		path := strings.TrimSpace(item.Get("path").String())
		if path == "" || item.Get("path").Type != gjson.String {
			continue
		}
		c := Candidate{Path: path}

		for _, key := range []string{"proposedValue", "value"} {
			if v := item.Get(key); v.Exists() {
				c.ProposedValue = v.Value()
				c.HasValue = true
				break
			}
		}
		c.Anchors = decodeAnchors(item.Get("anchors"))
		c.Confidence, c.ConfidenceInvalid = coerceConfidence(item.Get("confidence"))

		if k := model.SourceKind(item.Get("source.kind").String()); k.Valid() {
			c.Source = k
		} else if k := model.SourceKind(item.Get("source").String()); k.Valid() {
			c.Source = k
		}
		if g := model.Gate(item.Get("gate").String()); g.Valid() {
			c.Gate = &g
		}
		if n := item.Get("notes"); n.Type == gjson.String {
			s := n.String()
			c.Notes = &s
		}
		out = append(out, c)
	}
	return out, nil
}

// DecodeVerdicts decodes a `{verdicts: [...]}` envelope. A verdict without
// an explicit boolean `valid` is treated as invalid.
func DecodeVerdicts(content string) ([]Verdict, error) {
	body, perr := extractObject(content)
	if perr != nil {
		return nil, perr
	}
	list := gjson.Get(body, "verdicts")
	if !list.IsArray() {
		list = gjson.Get(body, "results")
	}
	if !list.IsArray() {
		return nil, newParseError(ParseShape, content, "missing verdicts array")
	}

	var out []Verdict
	for _, item := range list.Array() {
		path := item.Get("path")
		if path.Type != gjson.String || strings.TrimSpace(path.String()) == "" {
			continue
		}
		v := Verdict{Path: strings.TrimSpace(path.String())}
		switch valid := item.Get("valid"); valid.Type {
		case gjson.True:
			v.Valid = true
		case gjson.String:
			v.Valid = strings.EqualFold(valid.String(), "true")
		}
		if c, invalid := coerceConfidence(item.Get("confidence")); !invalid {
			v.Confidence = c
		}
		for _, key := range []string{"comment", "reason", "notes"} {
			if s := item.Get(key); s.Type == gjson.String {
				v.Comment = s.String()
				break
			}
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeAnchors(r gjson.Result) []model.Anchor {
	if !r.IsArray() {
		return nil
	}
	var out []model.Anchor
	for _, item := range r.Array() {
		var a model.Anchor
		if err := json.Unmarshal([]byte(item.Raw), &a); err != nil {
			continue
		}
		if a.Valid() {
			out = append(out, a)
		}
	}
	return model.DedupeAnchors(out)
}

// coerceConfidence accepts numbers and numeric strings. Absent values
// return (nil, false); present but unusable values return (nil, true).
func coerceConfidence(r gjson.Result) (*float64, bool) {
	var f float64
	switch r.Type {
	case gjson.Null:
		if !r.Exists() {
			return nil, false
		}
		return nil, true
	case gjson.Number:
		f = r.Float()
	case gjson.String:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(r.String()), 64)
		if err != nil {
			return nil, true
		}
		f = parsed
	default:
		return nil, true
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, true
	}
	return &f, false
}

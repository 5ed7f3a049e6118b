// Package document provides access to the generic JSON tree that holds the
// record: cloning, lookup by pointer tokens and JSON Patch application.
package document

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/repocard/internal/docpath"
)

// Generic round-trips v through encoding/json so that only map[string]any,
// []any, float64, string, bool and nil remain.
func Generic(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "document: marshal")
	}
	return Decode(raw)
}

// Decode parses JSON into a generic tree.
func Decode(raw []byte) (any, error) {
	var out any
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&out); err != nil {
		return nil, eris.Wrap(err, "document: decode")
	}
	return out, nil
}

// Clone deep-copies a generic tree.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	default:
		return v
	}
}

// Get resolves tokens against doc. The boolean is false when any step is
// missing; a present null returns (nil, true).
func Get(doc any, tokens []string) (any, bool) {
	cur := doc
	for _, tok := range tokens {
		switch c := cur.(type) {
		case map[string]any:
			v, ok := c[tok]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, ok := docpath.Index(tok)
			if !ok || idx >= len(c) {
				return nil, false
			}
			cur = c[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// GetPointer resolves an RFC 6901 pointer.
func GetPointer(doc any, ptr string) (any, bool) {
	tokens, err := docpath.ParsePointer(ptr)
	if err != nil {
		return nil, false
	}
	return Get(doc, tokens)
}

// IsContainer reports whether v is an object or array.
func IsContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}

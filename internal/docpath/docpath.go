// Package docpath converts between dotted/bracketed document paths
// ($.a.b[0]), RFC 6901 pointers (/a/b/0) and token slices.
package docpath

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Root is the path of the whole document.
const Root = "$"

var identRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$-]*$`)

// Parse splits a path such as $.risks[0]['display name'] into tokens.
func Parse(path string) ([]string, error) {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, Root) {
		return nil, eris.Errorf("docpath: %q does not start with $", path)
	}
	var tokens []string
	i := 1
	for i < len(path) {
		switch path[i] {
		case '.':
			j := i + 1
			for j < len(path) && path[j] != '.' && path[j] != '[' {
				j++
			}
			if j == i+1 {
				return nil, eris.Errorf("docpath: empty segment in %q", path)
			}
			tokens = append(tokens, path[i+1:j])
			i = j
		case '[':
			tok, next, err := parseBracket(path, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i = next
		default:
			return nil, eris.Errorf("docpath: unexpected %q at offset %d in %q", path[i], i, path)
		}
	}
	return tokens, nil
}

func parseBracket(path string, i int) (string, int, error) {
	if i+1 >= len(path) {
		return "", 0, eris.Errorf("docpath: unterminated bracket in %q", path)
	}
	q := path[i+1]
	if q == '\'' || q == '"' {
		var b strings.Builder
		j := i + 2
		for j < len(path) {
			c := path[j]
			if c == '\\' && j+1 < len(path) {
				b.WriteByte(path[j+1])
				j += 2
				continue
			}
			if c == q {
				break
			}
			b.WriteByte(c)
			j++
		}
		if j+1 >= len(path) || path[j] != q || path[j+1] != ']' {
			return "", 0, eris.Errorf("docpath: unterminated quoted key in %q", path)
		}
		return b.String(), j + 2, nil
	}
	end := strings.IndexByte(path[i:], ']')
	if end < 0 {
		return "", 0, eris.Errorf("docpath: unterminated bracket in %q", path)
	}
	idx := path[i+1 : i+end]
	if !IsIndex(idx) {
		return "", 0, eris.Errorf("docpath: bad index %q in %q", idx, path)
	}
	return idx, i + end + 1, nil
}

// Format renders tokens as a canonical path.
func Format(tokens []string) string {
	var b strings.Builder
	b.WriteString(Root)
	for _, t := range tokens {
		switch {
		case IsIndex(t):
			b.WriteString("[" + t + "]")
		case identRe.MatchString(t):
			b.WriteString("." + t)
		default:
			r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
			b.WriteString("['" + r.Replace(t) + "']")
		}
	}
	return b.String()
}

// Canonical re-renders a path so equivalent spellings share one key.
func Canonical(path string) (string, error) {
	tokens, err := Parse(path)
	if err != nil {
		return "", err
	}
	return Format(tokens), nil
}

var (
	pointerEscaper   = strings.NewReplacer("~", "~0", "/", "~1")
	pointerUnescaper = strings.NewReplacer("~1", "/", "~0", "~")
)

// Pointer renders tokens as an RFC 6901 pointer. The root is "".
func Pointer(tokens []string) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteByte('/')
		b.WriteString(pointerEscaper.Replace(t))
	}
	return b.String()
}

// ParsePointer splits an RFC 6901 pointer into tokens.
func ParsePointer(ptr string) ([]string, error) {
	if ptr == "" {
		return nil, nil
	}
	if !strings.HasPrefix(ptr, "/") {
		return nil, eris.Errorf("docpath: pointer %q must start with /", ptr)
	}
	parts := strings.Split(ptr[1:], "/")
	for i, p := range parts {
		parts[i] = pointerUnescaper.Replace(p)
	}
	return parts, nil
}

// PointerFromPath converts a path straight to a pointer.
func PointerFromPath(path string) (string, error) {
	tokens, err := Parse(path)
	if err != nil {
		return "", err
	}
	return Pointer(tokens), nil
}

// IsIndex reports whether a token addresses an array element.
func IsIndex(tok string) bool {
	if tok == "" {
		return false
	}
	for _, c := range tok {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Index parses an array index token.
func Index(tok string) (int, bool) {
	if !IsIndex(tok) {
		return 0, false
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, false
	}
	return n, true
}

// HasPrefix reports whether prefix is a token-wise prefix of tokens.
// "/a/bc" is not under "/a/b".
func HasPrefix(tokens, prefix []string) bool {
	if len(prefix) > len(tokens) {
		return false
	}
	for i := range prefix {
		if tokens[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Within reports whether path equals or is nested under base. Both are
// paths in $ notation; unparsable input never matches.
func Within(path, base string) bool {
	pt, err := Parse(path)
	if err != nil {
		return false
	}
	bt, err := Parse(base)
	if err != nil {
		return false
	}
	return HasPrefix(pt, bt)
}

// Shape returns the path with array indices removed, joined by dots.
// $.risks[3].name becomes "risks.name".
func Shape(tokens []string) string {
	parts := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if IsIndex(t) {
			continue
		}
		parts = append(parts, t)
	}
	return strings.Join(parts, ".")
}

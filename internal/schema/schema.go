// Package schema validates documents against the record JSON Schema and
// reports pointer-located issues.
package schema

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sells-group/repocard/internal/docpath"
	"github.com/sells-group/repocard/internal/document"
)

// ErrSchemaMissing means the configured schema file does not exist.
var ErrSchemaMissing = eris.New("schema: schema file missing")

// resourceURL names the in-memory schema resource.
const resourceURL = "repocard://record.schema.json"

// Issue is one validation failure located by JSON pointer.
type Issue struct {
	Pointer string `json:"pointer"`
	Message string `json:"message"`
}

// Validator validates documents against one compiled schema.
type Validator struct {
	schema *jsonschema.Schema
}

// Load reads and compiles a schema file.
func Load(path string) (*Validator, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, eris.Wrapf(ErrSchemaMissing, "schema: %s", path)
		}
		return nil, eris.Wrapf(err, "schema: read %s", path)
	}
	return Compile(raw)
}

// Compile compiles a schema from raw JSON.
func Compile(raw []byte) (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(resourceURL, bytes.NewReader(raw)); err != nil {
		return nil, eris.Wrap(err, "schema: add resource")
	}
	s, err := c.Compile(resourceURL)
	if err != nil {
		return nil, eris.Wrap(err, "schema: compile")
	}
	return &Validator{schema: s}, nil
}

// Validate returns the leaf issues for doc, sorted by pointer. An empty
// result means doc is valid.
func (v *Validator) Validate(doc any) []Issue {
	generic, err := document.Generic(doc)
	if err != nil {
		return []Issue{{Pointer: "", Message: err.Error()}}
	}
	err = v.schema.Validate(generic)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []Issue{{Pointer: "", Message: err.Error()}}
	}

	var issues []Issue
	flatten(ve, &issues)
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Pointer != issues[j].Pointer {
			return issues[i].Pointer < issues[j].Pointer
		}
		return issues[i].Message < issues[j].Message
	})
	return dedupe(issues)
}

func flatten(ve *jsonschema.ValidationError, out *[]Issue) {
	if len(ve.Causes) > 0 {
		for _, c := range ve.Causes {
			flatten(c, out)
		}
		return
	}
	if strings.HasSuffix(ve.KeywordLocation, "/additionalProperties") {
		names := additionalNames(ve.Message)
		if len(names) > 0 {
			for _, n := range names {
				*out = append(*out, Issue{
					Pointer: ve.InstanceLocation + docpath.Pointer([]string{n}),
					Message: "property " + n + " is not allowed",
				})
			}
			return
		}
	}
	*out = append(*out, Issue{Pointer: ve.InstanceLocation, Message: ve.Message})
}

var quotedName = regexp.MustCompile(`'((?:[^'\\]|\\.)*)'`)

// additionalNames extracts the quoted property names from an
// additionalProperties message.
func additionalNames(msg string) []string {
	var names []string
	for _, m := range quotedName.FindAllStringSubmatch(msg, -1) {
		name := strings.NewReplacer(`\'`, `'`, `\\`, `\`).Replace(m[1])
		names = append(names, name)
	}
	return names
}

func dedupe(issues []Issue) []Issue {
	out := issues[:0]
	for i, is := range issues {
		if i > 0 && is == issues[i-1] {
			continue
		}
		out = append(out, is)
	}
	return out
}

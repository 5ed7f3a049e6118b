package document

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/repocard/internal/docpath"
	"github.com/sells-group/repocard/internal/model"
)

// Patch operation names.
const (
	OpAdd     = "add"
	OpReplace = "replace"
	OpRemove  = "remove"
)

// ApplyPatch applies ops to doc and returns the new root. doc is mutated
// in place where possible; callers that need the original must Clone first.
// Any malformed op aborts with an error.
func ApplyPatch(doc any, ops []model.JSONPatchOp) (any, error) {
	for i, op := range ops {
		tokens, err := docpath.ParsePointer(op.Path)
		if err != nil {
			return nil, eris.Wrapf(err, "document: op %d", i)
		}
		value := Clone(op.Value)
		switch op.Op {
		case OpAdd:
			doc, err = add(doc, tokens, value)
		case OpReplace:
			doc, err = replace(doc, tokens, value)
		case OpRemove:
			doc, err = remove(doc, tokens)
		default:
			err = eris.Errorf("unsupported op %q", op.Op)
		}
		if err != nil {
			return nil, eris.Wrapf(err, "document: op %d %s %s", i, op.Op, op.Path)
		}
	}
	return doc, nil
}

// parentOf walks to the container holding the last token.
func parentOf(doc any, tokens []string) (any, error) {
	parent, ok := Get(doc, tokens[:len(tokens)-1])
	if !ok {
		return nil, eris.Errorf("parent %s does not exist", docpath.Pointer(tokens[:len(tokens)-1]))
	}
	if !IsContainer(parent) {
		return nil, eris.Errorf("parent %s is not a container", docpath.Pointer(tokens[:len(tokens)-1]))
	}
	return parent, nil
}

// setChild stores a (possibly reallocated) array back into its parent.
func setChild(doc any, tokens []string, child any) (any, error) {
	if len(tokens) == 0 {
		return child, nil
	}
	parent, err := parentOf(doc, tokens)
	if err != nil {
		return nil, err
	}
	last := tokens[len(tokens)-1]
	switch p := parent.(type) {
	case map[string]any:
		p[last] = child
	case []any:
		idx, _ := docpath.Index(last)
		p[idx] = child
	}
	return doc, nil
}

func add(doc any, tokens []string, value any) (any, error) {
	if len(tokens) == 0 {
		return value, nil
	}
	parent, err := parentOf(doc, tokens)
	if err != nil {
		return nil, err
	}
	last := tokens[len(tokens)-1]
	switch p := parent.(type) {
	case map[string]any:
		p[last] = value
		return doc, nil
	case []any:
		idx := len(p)
		if last != "-" {
			var ok bool
			idx, ok = docpath.Index(last)
			if !ok || idx > len(p) {
				return nil, eris.Errorf("array index %q out of range", last)
			}
		}
		grown := make([]any, 0, len(p)+1)
		grown = append(grown, p[:idx]...)
		grown = append(grown, value)
		grown = append(grown, p[idx:]...)
		return setChild(doc, tokens[:len(tokens)-1], grown)
	}
	return nil, eris.New("unreachable container type")
}

func replace(doc any, tokens []string, value any) (any, error) {
	if len(tokens) == 0 {
		return value, nil
	}
	if _, ok := Get(doc, tokens); !ok {
		return nil, eris.Errorf("target %s does not exist", docpath.Pointer(tokens))
	}
	parent, err := parentOf(doc, tokens)
	if err != nil {
		return nil, err
	}
	last := tokens[len(tokens)-1]
	switch p := parent.(type) {
	case map[string]any:
		p[last] = value
	case []any:
		idx, _ := docpath.Index(last)
		p[idx] = value
	}
	return doc, nil
}

func remove(doc any, tokens []string) (any, error) {
	if len(tokens) == 0 {
		return nil, eris.New("cannot remove document root")
	}
	if _, ok := Get(doc, tokens); !ok {
		return nil, eris.Errorf("target %s does not exist", docpath.Pointer(tokens))
	}
	parent, err := parentOf(doc, tokens)
	if err != nil {
		return nil, err
	}
	last := tokens[len(tokens)-1]
	switch p := parent.(type) {
	case map[string]any:
		delete(p, last)
		return doc, nil
	case []any:
		idx, _ := docpath.Index(last)
		shrunk := make([]any, 0, len(p)-1)
		shrunk = append(shrunk, p[:idx]...)
		shrunk = append(shrunk, p[idx+1:]...)
		return setChild(doc, tokens[:len(tokens)-1], shrunk)
	}
	return nil, eris.New("unreachable container type")
}

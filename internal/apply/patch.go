package apply

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/repocard/internal/docpath"
	"github.com/sells-group/repocard/internal/document"
	"github.com/sells-group/repocard/internal/model"
)

// ErrStructural marks a patch that cannot be applied to the document shape.
var ErrStructural = eris.New("apply: structural patch failure")

// Plan is a patch plus the containers it had to create.
type Plan struct {
	Ops []model.JSONPatchOp
	// Created maps the pointer of each initialized container to the fact
	// paths that needed it.
	Created map[string][]string
}

// BuildPatch returns the ops that set every fact's value on doc.
func BuildPatch(doc any, facts []model.Fact) ([]model.JSONPatchOp, error) {
	plan, err := BuildPlan(doc, facts)
	if err != nil {
		return nil, err
	}
	return plan.Ops, nil
}

// BuildPlan computes ops in fact order against a scratch copy of doc.
// Null or absent parents are first initialized with an empty array when
// the next token is an index, or an empty object otherwise.
func BuildPlan(doc any, facts []model.Fact) (*Plan, error) {
	scratch := document.Clone(doc)
	if scratch == nil {
		scratch = map[string]any{}
	}
	plan := &Plan{Created: map[string][]string{}}

	for _, f := range facts {
		tokens, err := docpath.Parse(f.Path)
		if err != nil {
			return nil, eris.Wrapf(ErrStructural, "apply: fact path %q: %v", f.Path, err)
		}
		if len(tokens) == 0 {
			return nil, eris.Wrapf(ErrStructural, "apply: fact %q targets the document root", f.Path)
		}

		var ops []model.JSONPatchOp
		for depth := 1; depth < len(tokens); depth++ {
			prefix := tokens[:depth]
			cur, ok := document.Get(scratch, prefix)
			if ok && cur != nil {
				continue
			}
			var empty any = map[string]any{}
			if docpath.IsIndex(tokens[depth]) {
				empty = []any{}
			}
			ptr := docpath.Pointer(prefix)
			op := model.JSONPatchOp{Op: opFor(ok), Path: ptr, Value: empty}
			ops = append(ops, op)
			if scratch, err = document.ApplyPatch(scratch, []model.JSONPatchOp{op}); err != nil {
				return nil, eris.Wrapf(ErrStructural, "apply: fact %s: %v", f.Path, err)
			}
			plan.Created[ptr] = append(plan.Created[ptr], f.Path)
		}

		_, exists := document.Get(scratch, tokens)
		op := model.JSONPatchOp{Op: opFor(exists), Path: docpath.Pointer(tokens), Value: f.ProposedValue}
		if scratch, err = document.ApplyPatch(scratch, []model.JSONPatchOp{op}); err != nil {
			return nil, eris.Wrapf(ErrStructural, "apply: fact %s: %v", f.Path, err)
		}
		plan.Ops = append(plan.Ops, append(ops, op)...)
	}
	return plan, nil
}

func opFor(exists bool) string {
	if exists {
		return document.OpReplace
	}
	return document.OpAdd
}

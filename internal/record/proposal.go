package record

import (
	"bytes"
	"encoding/json"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rotisserie/eris"

	"github.com/sells-group/repocard/internal/docpath"
	"github.com/sells-group/repocard/internal/model"
)

// ReadProposal loads and validates a proposal.
func ReadProposal(path string) (*model.Proposal, error) {
	var p model.Proposal
	if err := readJSON(path, &p); err != nil {
		return nil, err
	}
	if err := ValidateProposal(&p); err != nil {
		return nil, eris.Wrapf(err, "record: invalid proposal %s", path)
	}
	return &p, nil
}

// WriteProposal validates p and writes it to path.
func WriteProposal(path string, p *model.Proposal) error {
	if err := ValidateProposal(p); err != nil {
		return eris.Wrap(err, "record: refusing to write invalid proposal")
	}
	return WriteJSON(path, p)
}

// ValidateProposal enforces the persisted proposal shape: a run id and
// facts that are anchored, gated and addressable.
func ValidateProposal(p *model.Proposal) error {
	if p == nil {
		return eris.New("record: proposal is nil")
	}
	if err := validation.ValidateStruct(&p.Meta,
		validation.Field(&p.Meta.RunID, validation.Required),
	); err != nil {
		return eris.Wrap(err, "meta")
	}
	for i := range p.Facts {
		if err := validateFact(&p.Facts[i]); err != nil {
			return eris.Wrapf(err, "facts[%d]", i)
		}
	}
	return nil
}

func validateFact(f *model.Fact) error {
	return validation.ValidateStruct(f,
		validation.Field(&f.Path, validation.Required, validation.By(validPath)),
		validation.Field(&f.Anchors, validation.Required, validation.Each(validation.By(validAnchor))),
		validation.Field(&f.Confidence, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&f.Gate, validation.Required, validation.In(model.GateOK, model.GateWarn, model.GateRequire)),
		validation.Field(&f.Source, validation.By(func(v any) error {
			if s, ok := v.(model.FactSource); ok && !s.Kind.Valid() {
				return eris.Errorf("unknown source kind %q", s.Kind)
			}
			return nil
		})),
	)
}

func validPath(v any) error {
	s, _ := v.(string)
	if _, err := docpath.Parse(s); err != nil {
		return eris.Wrap(err, "bad path")
	}
	return nil
}

func validAnchor(v any) error {
	a, ok := v.(model.Anchor)
	if !ok || !a.Valid() {
		return eris.New("anchor needs a file path and a line range")
	}
	return nil
}

func readJSON(path string, v any) error {
	raw, err := readInput(path)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(v); err != nil {
		return eris.Wrapf(err, "record: parse %s", path)
	}
	return nil
}

package record

import (
	"encoding/json"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/repocard/internal/model"
)

// decisionsFile is the wrapped form `{"decisions": [...]}`.
type decisionsFile struct {
	Decisions []model.Decision `json:"decisions"`
}

// ReadDecisions loads decisions from JSON, or YAML when the extension is
// .yaml or .yml. Both a bare list and a {decisions: [...]} wrapper are
// accepted.
func ReadDecisions(path string) ([]model.Decision, error) {
	raw, err := readInput(path)
	if err != nil {
		return nil, err
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		if raw, err = yamlToJSON(raw); err != nil {
			return nil, eris.Wrapf(err, "record: parse decisions %s", path)
		}
	}
	out, err := decodeDecisions(raw)
	if err != nil {
		return nil, eris.Wrapf(err, "record: parse decisions %s", path)
	}
	if err := ValidateDecisions(out); err != nil {
		return nil, eris.Wrapf(err, "record: invalid decisions %s", path)
	}
	return out, nil
}

// WriteDecisions writes decisions as a JSON list.
func WriteDecisions(path string, decisions []model.Decision) error {
	if decisions == nil {
		decisions = []model.Decision{}
	}
	return WriteJSON(path, decisions)
}

// ValidateDecisions checks each decision names a path and a known kind,
// and that edits carry a value.
func ValidateDecisions(decisions []model.Decision) error {
	for i := range decisions {
		d := &decisions[i]
		err := validation.ValidateStruct(d,
			validation.Field(&d.Path, validation.Required, validation.By(validPath)),
			validation.Field(&d.Decision, validation.Required, validation.In(model.DecisionAccept, model.DecisionReject, model.DecisionEdit)),
			validation.Field(&d.EditedValue, validation.When(d.Decision == model.DecisionEdit, validation.NotNil)),
			validation.Field(&d.Anchors, validation.Each(validation.By(validAnchor))),
		)
		if err != nil {
			return eris.Wrapf(err, "decisions[%d]", i)
		}
	}
	return nil
}

func decodeDecisions(raw []byte) ([]model.Decision, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return []model.Decision{}, nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var wrapped decisionsFile
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, err
		}
		if wrapped.Decisions == nil {
			return []model.Decision{}, nil
		}
		return wrapped.Decisions, nil
	}
	var out []model.Decision
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// yamlToJSON re-encodes a YAML document as JSON so decisions share one
// decoder and edited values come out as generic JSON trees.
func yamlToJSON(raw []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, eris.Wrap(err, "yaml")
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "yaml to json")
	}
	return out, nil
}

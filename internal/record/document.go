package record

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/repocard/internal/document"
	"github.com/sells-group/repocard/internal/model"
)

// ReadDocument loads the record document. A missing file returns
// ErrMissingInput so callers can start from an empty document.
func ReadDocument(path string) (any, error) {
	raw, err := readInput(path)
	if err != nil {
		return nil, err
	}
	doc, err := document.Decode(raw)
	if err != nil {
		return nil, eris.Wrapf(err, "record: parse document %s", path)
	}
	return doc, nil
}

// ReadIndex loads a provenance index.
func ReadIndex(path string) (*model.AnchorsIndex, error) {
	var idx model.AnchorsIndex
	if err := readJSON(path, &idx); err != nil {
		return nil, err
	}
	return &idx, nil
}

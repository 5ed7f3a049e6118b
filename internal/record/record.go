// Package record reads and writes the on-disk artifacts of generate and
// apply runs: proposals, decisions, the canonical document and its index.
package record

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/repocard/internal/canonical"
)

// ErrMissingInput is returned when a required input file does not exist.
var ErrMissingInput = eris.New("record: required input missing")

// ErrNotCanonical is returned by Check when a file differs from its own
// canonical form.
var ErrNotCanonical = eris.New("record: file is not in canonical form")

// Artifact file names inside a run directory.
const (
	ProposalFile    = "proposal.json"
	DecisionsFile   = "decisions.json"
	ApplyReportFile = "apply-report.json"
)

// Layout locates run-scoped artifacts and the shared document files.
type Layout struct {
	Root         string
	DocumentPath string
	IndexPath    string
}

// RunDir returns <root>/runs/<runID>.
func (l Layout) RunDir(runID string) string {
	return filepath.Join(l.Root, "runs", runID)
}

// ProposalPath returns the proposal artifact of a run.
func (l Layout) ProposalPath(runID string) string {
	return filepath.Join(l.RunDir(runID), ProposalFile)
}

// DecisionsPath returns the decisions artifact of a run.
func (l Layout) DecisionsPath(runID string) string {
	return filepath.Join(l.RunDir(runID), DecisionsFile)
}

// ApplyReportPath returns the apply report of a run.
func (l Layout) ApplyReportPath(runID string) string {
	return filepath.Join(l.RunDir(runID), ApplyReportFile)
}

// Check verifies that the file at path is byte-identical to the canonical
// form of its own parsed content.
func Check(path string, n *canonical.Normalizer) error {
	raw, err := readInput(path)
	if err != nil {
		return err
	}
	ok, err := n.IsCanonical(raw)
	if err != nil {
		return eris.Wrapf(err, "record: parse %s", path)
	}
	if !ok {
		return eris.Wrapf(ErrNotCanonical, "record: %s", path)
	}
	return nil
}

func readInput(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, eris.Wrapf(ErrMissingInput, "record: %s", path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "record: read %s", path)
	}
	return raw, nil
}

// WriteFile atomically replaces path with data: temp file, fsync, rename.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "record: mkdir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".repocard-tmp-*")
	if err != nil {
		return eris.Wrap(err, "record: create temp")
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return eris.Wrap(err, "record: write temp")
	}
	if err := tmp.Sync(); err != nil {
		return eris.Wrap(err, "record: fsync")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "record: close temp")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return eris.Wrapf(err, "record: rename to %s", path)
	}
	success = true
	return nil
}

// WriteJSON serializes v with the canonical encoder and writes it to path.
func WriteJSON(path string, v any) error {
	raw, err := canonical.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "record: encode %s", filepath.Base(path))
	}
	return WriteFile(path, raw)
}

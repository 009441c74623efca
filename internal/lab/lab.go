// Package lab loads the immutable job-graph description an engine
// invocation operates over. The on-disk format here is a single
// self-contained lab.json; the original multi-file directory-walking
// lab-builder format is a separate, out-of-scope collaborator (see
// SPEC_FULL.md's DESIGN.md entry for this package).
package lab

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/repx-run/repx/internal/apperror"
	"github.com/repx-run/repx/internal/model"
)

// Load reads and validates a lab.json file at path.
func Load(path string) (*model.Lab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperror.New(apperror.KindConfig, "read lab file", err)
	}

	var l model.Lab
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, apperror.New(apperror.KindConfig, "parse lab file", err)
	}

	if l.Revision == "" {
		l.Revision = contentHash(data)
	}

	if err := validate(&l); err != nil {
		return nil, apperror.New(apperror.KindConfig, "validate lab", err)
	}
	return &l, nil
}

// contentHash derives a stable revision id from the raw lab file bytes,
// when the file itself doesn't declare one.
func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// validate checks the two structural invariants the orchestrator relies
// on without re-deriving them on every graph build: every dependency id
// a job names is itself a defined job, and every job a run names is
// itself defined.
func validate(l *model.Lab) error {
	for id, job := range l.Jobs {
		for _, dep := range job.AllDependencies() {
			if _, ok := l.Jobs[dep]; !ok {
				return fmt.Errorf("job %q depends on undefined job %q", id, dep)
			}
		}
	}
	for runID, run := range l.Runs {
		for _, jobID := range run.Jobs {
			if _, ok := l.Jobs[jobID]; !ok {
				return fmt.Errorf("run %q references undefined job %q", runID, jobID)
			}
		}
	}
	return nil
}

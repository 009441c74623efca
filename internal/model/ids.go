// Package model defines the data types shared across the orchestrator,
// store, transport and runtime-driver packages: jobs, the job graph,
// target configuration and job status.
package model

import (
	"fmt"
	"strings"
)

// JobId is an opaque, stable identifier. Equality defines identity.
type JobId string

// String implements fmt.Stringer.
func (id JobId) String() string {
	return string(id)
}

// ShortID returns a shortened form for display: if the id looks like
// "<hash>-<rest>" with a hash of at least 7 characters, the hash portion
// is truncated to 7 characters.
func (id JobId) ShortID() string {
	s := string(id)
	hash, rest, found := strings.Cut(s, "-")
	if !found || len(hash) < 7 {
		return s
	}
	return hash[:7] + "-" + rest
}

// RunId names a root set of jobs within a lab.
type RunId string

// reservedRunIds are keywords that would be ambiguous with positional
// status words if accepted as run names.
var reservedRunIds = map[string]bool{
	"missing": true,
	"pending": true,
}

// ParseRunId validates a user-supplied run identifier.
func ParseRunId(s string) (RunId, error) {
	if reservedRunIds[s] {
		return "", fmt.Errorf("invalid run id %q: this is a reserved keyword; pass it as a positional job id instead", s)
	}
	return RunId(s), nil
}

func (id RunId) String() string {
	return string(id)
}

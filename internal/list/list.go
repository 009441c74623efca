// Package list implements the read-only introspection the CLI's list
// subcommand exposes over a loaded lab: enumerating runs, the jobs a run
// contains, and a job's dependency tree.
package list

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/repx-run/repx/internal/apperror"
	"github.com/repx-run/repx/internal/model"
)

// Runs writes every run id defined in lab, one per line, sorted.
func Runs(w io.Writer, lab *model.Lab) {
	ids := make([]string, 0, len(lab.Runs))
	for id := range lab.Runs {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintln(w, id)
	}
}

// Jobs resolves runSpec against lab's runs (exact match, then unique
// prefix match) and writes the sorted job ids it contains.
func Jobs(w io.Writer, lab *model.Lab, runSpec string) error {
	run, ok := lab.Runs[model.RunId(runSpec)]
	if !ok {
		matches := matchingRunIDs(lab, runSpec)
		switch len(matches) {
		case 0:
			return apperror.Newf(apperror.KindConfig, "list jobs", "no run matches %q", runSpec)
		case 1:
			run = lab.Runs[matches[0]]
		default:
			return apperror.Newf(apperror.KindConfig, "list jobs", "run id %q is ambiguous among %v", runSpec, matches)
		}
	}

	ids := make([]string, len(run.Jobs))
	for i, id := range run.Jobs {
		ids[i] = string(id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintln(w, id)
	}
	return nil
}

func matchingRunIDs(lab *model.Lab, prefix string) []model.RunId {
	var matches []model.RunId
	for id := range lab.Runs {
		if strings.HasPrefix(string(id), prefix) {
			matches = append(matches, id)
		}
	}
	return matches
}

// Dependencies resolves jobIDPrefix to a single job (exact id, then
// unique prefix match) and writes its dependency tree, indented two
// spaces per level, depth-first.
func Dependencies(w io.Writer, lab *model.Lab, jobIDPrefix string) error {
	id, err := resolveJobID(lab, jobIDPrefix)
	if err != nil {
		return err
	}
	printTree(w, lab, id, 0)
	return nil
}

func resolveJobID(lab *model.Lab, prefix string) (model.JobId, error) {
	if _, ok := lab.Jobs[model.JobId(prefix)]; ok {
		return model.JobId(prefix), nil
	}
	var matches []model.JobId
	for id := range lab.Jobs {
		if strings.HasPrefix(string(id), prefix) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", apperror.Newf(apperror.KindConfig, "resolve job id", "no job matches %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", apperror.Newf(apperror.KindConfig, "resolve job id", "job id %q is ambiguous among %v", prefix, matches)
	}
}

func printTree(w io.Writer, lab *model.Lab, id model.JobId, level int) {
	fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", level), id)

	job, ok := lab.Jobs[id]
	if !ok {
		return
	}
	deps := job.AllDependencies()
	sorted := make([]string, len(deps))
	for i, d := range deps {
		sorted[i] = string(d)
	}
	sort.Strings(sorted)
	for _, d := range sorted {
		printTree(w, lab, model.JobId(d), level+1)
	}
}

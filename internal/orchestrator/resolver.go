package orchestrator

import (
	"strings"

	"github.com/repx-run/repx/internal/apperror"
	"github.com/repx-run/repx/internal/model"
)

// ResolveRun resolves user-supplied input — a RunId, a full JobId, or an
// unambiguous JobId prefix — to the set of "final" job ids it names: the
// jobs a run request should be computed as the transitive closure of.
func ResolveRun(lab *model.Lab, input string) ([]model.JobId, error) {
	if run, ok := lab.Runs[model.RunId(input)]; ok {
		return finalJobIDs(lab, run)
	}
	if _, ok := lab.Jobs[model.JobId(input)]; ok {
		return []model.JobId{model.JobId(input)}, nil
	}

	var matches []model.JobId
	for id := range lab.Jobs {
		if strings.HasPrefix(string(id), input) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return nil, apperror.Newf(apperror.KindConfig, "resolve run", "%q does not name a run or a known job id", input)
	case 1:
		return matches, nil
	default:
		return nil, apperror.Newf(apperror.KindConfig, "resolve run", "%q is an ambiguous job id prefix, matching %d jobs", input, len(matches))
	}
}

// finalJobIDs returns the jobs in run that nothing else in run depends
// on: these are the roots a submission actually targets, since their
// transitive dependencies are pulled in by buildGraph separately.
func finalJobIDs(lab *model.Lab, run model.Run) ([]model.JobId, error) {
	inRun := make(map[model.JobId]bool, len(run.Jobs))
	for _, id := range run.Jobs {
		inRun[id] = true
	}

	dependedOn := make(map[model.JobId]bool)
	for _, id := range run.Jobs {
		job, ok := lab.Jobs[id]
		if !ok {
			continue
		}
		for _, dep := range job.AllDependencies() {
			if inRun[dep] {
				dependedOn[dep] = true
			}
		}
	}

	var finals []model.JobId
	for _, id := range run.Jobs {
		if !dependedOn[id] {
			finals = append(finals, id)
		}
	}
	if len(finals) == 0 {
		return nil, apperror.Newf(apperror.KindConfig, "resolve run", "run has no terminal jobs")
	}
	return finals, nil
}

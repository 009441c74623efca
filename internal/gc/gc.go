// Package gc implements the garbage collector's reachability walk: given
// a lab definition, everything under a target's store that the lab no
// longer references is a removal candidate. The walk itself is built
// only on the Store contract and plain directory listing, deliberately
// simpler than the original's gcroots symlink graph since this engine
// has no separate experiment-tracking layer to derive roots from.
package gc

import (
	"os"
	"path/filepath"

	"github.com/repx-run/repx/internal/apperror"
	"github.com/repx-run/repx/internal/model"
	"github.com/repx-run/repx/internal/store"
)

// Report summarizes what a Sweep removed (or would remove, for a dry run).
type Report struct {
	RemovedJobs   []model.JobId
	RemovedImages []string
	DryRun        bool
}

// reachable computes the set of job ids and image hashes a lab still
// references, so Sweep knows what must survive.
func reachable(lab *model.Lab) (jobs map[model.JobId]bool, images map[string]bool) {
	jobs = make(map[model.JobId]bool, len(lab.Jobs))
	images = make(map[string]bool)
	for id, job := range lab.Jobs {
		jobs[id] = true
		if job.ImageRef != "" {
			images[job.ImageRef] = true
		}
	}
	return jobs, images
}

// Sweep removes every job output directory and cached image not
// referenced by lab. When dryRun is true, nothing is removed; the
// Report still lists what would have been.
func Sweep(st store.Store, lab *model.Lab, dryRun bool) (*Report, error) {
	liveJobs, liveImages := reachable(lab)
	report := &Report{DryRun: dryRun}

	removedJobs, err := sweepDir(filepath.Join(st.BasePath(), "outputs"), func(name string) bool {
		return liveJobs[model.JobId(name)]
	}, dryRun)
	if err != nil {
		return nil, apperror.New(apperror.KindStore, "sweep outputs", err)
	}
	for _, name := range removedJobs {
		report.RemovedJobs = append(report.RemovedJobs, model.JobId(name))
	}

	removedImages, err := sweepDir(filepath.Join(st.BasePath(), "artifacts", "images"), func(name string) bool {
		return liveImages[imageHashFromEntry(name)]
	}, dryRun)
	if err != nil {
		return nil, apperror.New(apperror.KindStore, "sweep images", err)
	}
	report.RemovedImages = removedImages

	return report, nil
}

// imageHashFromEntry strips the image cache's directory/".tar" naming so
// it compares equal to the bare hash a job's ImageRef carries.
func imageHashFromEntry(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

// sweepDir lists dir's immediate children and removes any whose name
// keep reports as not live, returning the removed names.
func sweepDir(dir string, keep func(name string) bool, dryRun bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, entry := range entries {
		if keep(entry.Name()) {
			continue
		}
		removed = append(removed, entry.Name())
		if dryRun {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

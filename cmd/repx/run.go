package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/repx-run/repx/internal/app"
	"github.com/repx-run/repx/internal/apperror"
	"github.com/repx-run/repx/internal/config"
	"github.com/repx-run/repx/internal/lab"
	"github.com/repx-run/repx/internal/model"
	"github.com/repx-run/repx/internal/orchestrator"
)

var localJobs int

var runCmd = &cobra.Command{
	Use:   "run [RUN_OR_JOB_ID...]",
	Short: "Submit one or more runs or jobs to a target",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().IntVarP(&localJobs, "jobs", "j", 0, "maximum parallel jobs for the local scheduler")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	l, err := lab.Load(labPath)
	if err != nil {
		return err
	}

	res, err := config.LoadResources(resourcesPath)
	if err != nil {
		return err
	}
	applyResourceOverrides(l, res)

	roots, err := resolveRoots(l, args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	tgt, err := app.BuildTarget(ctx, cfg, app.Options{
		TargetName:    targetFlag,
		SchedulerName: schedulerFlag,
		LocalJobs:     localJobs,
	})
	if err != nil {
		return err
	}

	logger.Info("submitting run", "target", tgt.Name, "roots", roots)

	orch, err := orchestrator.New(l, tgt, roots)
	if err != nil {
		return err
	}

	final, err := orch.Run(ctx)
	if err != nil {
		return err
	}

	for _, id := range roots {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", id, final[id].Kind)
	}

	if orchestrator.FailedOrSkipped(final) {
		os.Exit(1)
	}
	return nil
}

// applyResourceOverrides resolves resources.toml against every job in the
// lab and folds the result into each job's declared resource hints, letting
// an operator retarget partition/mem/time without editing the lab itself.
// A job's own hints still apply to any field resources.toml leaves unset.
func applyResourceOverrides(l *model.Lab, res *config.Resources) {
	for id, job := range l.Jobs {
		job.Resources = mergeResourceHints(job.Resources, res.ResolveForJob(id))
		l.Jobs[id] = job
	}
}

func mergeResourceHints(job, resolved model.ResourceHints) model.ResourceHints {
	merged := job
	if resolved.Partition != "" {
		merged.Partition = resolved.Partition
	}
	if resolved.CPUs > 0 {
		merged.CPUs = resolved.CPUs
	}
	if resolved.Mem != "" {
		merged.Mem = resolved.Mem
	}
	if resolved.Walltime != "" {
		merged.Walltime = resolved.Walltime
	}
	return merged
}

// resolveRoots unions the leaf job ids every run-or-job spec resolves to,
// deduplicated, preserving first-seen order.
func resolveRoots(l *model.Lab, specs []string) ([]model.JobId, error) {
	seen := make(map[model.JobId]bool)
	var roots []model.JobId
	for _, spec := range specs {
		ids, err := orchestrator.ResolveRun(l, spec)
		if err != nil {
			return nil, apperror.New(apperror.KindConfig, "resolve run spec "+spec, err)
		}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			roots = append(roots, id)
		}
	}
	return roots, nil
}

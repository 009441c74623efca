package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/repx-run/repx/internal/app"
	"github.com/repx-run/repx/internal/gc"
	"github.com/repx-run/repx/internal/lab"
)

var gcTarget string
var gcDryRun bool

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove job outputs and cached images the current lab no longer references",
	Args:  cobra.NoArgs,
	RunE:  runGC,
}

func init() {
	gcCmd.Flags().StringVar(&gcTarget, "target", "", "the target to garbage collect (must be defined in config.toml)")
	gcCmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "report what would be removed without removing it")
	rootCmd.AddCommand(gcCmd)
}

func runGC(cmd *cobra.Command, args []string) error {
	l, err := lab.Load(labPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	name := gcTarget
	if name == "" {
		name = targetFlag
	}
	tgt, err := app.BuildTarget(ctx, cfg, app.Options{TargetName: name})
	if err != nil {
		return err
	}

	report, err := gc.Sweep(tgt.Store, l, gcDryRun)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	verb := "removed"
	if gcDryRun {
		verb = "would remove"
	}
	fmt.Fprintf(out, "%s %d job output director%s, %d cached image%s\n",
		verb, len(report.RemovedJobs), suffix(len(report.RemovedJobs), "y", "ies"),
		len(report.RemovedImages), suffix(len(report.RemovedImages), "", "s"))
	return nil
}

func suffix(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

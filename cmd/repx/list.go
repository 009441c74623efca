package main

import (
	"github.com/spf13/cobra"

	"github.com/repx-run/repx/internal/lab"
	"github.com/repx-run/repx/internal/list"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Inspect the lab's runs, jobs, and dependencies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := lab.Load(labPath)
		if err != nil {
			return err
		}
		list.Runs(cmd.OutOrStdout(), l)
		return nil
	},
}

var listJobsCmd = &cobra.Command{
	Use:   "jobs RUN_ID",
	Short: "List the jobs a run contains",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := lab.Load(labPath)
		if err != nil {
			return err
		}
		return list.Jobs(cmd.OutOrStdout(), l, args[0])
	},
}

var listDepsCmd = &cobra.Command{
	Use:   "deps JOB_ID",
	Short: "Print a job's dependency tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := lab.Load(labPath)
		if err != nil {
			return err
		}
		return list.Dependencies(cmd.OutOrStdout(), l, args[0])
	},
}

func init() {
	listCmd.AddCommand(listJobsCmd)
	listCmd.AddCommand(listDepsCmd)
	rootCmd.AddCommand(listCmd)
}
